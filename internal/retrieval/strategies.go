package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/internal/automation"
	"github.com/kiranshivaraju/vehiclefolders/internal/execlog"
	"github.com/kiranshivaraju/vehiclefolders/internal/store"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// Result is what a strategy hands back to the orchestrator.
// Success=false carries the remote ErrorDetail and ends the job as failed.
type Result struct {
	Data        json.RawMessage
	Media       models.MediaRefs
	Success     bool
	ErrorDetail string
}

// call carries everything a single retrieval needs.
type call struct {
	jobID  uuid.UUID
	user   models.UserContext
	params Params
	log    *execlog.Logger
}

type deps struct {
	folders store.FolderStore
	client  automation.Client
}

type endpointFunc func(c automation.Client, ctx context.Context, req automation.Request, log *execlog.Logger) (*automation.Response, error)

type strategy struct {
	validate func(Params) error
	retrieve func(ctx context.Context, d deps, c call) (Result, error)
}

var strategies = map[models.JobType]strategy{
	models.JobTypeInfractions: {
		validate: requireFolder,
		retrieve: retrieveWith(automation.Client.Infractions, fullVehicle),
	},
	models.JobTypeDebt: {
		validate: requireFolder,
		retrieve: retrieveWith(automation.Client.Debt, fullVehicle),
	},
	models.JobTypeRegistrationStatus: {
		validate: requireFolder,
		retrieve: retrieveWith(automation.Client.RegistrationStatus, plateOnly),
	},
	models.JobTypePaymentAgreement: {
		validate: requireFolder,
		retrieve: retrieveWith(automation.Client.PaymentAgreement, fullVehicle),
	},
	models.JobTypeCertificateRequest: {
		validate: requireRequester,
		retrieve: retrieveWith(automation.Client.CertificateRequest, fullVehicle),
	},
	models.JobTypeCertificateIssuance: {
		validate: requireRequestNumber,
		retrieve: retrieveWith(automation.Client.CertificateIssuance, fullVehicle),
	},
}

func lookupStrategy(jt models.JobType) (strategy, error) {
	s, ok := strategies[jt]
	if !ok {
		return strategy{}, fmt.Errorf("%w: %q", ErrUnknownJobType, jt)
	}
	return s, nil
}

func fullVehicle(f *models.Folder) automation.VehicleData {
	return automation.VehicleData{
		Plate:        f.Plate,
		Registration: f.Registration,
		Department:   f.Department,
	}
}

func plateOnly(f *models.Folder) automation.VehicleData {
	return automation.VehicleData{Plate: f.Plate}
}

func retrieveWith(endpoint endpointFunc, vehicle func(*models.Folder) automation.VehicleData) func(context.Context, deps, call) (Result, error) {
	return func(ctx context.Context, d deps, c call) (Result, error) {
		folder, err := resolveFolder(ctx, d.folders, c.params.FolderID, c.user)
		if err != nil {
			return Result{}, err
		}
		c.log.Info("folder resolved", map[string]any{
			"folderId": folder.ID,
			"plate":    folder.Plate,
		})

		resp, err := endpoint(d.client, ctx, automation.Request{
			UserID:        c.user.UserID.String(),
			VehicleData:   vehicle(folder),
			RequestNumber: strings.TrimSpace(c.params.RequestNumber),
			RequesterData: c.params.Requester,
			JobID:         c.jobID,
		}, c.log)
		if err != nil {
			return Result{}, err
		}

		if !resp.Success {
			c.log.Warn("automation service reported failure", map[string]any{"error": resp.Error})
			return Result{Success: false, ErrorDetail: resp.Error}, nil
		}
		return Result{
			Data: resp.Data,
			Media: models.MediaRefs{
				Images:    resp.ImageURLs,
				Documents: resp.DocumentURLs,
				Videos:    resp.VideoURLs,
			},
			Success: true,
		}, nil
	}
}

func resolveFolder(ctx context.Context, folders store.FolderStore, id uuid.UUID, user models.UserContext) (*models.Folder, error) {
	folder, err := folders.GetFolder(ctx, id, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s: %w", ErrFolderNotFound, id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading folder: %w", err)
	}
	if strings.TrimSpace(folder.Plate) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingVehicleData, id)
	}
	return folder, nil
}
