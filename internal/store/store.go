package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// JobStore persists retrieval job records and owns their lifecycle state.
type JobStore interface {
	CreateRetrievalJob(ctx context.Context, job *models.RetrievalJob) error
	GetRetrievalJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.RetrievalJob, error)
	// UpdateRetrievalJob moves a job to status and returns the stored record.
	// Returns ErrInvalidTransition if the current status does not allow it.
	UpdateRetrievalJob(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.RetrievalJob, error)
	FindLatestByFolderAndType(ctx context.Context, folderID uuid.UUID, jobType models.JobType) (*models.RetrievalJob, error)
	ListByFolder(ctx context.Context, folderID uuid.UUID) ([]*models.RetrievalJob, error)
	ListLatestByFolder(ctx context.Context, folderID uuid.UUID) ([]*models.RetrievalJob, error)
	FindLatestByTypeForUser(ctx context.Context, userID uuid.UUID, jobType models.JobType) (*models.RetrievalJob, error)
	DeleteRetrievalJob(ctx context.Context, id uuid.UUID) error
	DeleteByFolder(ctx context.Context, folderID uuid.UUID) (int64, error)
}

// FolderStore resolves the folders retrieval jobs run against.
type FolderStore interface {
	// GetFolder returns ErrNotFound when the folder is missing or owned by another user.
	GetFolder(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Folder, error)
}

// APIKeyStore backs API key authentication.
type APIKeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	JobStore
	FolderStore
	APIKeyStore
}

type jobUpdateParams struct {
	ResultData   json.RawMessage
	Media        *models.MediaRefs
	Logs         []models.LogEntry
	ErrorMessage *string
}

type JobUpdateOption func(*jobUpdateParams)

// WithResult sets result data and media. Only applied on the completed transition.
func WithResult(data json.RawMessage, media models.MediaRefs) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultData = data
		p.Media = &media
	}
}

// WithLogs sets the job's execution log. Only applied on terminal transitions.
func WithLogs(logs []models.LogEntry) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Logs = logs
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// ApplyJobUpdate resolves opts into the fields a transition to status would write onto job.
// Store implementations without SQL use it to share the same field rules.
func ApplyJobUpdate(job *models.RetrievalJob, status models.JobStatus, opts ...JobUpdateOption) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	job.Status = status
	switch status {
	case models.JobStatusCompleted:
		job.ResultData = params.ResultData
		if params.Media != nil {
			job.Media = params.Media.Normalize()
		}
		job.Logs = params.Logs
	case models.JobStatusFailed:
		job.Media = models.MediaRefs{}.Normalize()
		job.Logs = params.Logs
		job.ErrorMessage = params.ErrorMessage
	}
}

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusInProgress, models.JobStatusFailed},
	models.JobStatusInProgress: {models.JobStatusCompleted, models.JobStatusFailed},
}

// CanTransition reports whether a job in from may move to to.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// predecessors returns every status from which to is reachable.
func predecessors(to models.JobStatus) []string {
	var out []string
	for from, targets := range validTransitions {
		for _, t := range targets {
			if t == to {
				out = append(out, string(from))
			}
		}
	}
	return out
}
