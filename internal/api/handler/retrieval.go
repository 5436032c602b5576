package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/vehiclefolders/internal/api/middleware"
	"github.com/kiranshivaraju/vehiclefolders/internal/api/response"
	"github.com/kiranshivaraju/vehiclefolders/internal/automation"
	"github.com/kiranshivaraju/vehiclefolders/internal/retrieval"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	maxRequestBody   = 1 << 20
)

// Retriever defines the interface the retrieval handlers depend on.
type Retriever interface {
	Run(ctx context.Context, folderID uuid.UUID, jobType models.JobType, params retrieval.Params, user models.UserContext) (*models.RetrievalJob, error)
	Submit(ctx context.Context, folderID uuid.UUID, jobType models.JobType, params retrieval.Params, user models.UserContext) (*models.RetrievalJob, error)
	Get(ctx context.Context, id uuid.UUID, user models.UserContext) (*models.RetrievalJob, error)
	Status(ctx context.Context, id uuid.UUID, user models.UserContext) (models.JobStatus, error)
	Latest(ctx context.Context, folderID uuid.UUID, jobType models.JobType, user models.UserContext) (*models.RetrievalJob, error)
	History(ctx context.Context, folderID uuid.UUID, user models.UserContext) ([]*models.RetrievalJob, error)
	LatestPerType(ctx context.Context, folderID uuid.UUID, user models.UserContext) ([]*models.RetrievalJob, error)
	LatestForUser(ctx context.Context, jobType models.JobType, user models.UserContext) (*models.RetrievalJob, error)
}

type startRequest struct {
	RequestNumber string                `json:"requestNumber"`
	RequesterData *models.RequesterData `json:"requesterData"`
}

// NewStartRetrievalHandler returns an http.HandlerFunc for
// POST /api/v1/folders/{folderID}/retrievals/{jobType}.
// The job runs in the background unless ?wait=true is given.
func NewStartRetrievalHandler(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(w, r)
		if !ok {
			return
		}
		folderID, ok := uuidParam(w, r, "folderID")
		if !ok {
			return
		}
		jobType := models.JobType(chi.URLParam(r, "jobType"))

		var req startRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		params := retrieval.Params{
			FolderID:      folderID,
			RequestNumber: req.RequestNumber,
			Requester:     req.RequesterData,
		}

		if r.URL.Query().Get("wait") != "true" {
			job, err := svc.Submit(r.Context(), folderID, jobType, params, user)
			if err != nil {
				writeRetrievalError(w, err, nil)
				return
			}
			response.Accepted(w, job.View())
			return
		}

		job, err := svc.Run(r.Context(), folderID, jobType, params, user)
		if err != nil {
			writeRetrievalError(w, err, job)
			return
		}
		response.JSON(w, job.View())
	}
}

// NewGetRetrievalHandler returns an http.HandlerFunc for GET /api/v1/retrievals/{jobID}.
func NewGetRetrievalHandler(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		job, err := svc.Get(r.Context(), jobID, user)
		if err != nil {
			writeRetrievalError(w, err, nil)
			return
		}
		response.JSON(w, job.View())
	}
}

// NewRetrievalLogsHandler returns an http.HandlerFunc for GET /api/v1/retrievals/{jobID}/logs.
func NewRetrievalLogsHandler(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		job, err := svc.Get(r.Context(), jobID, user)
		if err != nil {
			writeRetrievalError(w, err, nil)
			return
		}
		logs := job.Logs
		if logs == nil {
			logs = []models.LogEntry{}
		}
		response.JSON(w, logsResponse{JobID: job.ID, Status: job.Status, Logs: logs})
	}
}

// NewRetrievalStatusHandler returns an http.HandlerFunc for GET /api/v1/retrievals/{jobID}/status.
func NewRetrievalStatusHandler(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		status, err := svc.Status(r.Context(), jobID, user)
		if err != nil {
			writeRetrievalError(w, err, nil)
			return
		}
		response.JSON(w, statusResponse{JobID: jobID, Status: status})
	}
}

// NewFolderRetrievalsHandler returns an http.HandlerFunc for GET /api/v1/folders/{folderID}/retrievals.
// ?latest=true returns the most recent job per type instead of the paginated history.
func NewFolderRetrievalsHandler(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(w, r)
		if !ok {
			return
		}
		folderID, ok := uuidParam(w, r, "folderID")
		if !ok {
			return
		}

		if r.URL.Query().Get("latest") == "true" {
			jobs, err := svc.LatestPerType(r.Context(), folderID, user)
			if err != nil {
				writeRetrievalError(w, err, nil)
				return
			}
			response.JSON(w, views(jobs))
			return
		}

		page, limit, ok := pagination(w, r)
		if !ok {
			return
		}
		jobs, err := svc.History(r.Context(), folderID, user)
		if err != nil {
			writeRetrievalError(w, err, nil)
			return
		}

		total := len(jobs)
		start := (page - 1) * limit
		if start > total {
			start = total
		}
		end := start + limit
		if end > total {
			end = total
		}
		response.Collection(w, views(jobs[start:end]), response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: end < total,
		})
	}
}

// NewLatestRetrievalHandler returns an http.HandlerFunc for
// GET /api/v1/folders/{folderID}/retrievals/{jobType}/latest.
func NewLatestRetrievalHandler(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(w, r)
		if !ok {
			return
		}
		folderID, ok := uuidParam(w, r, "folderID")
		if !ok {
			return
		}
		job, err := svc.Latest(r.Context(), folderID, models.JobType(chi.URLParam(r, "jobType")), user)
		if err != nil {
			writeRetrievalError(w, err, nil)
			return
		}
		response.JSON(w, job.View())
	}
}

// NewPrefillHandler returns an http.HandlerFunc for GET /api/v1/retrievals/latest/{jobType}.
// It exposes the params of the user's latest job of that type so clients can prefill a repeat request.
func NewPrefillHandler(svc Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(w, r)
		if !ok {
			return
		}
		job, err := svc.LatestForUser(r.Context(), models.JobType(chi.URLParam(r, "jobType")), user)
		if err != nil {
			writeRetrievalError(w, err, nil)
			return
		}

		var params retrieval.Params
		if len(job.Params) > 0 {
			if err := json.Unmarshal(job.Params, &params); err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Stored parameters are unreadable", nil)
				return
			}
		}
		response.JSON(w, prefillResponse{
			Job:           job.View(),
			RequestNumber: params.RequestNumber,
			RequesterData: params.Requester,
		})
	}
}

type statusResponse struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

type logsResponse struct {
	JobID  uuid.UUID         `json:"job_id"`
	Status models.JobStatus  `json:"status"`
	Logs   []models.LogEntry `json:"logs"`
}

type prefillResponse struct {
	Job           models.RetrievalJobView `json:"job"`
	RequestNumber string                  `json:"request_number,omitempty"`
	RequesterData *models.RequesterData   `json:"requester_data,omitempty"`
}

// writeRetrievalError maps orchestrator errors to HTTP responses. job is the
// failed record returned alongside err, when there is one.
func writeRetrievalError(w http.ResponseWriter, err error, job *models.RetrievalJob) {
	var (
		ve *retrieval.ValidationError
		te *automation.TransportError
		df *retrieval.DomainFailure
	)
	switch {
	case errors.As(err, &ve):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error(),
			map[string]string{"field": ve.Field})
	case errors.Is(err, retrieval.ErrUnknownJobType):
		response.Error(w, http.StatusBadRequest, "UNKNOWN_JOB_TYPE", "Unknown retrieval job type", nil)
	case errors.Is(err, retrieval.ErrFolderNotFound):
		writeWithJob(w, http.StatusNotFound, "FOLDER_NOT_FOUND", "Folder not found", job)
	case errors.Is(err, retrieval.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Retrieval job not found", nil)
	case errors.Is(err, retrieval.ErrMissingVehicleData):
		writeWithJob(w, http.StatusUnprocessableEntity, "MISSING_VEHICLE_DATA", "Folder has no vehicle plate", job)
	case errors.As(err, &df):
		writeWithJob(w, http.StatusBadGateway, "RETRIEVAL_FAILED", df.Error(), job)
	case errors.Is(err, automation.ErrTimeout):
		writeWithJob(w, http.StatusGatewayTimeout, "AUTOMATION_TIMEOUT", "The automation service took too long", job)
	case errors.As(err, &te):
		writeWithJob(w, http.StatusBadGateway, "AUTOMATION_UNAVAILABLE", te.Error(), job)
	default:
		writeWithJob(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", job)
	}
}

func writeWithJob(w http.ResponseWriter, status int, code, message string, job *models.RetrievalJob) {
	if job == nil {
		response.Error(w, status, code, message, nil)
		return
	}
	response.ErrorWithData(w, status, code, message, job.View())
}

func userFrom(w http.ResponseWriter, r *http.Request) (models.UserContext, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return models.UserContext{}, false
	}
	return models.UserContext{UserID: userID}, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	page, limit = 1, defaultPageLimit
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return 0, 0, false
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return 0, 0, false
		}
		limit = min(n, maxPageLimit)
	}
	return page, limit, true
}

// decodeOptionalBody decodes a JSON body into v; an empty body is fine.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func views(jobs []*models.RetrievalJob) []models.RetrievalJobView {
	out := make([]models.RetrievalJobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.View())
	}
	return out
}
