// Package retrieval runs vehicle data retrieval jobs from creation to a terminal state.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/internal/automation"
	"github.com/kiranshivaraju/vehiclefolders/internal/cache"
	"github.com/kiranshivaraju/vehiclefolders/internal/execlog"
	"github.com/kiranshivaraju/vehiclefolders/internal/store"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

const (
	statusTTL          = 30 * time.Minute
	latestTTL          = 24 * time.Hour
	maxErrorMessageLen = 2000
)

// Options configures an Orchestrator. Cache, Logger and Now are optional.
type Options struct {
	Jobs    store.JobStore
	Folders store.FolderStore
	Client  automation.Client
	Cache   cache.Cache
	Logger  *slog.Logger
	Now     func() time.Time
}

// Orchestrator creates retrieval jobs and drives each one through
// pending → in_progress → completed|failed.
type Orchestrator struct {
	jobs   store.JobStore
	deps   deps
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		jobs:   opts.Jobs,
		deps:   deps{folders: opts.Folders, client: opts.Client},
		cache:  opts.Cache,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Validate checks params against the rules of jobType without side effects.
func (o *Orchestrator) Validate(jobType models.JobType, params Params) error {
	s, err := lookupStrategy(jobType)
	if err != nil {
		return err
	}
	return s.validate(params)
}

// Run executes one job synchronously and returns its terminal record.
// Validation errors are returned before any record exists. Any later failure is first
// recorded on the job, then returned together with the failed record.
func (o *Orchestrator) Run(ctx context.Context, folderID uuid.UUID, jobType models.JobType, params Params, user models.UserContext) (*models.RetrievalJob, error) {
	s, params, err := o.prepare(folderID, jobType, params)
	if err != nil {
		return nil, err
	}
	job, err := o.create(ctx, jobType, params, user)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, s, job, params, user)
}

// Submit validates params and creates the pending record, then executes the job in a
// background goroutine. The returned record is still pending.
func (o *Orchestrator) Submit(ctx context.Context, folderID uuid.UUID, jobType models.JobType, params Params, user models.UserContext) (*models.RetrievalJob, error) {
	s, params, err := o.prepare(folderID, jobType, params)
	if err != nil {
		return nil, err
	}
	job, err := o.create(ctx, jobType, params, user)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.execute(bg, s, job.Clone(), params, user); err != nil {
			o.logger.Warn("background retrieval failed",
				"job_id", job.ID, "job_type", jobType, "error", err)
		}
	}()

	return job, nil
}

// Wait blocks until every job started by Submit has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) prepare(folderID uuid.UUID, jobType models.JobType, params Params) (strategy, Params, error) {
	s, err := lookupStrategy(jobType)
	if err != nil {
		return strategy{}, params, err
	}
	if params.FolderID == uuid.Nil {
		params.FolderID = folderID
	}
	if params.FolderID != folderID {
		return strategy{}, params, &ValidationError{Field: "folderId", Message: "does not match the target folder"}
	}
	if err := s.validate(params); err != nil {
		return strategy{}, params, err
	}
	return s, params, nil
}

func (o *Orchestrator) create(ctx context.Context, jobType models.JobType, params Params, user models.UserContext) (*models.RetrievalJob, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}

	now := o.now().UTC()
	job := &models.RetrievalJob{
		ID:        uuid.New(),
		FolderID:  params.FolderID,
		UserID:    user.UserID,
		JobType:   jobType,
		Status:    models.JobStatusPending,
		Params:    raw,
		Media:     models.MediaRefs{}.Normalize(),
		Logs:      []models.LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.jobs.CreateRetrievalJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating retrieval job: %w", err)
	}

	o.mirror(ctx, job)
	o.rememberLatest(ctx, job)
	return job, nil
}

// execute runs the strategy for an already created job. The deferred land call
// always writes a terminal state, including when the strategy panics.
func (o *Orchestrator) execute(ctx context.Context, s strategy, job *models.RetrievalJob, params Params, user models.UserContext) (out *models.RetrievalJob, err error) {
	f := o.begin(job)
	defer func() {
		out, err = f.land(ctx, recover(), err)
	}()

	running, err := o.jobs.UpdateRetrievalJob(ctx, job.ID, models.JobStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("marking job in progress: %w", err)
	}
	f.job = running
	o.mirror(ctx, running)

	f.log.Info("retrieval started", map[string]any{
		"jobId":    job.ID,
		"jobType":  job.JobType,
		"folderId": job.FolderID,
	})

	res, err := s.retrieve(ctx, o.deps, call{jobID: job.ID, user: user, params: params, log: f.log})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &DomainFailure{JobType: job.JobType, Detail: res.ErrorDetail}
	}
	f.result = &res
	return nil, nil
}

// flight is one job between creation and its terminal write.
type flight struct {
	o      *Orchestrator
	job    *models.RetrievalJob
	log    *execlog.Logger
	slog   *slog.Logger
	result *Result
}

func (o *Orchestrator) begin(job *models.RetrievalJob) *flight {
	sl := o.logger.With("job_id", job.ID, "job_type", job.JobType, "folder_id", job.FolderID)
	return &flight{o: o, job: job, log: execlog.New(sl), slog: sl}
}

// land writes the terminal state. Terminal writes ignore cancellation of ctx.
func (f *flight) land(ctx context.Context, recovered any, runErr error) (*models.RetrievalJob, error) {
	ctx = context.WithoutCancel(ctx)

	if recovered != nil {
		f.slog.Error("panic in retrieval", "error", recovered)
		runErr = fmt.Errorf("%w: %v", ErrPanic, recovered)
	}

	if runErr == nil && f.result != nil {
		done, err := f.complete(ctx)
		if err == nil {
			return done, nil
		}
		runErr = fmt.Errorf("recording completion: %w", err)
	}
	if runErr == nil {
		runErr = errors.New("retrieval ended without a result")
	}

	f.log.Error("retrieval failed", map[string]any{
		"error": runErr.Error(),
		"kind":  failureKind(runErr),
	})
	logs := f.log.Seal()

	failed, err := f.o.jobs.UpdateRetrievalJob(ctx, f.job.ID, models.JobStatusFailed,
		store.WithLogs(logs),
		store.WithErrorMessage(truncateString(runErr.Error(), maxErrorMessageLen)))
	if err != nil {
		f.slog.Error("recording job failure", "error", err, "cause", runErr)
		return f.job, runErr
	}
	f.o.mirror(ctx, failed)
	return failed, runErr
}

func (f *flight) complete(ctx context.Context) (*models.RetrievalJob, error) {
	media := f.result.Media.Normalize()
	f.log.Info("retrieval completed", map[string]any{
		"images":    len(media.Images),
		"documents": len(media.Documents),
		"videos":    len(media.Videos),
	})

	done, err := f.o.jobs.UpdateRetrievalJob(ctx, f.job.ID, models.JobStatusCompleted,
		store.WithResult(f.result.Data, media),
		store.WithLogs(f.log.Logs()))
	if err != nil {
		return nil, err
	}
	f.log.Seal()
	f.o.mirror(ctx, done)
	return done, nil
}

// mirror copies the job status into the cache. Cache errors never affect a run.
func (o *Orchestrator) mirror(ctx context.Context, job *models.RetrievalJob) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetJobStatus(ctx, job.UserID, job.ID, job.Status, statusTTL); err != nil {
		o.logger.Warn("caching job status", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) rememberLatest(ctx context.Context, job *models.RetrievalJob) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetLatestJob(ctx, job.UserID, job.JobType, job.ID, job.CreatedAt, latestTTL); err != nil {
		o.logger.Warn("caching latest job", "job_id", job.ID, "error", err)
	}
}

func failureKind(err error) string {
	var (
		te *automation.TransportError
		df *DomainFailure
	)
	switch {
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &df):
		return "domain"
	case errors.Is(err, ErrFolderNotFound), errors.Is(err, ErrMissingVehicleData):
		return "folder"
	case errors.Is(err, ErrPanic):
		return "panic"
	default:
		return "internal"
	}
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
