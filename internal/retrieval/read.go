package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/internal/store"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// Get returns one job owned by user.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID, user models.UserContext) (*models.RetrievalJob, error) {
	job, err := o.jobs.GetRetrievalJob(ctx, id, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading retrieval job: %w", err)
	}
	return job, nil
}

// Status returns a job's lifecycle status. The cached mirror answers first; a
// miss reads the store without refilling the mirror, which only the run writes.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID, user models.UserContext) (models.JobStatus, error) {
	if o.cache != nil {
		status, found, err := o.cache.GetJobStatus(ctx, user.UserID, id)
		if err != nil {
			o.logger.Warn("reading job status", "job_id", id, "error", err)
		}
		if err == nil && found {
			return status, nil
		}
	}
	job, err := o.Get(ctx, id, user)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Latest returns the most recent job of jobType for a folder.
func (o *Orchestrator) Latest(ctx context.Context, folderID uuid.UUID, jobType models.JobType, user models.UserContext) (*models.RetrievalJob, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	if err := o.checkFolder(ctx, folderID, user); err != nil {
		return nil, err
	}
	job, err := o.jobs.FindLatestByFolderAndType(ctx, folderID, jobType)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no %s job for folder %s", ErrJobNotFound, jobType, folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest job: %w", err)
	}
	return job, nil
}

// History returns every job of a folder in creation order.
func (o *Orchestrator) History(ctx context.Context, folderID uuid.UUID, user models.UserContext) ([]*models.RetrievalJob, error) {
	if err := o.checkFolder(ctx, folderID, user); err != nil {
		return nil, err
	}
	jobs, err := o.jobs.ListByFolder(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// LatestPerType returns the most recent job of each type that a folder has run.
func (o *Orchestrator) LatestPerType(ctx context.Context, folderID uuid.UUID, user models.UserContext) ([]*models.RetrievalJob, error) {
	if err := o.checkFolder(ctx, folderID, user); err != nil {
		return nil, err
	}
	jobs, err := o.jobs.ListLatestByFolder(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing latest jobs: %w", err)
	}
	return jobs, nil
}

// LatestForUser returns the user's most recent job of jobType across all of their folders.
// Its persisted params are used to prefill repeat requests.
func (o *Orchestrator) LatestForUser(ctx context.Context, jobType models.JobType, user models.UserContext) (*models.RetrievalJob, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	if job := o.cachedLatest(ctx, jobType, user); job != nil {
		return job, nil
	}

	job, err := o.jobs.FindLatestByTypeForUser(ctx, user.UserID, jobType)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no %s job for user", ErrJobNotFound, jobType)
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest job for user: %w", err)
	}
	o.rememberLatest(ctx, job)
	return job, nil
}

// cachedLatest follows the cached pointer. A pointer to a job the store no longer
// returns is dropped so the store lookup can replace it.
func (o *Orchestrator) cachedLatest(ctx context.Context, jobType models.JobType, user models.UserContext) *models.RetrievalJob {
	if o.cache == nil {
		return nil
	}
	id, found, err := o.cache.GetLatestJob(ctx, user.UserID, jobType)
	if err != nil {
		o.logger.Warn("reading latest job pointer", "user_id", user.UserID, "job_type", jobType, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	job, err := o.jobs.GetRetrievalJob(ctx, id, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		_ = o.cache.ForgetLatestJob(ctx, user.UserID, jobType)
		return nil
	}
	if err != nil {
		return nil
	}
	return job
}

func (o *Orchestrator) checkFolder(ctx context.Context, folderID uuid.UUID, user models.UserContext) error {
	_, err := o.deps.folders.GetFolder(ctx, folderID, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrFolderNotFound, folderID, err)
	}
	if err != nil {
		return fmt.Errorf("loading folder: %w", err)
	}
	return nil
}
