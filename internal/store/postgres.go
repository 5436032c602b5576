package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Folders ---

func (s *PostgresStore) CreateFolder(ctx context.Context, f *models.Folder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO folders (id, user_id, name, plate, registration, department, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.UserID, f.Name, f.Plate, f.Registration, f.Department, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Folder, error) {
	var f models.Folder
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, plate, registration, department, created_at, updated_at
		 FROM folders WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&f.ID, &f.UserID, &f.Name, &f.Plate, &f.Registration, &f.Department, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return &f, nil
}

// DeleteFolder removes a folder together with its retrieval history.
// Jobs carry no foreign key so that a run against a missing folder can still be recorded as failed.
func (s *PostgresStore) DeleteFolder(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete folder: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM folders WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM retrieval_jobs WHERE folder_id = $1`, id); err != nil {
		return fmt.Errorf("delete folder jobs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("delete folder: commit: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Retrieval Jobs ---

const jobColumns = `id, folder_id, user_id, job_type, status, params, result_data,
	image_urls, document_urls, video_urls, logs, error_message,
	started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.RetrievalJob, error) {
	var (
		j                  models.RetrievalJob
		params, data, logs []byte
	)
	err := row.Scan(&j.ID, &j.FolderID, &j.UserID, &j.JobType, &j.Status, &params, &data,
		&j.Media.Images, &j.Media.Documents, &j.Media.Videos, &logs, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Params = params
	j.ResultData = data
	j.Media = j.Media.Normalize()
	j.Logs = []models.LogEntry{}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &j.Logs); err != nil {
			return nil, fmt.Errorf("decode job logs: %w", err)
		}
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*models.RetrievalJob, error) {
	defer rows.Close()
	jobs := []*models.RetrievalJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retrieval job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateRetrievalJob(ctx context.Context, job *models.RetrievalJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO retrieval_jobs (id, folder_id, user_id, job_type, status, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.FolderID, job.UserID, job.JobType, job.Status, nullableJSON(job.Params),
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create retrieval job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRetrievalJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.RetrievalJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM retrieval_jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get retrieval job: %w", err)
	}
	return j, nil
}

// UpdateRetrievalJob performs the transition in a single conditional UPDATE so two writers
// can never interleave on one record.
func (s *PostgresStore) UpdateRetrievalJob(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.RetrievalJob, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	from := predecessors(status)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: nothing transitions to %s", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	sets := []string{"status = $2", "updated_at = $3"}
	args := []any{id, status, now, from}
	argIdx := 5

	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, v)
		argIdx++
	}

	switch status {
	case models.JobStatusInProgress:
		add("started_at", now)
	case models.JobStatusCompleted:
		add("completed_at", now)
		add("result_data", nullableJSON(params.ResultData))
		media := models.MediaRefs{}
		if params.Media != nil {
			media = *params.Media
		}
		media = media.Normalize()
		add("image_urls", media.Images)
		add("document_urls", media.Documents)
		add("video_urls", media.Videos)
		if err := addLogs(add, params.Logs); err != nil {
			return nil, err
		}
	case models.JobStatusFailed:
		add("completed_at", now)
		sets = append(sets, "image_urls = '{}'", "document_urls = '{}'", "video_urls = '{}'")
		if params.ErrorMessage != nil {
			add("error_message", *params.ErrorMessage)
		}
		if err := addLogs(add, params.Logs); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf(`UPDATE retrieval_jobs SET %s WHERE id = $1 AND status = ANY($4) RETURNING %s`,
		strings.Join(sets, ", "), jobColumns)

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update retrieval job: %w", err)
	}

	var current models.JobStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM retrieval_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get retrieval job status: %w", err)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func addLogs(add func(string, any), logs []models.LogEntry) error {
	if logs == nil {
		logs = []models.LogEntry{}
	}
	b, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encode job logs: %w", err)
	}
	add("logs", b)
	return nil
}

func (s *PostgresStore) FindLatestByFolderAndType(ctx context.Context, folderID uuid.UUID, jobType models.JobType) (*models.RetrievalJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM retrieval_jobs
		 WHERE folder_id = $1 AND job_type = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`, folderID, jobType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest retrieval job: %w", err)
	}
	return j, nil
}

// ListByFolder returns every job of a folder in creation order.
func (s *PostgresStore) ListByFolder(ctx context.Context, folderID uuid.UUID) ([]*models.RetrievalJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM retrieval_jobs WHERE folder_id = $1 ORDER BY created_at ASC, id ASC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list retrieval jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListLatestByFolder returns the most recent job of each type for a folder.
func (s *PostgresStore) ListLatestByFolder(ctx context.Context, folderID uuid.UUID) ([]*models.RetrievalJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (job_type) `+jobColumns+` FROM retrieval_jobs
		 WHERE folder_id = $1 ORDER BY job_type, created_at DESC, id DESC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list latest retrieval jobs: %w", err)
	}
	return scanJobs(rows)
}

func (s *PostgresStore) FindLatestByTypeForUser(ctx context.Context, userID uuid.UUID, jobType models.JobType) (*models.RetrievalJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM retrieval_jobs
		 WHERE user_id = $1 AND job_type = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`, userID, jobType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest retrieval job for user: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) DeleteRetrievalJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM retrieval_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete retrieval job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteByFolder(ctx context.Context, folderID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM retrieval_jobs WHERE folder_id = $1`, folderID)
	if err != nil {
		return 0, fmt.Errorf("delete retrieval jobs by folder: %w", err)
	}
	return tag.RowsAffected(), nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
