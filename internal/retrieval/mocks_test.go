package retrieval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/internal/automation"
	"github.com/kiranshivaraju/vehiclefolders/internal/execlog"
	"github.com/kiranshivaraju/vehiclefolders/internal/store"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.RetrievalJob
	order     []uuid.UUID
	folders   map[uuid.UUID]*models.Folder
	updates   []statusUpdate
	createErr error
	// updateErr fails the transition to the given status.
	updateErr map[models.JobStatus]error
}

type statusUpdate struct {
	ID     uuid.UUID
	Status models.JobStatus
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:      make(map[uuid.UUID]*models.RetrievalJob),
		folders:   make(map[uuid.UUID]*models.Folder),
		updateErr: make(map[models.JobStatus]error),
	}
}

func (s *mockStore) addFolder(f *models.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[f.ID] = f
}

func (s *mockStore) GetFolder(_ context.Context, id uuid.UUID, userID uuid.UUID) (*models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok || f.UserID != userID {
		return nil, store.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (s *mockStore) CreateRetrievalJob(_ context.Context, job *models.RetrievalJob) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	s.updates = append(s.updates, statusUpdate{ID: job.ID, Status: job.Status})
	return nil
}

func (s *mockStore) GetRetrievalJob(_ context.Context, id uuid.UUID, userID uuid.UUID) (*models.RetrievalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, store.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *mockStore) UpdateRetrievalJob(_ context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) (*models.RetrievalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[status]; err != nil {
		return nil, err
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !store.CanTransition(j.Status, status) {
		return nil, store.ErrInvalidTransition
	}
	store.ApplyJobUpdate(j, status, opts...)
	now := time.Now().UTC()
	j.UpdatedAt = now
	switch status {
	case models.JobStatusInProgress:
		j.StartedAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed:
		j.CompletedAt = &now
	}
	s.updates = append(s.updates, statusUpdate{ID: id, Status: status})
	return j.Clone(), nil
}

// sorted returns jobs matching keep in creation order.
func (s *mockStore) sorted(keep func(*models.RetrievalJob) bool) []*models.RetrievalJob {
	var out []*models.RetrievalJob
	for _, id := range s.order {
		if j := s.jobs[id]; keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (s *mockStore) FindLatestByFolderAndType(_ context.Context, folderID uuid.UUID, jobType models.JobType) (*models.RetrievalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.sorted(func(j *models.RetrievalJob) bool { return j.FolderID == folderID && j.JobType == jobType })
	if len(jobs) == 0 {
		return nil, store.ErrNotFound
	}
	return jobs[len(jobs)-1], nil
}

func (s *mockStore) ListByFolder(_ context.Context, folderID uuid.UUID) ([]*models.RetrievalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(j *models.RetrievalJob) bool { return j.FolderID == folderID }), nil
}

func (s *mockStore) ListLatestByFolder(_ context.Context, folderID uuid.UUID) ([]*models.RetrievalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[models.JobType]*models.RetrievalJob{}
	for _, j := range s.sorted(func(j *models.RetrievalJob) bool { return j.FolderID == folderID }) {
		latest[j.JobType] = j
	}
	var out []*models.RetrievalJob
	for _, jt := range models.AllJobTypes() {
		if j, ok := latest[jt]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *mockStore) FindLatestByTypeForUser(_ context.Context, userID uuid.UUID, jobType models.JobType) (*models.RetrievalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.sorted(func(j *models.RetrievalJob) bool { return j.UserID == userID && j.JobType == jobType })
	if len(jobs) == 0 {
		return nil, store.ErrNotFound
	}
	return jobs[len(jobs)-1], nil
}

func (s *mockStore) DeleteRetrievalJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *mockStore) DeleteByFolder(_ context.Context, folderID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.FolderID == folderID {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *mockStore) statusesOf(id uuid.UUID) []models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobStatus
	for _, u := range s.updates {
		if u.ID == id {
			out = append(out, u.Status)
		}
	}
	return out
}

type clientCall struct {
	Endpoint string
	Request  automation.Request
}

// mockClient behaves like the HTTP client: it logs the call and merges resp.Logs into log.
type mockClient struct {
	mu      sync.Mutex
	calls   []clientCall
	respond func(endpoint string, req automation.Request) (*automation.Response, error)
}

func (c *mockClient) do(endpoint string, req automation.Request, log *execlog.Logger) (*automation.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, clientCall{Endpoint: endpoint, Request: req})
	c.mu.Unlock()

	log.Info("calling automation service", map[string]any{"endpoint": endpoint})
	if c.respond == nil {
		return &automation.Response{Data: []byte(`{}`), Success: true}, nil
	}
	resp, err := c.respond(endpoint, req)
	if resp != nil {
		log.AddLogs(resp.Logs)
	}
	return resp, err
}

func (c *mockClient) Infractions(_ context.Context, req automation.Request, log *execlog.Logger) (*automation.Response, error) {
	return c.do(automation.EndpointInfractions, req, log)
}
func (c *mockClient) Debt(_ context.Context, req automation.Request, log *execlog.Logger) (*automation.Response, error) {
	return c.do(automation.EndpointDebt, req, log)
}
func (c *mockClient) RegistrationStatus(_ context.Context, req automation.Request, log *execlog.Logger) (*automation.Response, error) {
	return c.do(automation.EndpointRegistrationStatus, req, log)
}
func (c *mockClient) PaymentAgreement(_ context.Context, req automation.Request, log *execlog.Logger) (*automation.Response, error) {
	return c.do(automation.EndpointPaymentAgreement, req, log)
}
func (c *mockClient) CertificateRequest(_ context.Context, req automation.Request, log *execlog.Logger) (*automation.Response, error) {
	return c.do(automation.EndpointCertificateRequest, req, log)
}
func (c *mockClient) CertificateIssuance(_ context.Context, req automation.Request, log *execlog.Logger) (*automation.Response, error) {
	return c.do(automation.EndpointCertificateIssuance, req, log)
}
func (c *mockClient) Ready(_ context.Context) error { return nil }

func (c *mockClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *mockClient) lastCall() clientCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

type latestKey struct {
	user    uuid.UUID
	jobType models.JobType
}

type statusKey struct {
	user uuid.UUID
	job  uuid.UUID
}

type latestEntry struct {
	id uuid.UUID
	at time.Time
}

// after reports whether e sorts after other in (created_at, id) order.
func (e latestEntry) after(other latestEntry) bool {
	if !e.at.Equal(other.at) {
		return e.at.After(other.at)
	}
	return e.id.String() > other.id.String()
}

type mockCache struct {
	mu       sync.Mutex
	statuses map[statusKey][]models.JobStatus
	latest   map[latestKey]latestEntry
	err      error
}

func newMockCache() *mockCache {
	return &mockCache{
		statuses: make(map[statusKey][]models.JobStatus),
		latest:   make(map[latestKey]latestEntry),
	}
}

func (c *mockCache) Ping(_ context.Context) error { return c.err }

func (c *mockCache) SetJobStatus(_ context.Context, userID, jobID uuid.UUID, status models.JobStatus, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := statusKey{userID, jobID}
	c.statuses[k] = append(c.statuses[k], status)
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, userID, jobID uuid.UUID) (models.JobStatus, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.statuses[statusKey{userID, jobID}]
	if len(s) == 0 {
		return "", false, nil
	}
	return s[len(s)-1], true, nil
}

func (c *mockCache) SetLatestJob(_ context.Context, userID uuid.UUID, jobType models.JobType, jobID uuid.UUID, createdAt time.Time, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := latestKey{userID, jobType}
	next := latestEntry{id: jobID, at: createdAt}
	if cur, ok := c.latest[k]; !ok || next.after(cur) {
		c.latest[k] = next
	}
	return nil
}

func (c *mockCache) GetLatestJob(_ context.Context, userID uuid.UUID, jobType models.JobType) (uuid.UUID, bool, error) {
	if c.err != nil {
		return uuid.Nil, false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.latest[latestKey{userID, jobType}]
	return e.id, ok, nil
}

func (c *mockCache) ForgetLatestJob(_ context.Context, userID uuid.UUID, jobType models.JobType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latest, latestKey{userID, jobType})
	return nil
}

func (c *mockCache) HitRateWindow(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, errors.New("not used")
}

func (c *mockCache) latestOf(userID uuid.UUID, jobType models.JobType) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.latest[latestKey{userID, jobType}]
	return e.id, ok
}
