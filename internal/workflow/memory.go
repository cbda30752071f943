package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/repos"
)

// MemoryRepository keeps jobs, approvals and requests in process memory. It backs the
// engine when no database is configured and loses everything on restart.
type MemoryRepository struct {
	mu        sync.RWMutex
	jobs      map[string]models.Job
	approvals []models.ApprovalRecord
	requests  map[string]models.ServiceRequest
	nextID    uint
	now       func() time.Time
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:     make(map[string]models.Job),
		requests: make(map[string]models.ServiceRequest),
		now:      time.Now,
	}
}

// LoadPending returns queued and running jobs in arrival order
func (m *MemoryRepository) LoadPending(_ context.Context) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Job
	for _, j := range m.jobs {
		if !j.State.IsTerminal() {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].EnqueuedAt.Equal(out[k].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[k].EnqueuedAt)
		}
		return out[i].Sequence < out[k].Sequence
	})
	return out, nil
}

// SaveJob stores a copy of the job
func (m *MemoryRepository) SaveJob(_ context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if prev, ok := m.jobs[job.ID]; ok {
		job.CreatedAt = prev.CreatedAt
	} else if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob loads a job by ID
func (m *MemoryRepository) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, repos.ErrNotFound)
	}
	out := j.Clone()
	return &out, nil
}

// ListJobs returns stored jobs newest arrival first
func (m *MemoryRepository) ListJobs(_ context.Context, opts *models.ListOptions) ([]models.Job, error) {
	if opts == nil {
		opts = &models.ListOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.State != nil && j.State != *opts.State {
			continue
		}
		all = append(all, j.Clone())
	}
	sort.Slice(all, func(i, k int) bool { return all[i].Sequence > all[k].Sequence })
	if opts.Offset >= len(all) {
		return nil, nil
	}
	all = all[opts.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// MaxJobSequence returns the highest stored arrival sequence
func (m *MemoryRepository) MaxJobSequence(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max uint64
	for _, j := range m.jobs {
		if j.Sequence > max {
			max = j.Sequence
		}
	}
	return max, nil
}

// SaveApproval stores a new approval record. A second non-rejected record for the same
// request is refused.
func (m *MemoryRepository) SaveApproval(_ context.Context, record *models.ApprovalRecord) error {
	if record.ID != 0 {
		return fmt.Errorf("approval record %d already stored", record.ID)
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("failed to create approval record: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.Decision.Approved() {
		for _, a := range m.approvals {
			if a.RequestID == record.RequestID && a.Decision.Approved() {
				return fmt.Errorf("request %s already has an approval", record.RequestID)
			}
		}
	}
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = m.now().UTC()
	m.approvals = append(m.approvals, *record)
	return nil
}

// DeleteApproval removes an approval record
func (m *MemoryRepository) DeleteApproval(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.approvals {
		if a.ID == id {
			m.approvals = append(m.approvals[:i], m.approvals[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("approval record %d: %w", id, repos.ErrNotFound)
}

// ActiveApproval returns the non-rejected approval of a request
func (m *MemoryRepository) ActiveApproval(_ context.Context, requestID string) (*models.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.approvals {
		if a.RequestID == requestID && a.Decision != models.ApprovalRejected {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("active approval for request %s: %w", requestID, repos.ErrNotFound)
}

// ListApprovals returns every approval record of a request, oldest first
func (m *MemoryRepository) ListApprovals(_ context.Context, requestID string) ([]models.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ApprovalRecord
	for _, a := range m.approvals {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

// SaveRequest inserts or overwrites a service request
func (m *MemoryRepository) SaveRequest(_ context.Context, req *models.ServiceRequest) error {
	if req.Status == "" {
		req.Status = models.RequestStatusAwaitingApproval
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("failed to save request %s: %w", req.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req.UpdatedAt = m.now().UTC()
	cp := *req
	cp.Payload = req.Payload.Clone()
	m.requests[req.ID] = cp
	return nil
}

// GetRequest loads a service request by ID
func (m *MemoryRepository) GetRequest(_ context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, repos.ErrNotFound)
	}
	req.Payload = req.Payload.Clone()
	return &req, nil
}

// ListAwaitingRequests returns requests parked for a named approver, oldest first
func (m *MemoryRepository) ListAwaitingRequests(_ context.Context, limit int) ([]models.ServiceRequest, error) {
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.Status == models.RequestStatusAwaitingApproval {
			r.Payload = r.Payload.Clone()
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.Before(out[k].SubmittedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*repos.Store)(nil)
)
