package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// Store groups the repositories behind the persistence boundary of the automation engine
type Store struct {
	Jobs      *JobRepository
	Approvals *ApprovalRepository
	Requests  *RequestRepository
	Audit     *AuditRepository
}

// NewStore creates every repository over the same database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{
		Jobs:      NewJobRepository(db),
		Approvals: NewApprovalRepository(db),
		Requests:  NewRequestRepository(db),
		Audit:     NewAuditRepository(db),
	}
}

// LoadPending returns jobs that had not finished when the process last stopped
func (s *Store) LoadPending(ctx context.Context) ([]models.Job, error) {
	return s.Jobs.LoadPending(ctx)
}

// SaveJob persists the current state of a job
func (s *Store) SaveJob(ctx context.Context, job *models.Job) error {
	return s.Jobs.Save(ctx, job)
}

// GetJob loads a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.Jobs.GetByID(ctx, id)
}

// ListJobs lists stored jobs
func (s *Store) ListJobs(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	return s.Jobs.List(ctx, opts)
}

// MaxJobSequence returns the highest stored arrival sequence
func (s *Store) MaxJobSequence(ctx context.Context) (uint64, error) {
	return s.Jobs.MaxSequence(ctx)
}

// SaveApproval stores a new approval record
func (s *Store) SaveApproval(ctx context.Context, record *models.ApprovalRecord) error {
	return s.Approvals.Create(ctx, record)
}

// DeleteApproval removes an approval record
func (s *Store) DeleteApproval(ctx context.Context, id uint) error {
	return s.Approvals.Delete(ctx, id)
}

// ActiveApproval returns the non-rejected approval of a request
func (s *Store) ActiveApproval(ctx context.Context, requestID string) (*models.ApprovalRecord, error) {
	return s.Approvals.GetActive(ctx, requestID)
}

// ListApprovals returns every approval record of a request
func (s *Store) ListApprovals(ctx context.Context, requestID string) ([]models.ApprovalRecord, error) {
	return s.Approvals.ListByRequest(ctx, requestID)
}

// SaveRequest persists a service request
func (s *Store) SaveRequest(ctx context.Context, req *models.ServiceRequest) error {
	return s.Requests.Save(ctx, req)
}

// GetRequest loads a service request by ID
func (s *Store) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	return s.Requests.GetByID(ctx, id)
}

// ListAwaitingRequests returns requests parked for a named approver
func (s *Store) ListAwaitingRequests(ctx context.Context, limit int) ([]models.ServiceRequest, error) {
	return s.Requests.ListAwaiting(ctx, limit)
}
