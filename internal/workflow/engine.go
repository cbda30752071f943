// Package workflow turns submitted service requests into approval records and scheduled
// jobs. It applies the auto-approval rules, computes SLA deadlines and watches open jobs
// for SLA breaches.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/repos"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/events"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/observability"
)

// ActorWorkflow identifies the workflow engine in audit entries
const ActorWorkflow = "system/workflow-engine"

// DefaultSLAMonitorInterval is how often open jobs are compared with their deadline
const DefaultSLAMonitorInterval = time.Minute

var (
	// ErrApprovalRequired is returned by Submit when the request was parked for a named approver
	ErrApprovalRequired = errors.New("approval required")
	// ErrRequestNotFound is returned for unknown request IDs
	ErrRequestNotFound = errors.New("request not found")
	// ErrAlreadyDecided is returned when deciding a request that is no longer awaiting approval
	ErrAlreadyDecided = errors.New("request already decided")
	// ErrDuplicateRequest is returned when a request ID was already submitted
	ErrDuplicateRequest = errors.New("request already submitted")
	// ErrInvalidRequest wraps every validation failure of a request or decision
	ErrInvalidRequest = errors.New("invalid request")
)

// Scheduler is the part of the job scheduler the engine drives
type Scheduler interface {
	Enqueue(ctx context.Context, job models.Job) (models.Job, error)
	Get(ctx context.Context, id string) (models.Job, error)
	OpenJobs(ctx context.Context) ([]models.Job, error)
	FlagSLABreach(ctx context.Context, id string) (models.Job, bool, error)
	Restore(ctx context.Context, jobs []models.Job) (int, error)
}

// Repository persists what the engine decides. repos.Store and MemoryRepository implement it.
type Repository interface {
	LoadPending(ctx context.Context) ([]models.Job, error)
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *models.ListOptions) ([]models.Job, error)
	MaxJobSequence(ctx context.Context) (uint64, error)
	SaveApproval(ctx context.Context, record *models.ApprovalRecord) error
	DeleteApproval(ctx context.Context, id uint) error
	ActiveApproval(ctx context.Context, requestID string) (*models.ApprovalRecord, error)
	ListApprovals(ctx context.Context, requestID string) ([]models.ApprovalRecord, error)
	SaveRequest(ctx context.Context, req *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	ListAwaitingRequests(ctx context.Context, limit int) ([]models.ServiceRequest, error)
}

// Request is a service request as submitted by a requester
type Request struct {
	ID            string          `json:"id"`
	RequesterID   string          `json:"requester_id"`
	Kind          models.JobKind  `json:"kind"`
	Priority      models.Priority `json:"priority"`
	Payload       models.Payload  `json:"payload"`
	CostEstimate  float64         `json:"cost_estimate"`
	Justification string          `json:"justification,omitempty"`
	// Approval carries a decision taken before submission
	Approval *ApproverDecision `json:"approval,omitempty"`
}

// ApproverDecision is a named approver's verdict on a request
type ApproverDecision struct {
	ApproverID string `json:"approver_id"`
	Approve    bool   `json:"approve"`
	Reason     string `json:"reason,omitempty"`
}

// StatusState is what a requester sees of a request
type StatusState string

// Request status states
const (
	StatusAwaitingApproval   StatusState = "awaiting-approval"
	StatusApprovedAndRunning StatusState = "approved-and-running"
	StatusCompleted          StatusState = "completed"
	StatusFailed             StatusState = "failed-with-reason"
	StatusRejected           StatusState = "rejected"
)

// Status is the requester's view of a request
type Status struct {
	RequestID   string          `json:"request_id"`
	State       StatusState     `json:"state"`
	Reason      string          `json:"reason,omitempty"`
	JobID       string          `json:"job_id,omitempty"`
	JobState    models.JobState `json:"job_state,omitempty"`
	SLADeadline *time.Time      `json:"sla_deadline,omitempty"`
	SLABreached bool            `json:"sla_breached"`
}

// Options configures an Engine
type Options struct {
	Repository Repository
	Ledger     audit.Appender
	Events     *events.Bus
	Clock      func() time.Time
}

// Engine is the workflow engine
type Engine struct {
	settings Settings
	sched    Scheduler
	repo     Repository
	ledger   audit.Appender
	bus      *events.Bus
	now      func() time.Time
	tracer   trace.Tracer

	// serializes decisions so a request is approved at most once
	mu sync.Mutex
}

// NewEngine creates an engine. Without a repository, state is kept in memory.
func NewEngine(settings Settings, sched Scheduler, opts Options) *Engine {
	if opts.Repository == nil {
		opts.Repository = NewMemoryRepository()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		settings: settings,
		sched:    sched,
		repo:     opts.Repository,
		ledger:   opts.Ledger,
		bus:      opts.Events,
		now:      opts.Clock,
		tracer:   observability.Tracer("workflow"),
	}
}

// Settings returns the rules and SLA table in effect
func (e *Engine) Settings() Settings {
	return e.settings
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func (r Request) validate() error {
	if r.RequesterID == "" {
		return invalid("requester_id is required")
	}
	if !r.Kind.Valid() {
		return invalid("unknown kind %q", r.Kind)
	}
	if !r.Priority.Valid() {
		return invalid("missing or unknown priority")
	}
	if r.CostEstimate < 0 {
		return invalid("cost_estimate cannot be negative")
	}
	if r.Approval != nil {
		return r.Approval.validate()
	}
	return nil
}

func (d ApproverDecision) validate() error {
	if d.ApproverID == "" {
		return invalid("approver_id is required")
	}
	return nil
}

// Submit evaluates a request. Requests matching the auto-approval rule, or carrying an
// approver decision, are decided at once and an approved request gets exactly one job.
// Anything else is parked and ErrApprovalRequired is returned.
func (e *Engine) Submit(ctx context.Context, req Request) (rec *models.ApprovalRecord, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.submit", trace.WithAttributes(
		attribute.String("request.kind", string(req.Kind)),
		attribute.String("request.priority", req.Priority.String()),
	))
	defer func() {
		if err != nil && !errors.Is(err, ErrApprovalRequired) {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repo.GetRequest(ctx, req.ID); err == nil {
		return nil, fmt.Errorf("%s: %w", req.ID, ErrDuplicateRequest)
	} else if !errors.Is(err, repos.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up request %s: %w", req.ID, err)
	}

	sr := &models.ServiceRequest{
		ID:            req.ID,
		RequesterID:   req.RequesterID,
		Kind:          req.Kind,
		Priority:      req.Priority,
		Payload:       req.Payload.Clone(),
		CostEstimate:  req.CostEstimate,
		Justification: req.Justification,
		Status:        models.RequestStatusAwaitingApproval,
		SubmittedAt:   e.now().UTC(),
	}

	switch {
	case e.settings.Rules.AutoApproves(req.Kind, req.CostEstimate):
		return e.approve(ctx, sr, models.ApprovalAutoApproved, "", RuleLowRiskAutoApprove, "")
	case req.Approval != nil:
		return e.decide(ctx, sr, *req.Approval)
	}

	if err := e.repo.SaveRequest(ctx, sr); err != nil {
		return nil, fmt.Errorf("failed to park request %s: %w", sr.ID, err)
	}
	e.bus.Publish(events.Event{
		Type:      events.EventApprovalRequired,
		RequestID: sr.ID,
		Kind:      sr.Kind,
		Priority:  sr.Priority,
		Reason:    sr.Justification,
	})
	logger.InfoWithFields("request awaiting approval", map[string]interface{}{
		"request_id": sr.ID,
		"kind":       sr.Kind,
		"cost":       sr.CostEstimate,
	})
	return nil, fmt.Errorf("request %s: %w", sr.ID, ErrApprovalRequired)
}

// Decide records a named approver's decision on a parked request
func (e *Engine) Decide(ctx context.Context, requestID string, d ApproverDecision) (*models.ApprovalRecord, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.decide", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.Bool("decision.approve", d.Approve),
	))
	defer span.End()

	if err := d.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sr, err := e.repo.GetRequest(ctx, requestID)
	if errors.Is(err, repos.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", requestID, ErrRequestNotFound)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to look up request %s: %w", requestID, err)
	}
	if sr.Status != models.RequestStatusAwaitingApproval {
		return nil, fmt.Errorf("%s is %s: %w", requestID, sr.Status, ErrAlreadyDecided)
	}
	rec, err := e.decide(ctx, sr, d)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

func (e *Engine) decide(ctx context.Context, sr *models.ServiceRequest, d ApproverDecision) (*models.ApprovalRecord, error) {
	if d.Approve {
		return e.approve(ctx, sr, models.ApprovalManuallyApproved, d.ApproverID, "", d.Reason)
	}
	return e.reject(ctx, sr, d)
}

// approve stores the approval record under a reserved job ID before the job is enqueued,
// so no job ever runs without its record. A failed enqueue deletes the record again.
func (e *Engine) approve(ctx context.Context, sr *models.ServiceRequest, decision models.ApprovalDecision,
	approver, rule, reason string) (*models.ApprovalRecord, error) {
	decidedAt := e.now().UTC()
	deadline, err := e.settings.SLA.Deadline(sr.Kind, sr.Priority, decidedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to compute SLA deadline for request %s: %w", sr.ID, err)
	}

	rec := &models.ApprovalRecord{
		RequestID:   sr.ID,
		Decision:    decision,
		ApproverID:  approver,
		DecidedAt:   decidedAt,
		RuleApplied: rule,
		Reason:      reason,
		JobID:       uuid.NewString(),
		SLADeadline: &deadline,
	}
	if err := e.repo.SaveApproval(ctx, rec); err != nil {
		e.auditError(ctx, sr.ID, "save-approval", "", err)
		return nil, fmt.Errorf("failed to save approval for request %s: %w", sr.ID, err)
	}

	job, err := e.sched.Enqueue(ctx, models.Job{
		ID:          rec.JobID,
		RequestID:   sr.ID,
		Kind:        sr.Kind,
		Priority:    sr.Priority,
		Payload:     sr.Payload.Clone(),
		SLADeadline: deadline,
	})
	if err != nil {
		if delErr := e.repo.DeleteApproval(context.WithoutCancel(ctx), rec.ID); delErr != nil {
			e.auditError(ctx, sr.ID, "revoke-approval", "", delErr)
		}
		return nil, fmt.Errorf("failed to enqueue job for request %s: %w", sr.ID, err)
	}
	observability.Approvals.WithLabelValues(string(decision)).Inc()

	sr.Status = models.RequestStatusApproved
	if err := e.repo.SaveRequest(ctx, sr); err != nil {
		e.auditError(ctx, sr.ID, "save-request", job.ID, err)
		return nil, fmt.Errorf("failed to save request %s: %w", sr.ID, err)
	}

	logger.InfoWithFields("request approved", map[string]interface{}{
		"request_id":   sr.ID,
		"decision":     decision,
		"rule":         rule,
		"job_id":       job.ID,
		"sla_deadline": deadline,
	})
	return rec, nil
}

func (e *Engine) reject(ctx context.Context, sr *models.ServiceRequest, d ApproverDecision) (*models.ApprovalRecord, error) {
	rec := &models.ApprovalRecord{
		RequestID:  sr.ID,
		Decision:   models.ApprovalRejected,
		ApproverID: d.ApproverID,
		DecidedAt:  e.now().UTC(),
		Reason:     d.Reason,
	}
	if err := e.repo.SaveApproval(ctx, rec); err != nil {
		e.auditError(ctx, sr.ID, "save-approval", "", err)
		return nil, fmt.Errorf("failed to save approval for request %s: %w", sr.ID, err)
	}
	observability.Approvals.WithLabelValues(string(rec.Decision)).Inc()
	sr.Status = models.RequestStatusRejected
	if err := e.repo.SaveRequest(ctx, sr); err != nil {
		e.auditError(ctx, sr.ID, "save-request", "", err)
		return nil, fmt.Errorf("failed to save request %s: %w", sr.ID, err)
	}
	logger.InfoWithFields("request rejected", map[string]interface{}{
		"request_id": sr.ID,
		"approver":   d.ApproverID,
		"reason":     d.Reason,
	})
	return rec, nil
}

func (e *Engine) auditError(ctx context.Context, requestID, stage, jobID string, cause error) {
	logger.ErrorWithFields("failed to persist request decision", map[string]interface{}{
		"request_id": requestID,
		"stage":      stage,
		"job_id":     jobID,
		"error":      cause.Error(),
	})
	if e.ledger == nil {
		return
	}
	detail := map[string]string{"stage": stage, "error": cause.Error()}
	if jobID != "" {
		detail["job_id"] = jobID
	}
	if _, err := e.ledger.Append(context.WithoutCancel(ctx), models.AuditEntry{
		Actor:     ActorWorkflow,
		EventType: models.AuditError,
		SubjectID: requestID,
		Detail:    detail,
	}); err != nil {
		logger.Errorf("❌ Failed to audit workflow error for %s: %v", requestID, err)
	}
}

// RequestStatus reports where a request stands from the requester's point of view
func (e *Engine) RequestStatus(ctx context.Context, requestID string) (Status, error) {
	sr, err := e.repo.GetRequest(ctx, requestID)
	if errors.Is(err, repos.ErrNotFound) {
		return Status{}, fmt.Errorf("%s: %w", requestID, ErrRequestNotFound)
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to look up request %s: %w", requestID, err)
	}

	st := Status{RequestID: requestID}
	switch sr.Status {
	case models.RequestStatusAwaitingApproval:
		st.State = StatusAwaitingApproval
		return st, nil
	case models.RequestStatusRejected:
		st.State = StatusRejected
		records, err := e.repo.ListApprovals(ctx, requestID)
		if err != nil {
			return Status{}, fmt.Errorf("failed to list approvals of request %s: %w", requestID, err)
		}
		for _, r := range records {
			if r.Decision == models.ApprovalRejected {
				st.Reason = r.Reason
			}
		}
		return st, nil
	}

	rec, err := e.repo.ActiveApproval(ctx, requestID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to get approval of request %s: %w", requestID, err)
	}
	job, err := e.job(ctx, rec.JobID)
	if err != nil {
		return Status{}, err
	}

	st.JobID = job.ID
	st.JobState = job.State
	st.SLABreached = job.SLABreached
	if !job.SLADeadline.IsZero() {
		deadline := job.SLADeadline
		st.SLADeadline = &deadline
	}
	switch {
	case !job.State.IsTerminal():
		st.State = StatusApprovedAndRunning
	case job.State == models.JobStateCompleted:
		st.State = StatusCompleted
	default:
		st.State = StatusFailed
		st.Reason = failureReason(job)
	}
	return st, nil
}

// job prefers the scheduler's live copy and falls back to the stored one once swept
func (e *Engine) job(ctx context.Context, id string) (models.Job, error) {
	if job, err := e.sched.Get(ctx, id); err == nil {
		return job, nil
	}
	stored, err := e.repo.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return *stored, nil
}

func failureReason(job models.Job) string {
	if job.Result == nil {
		return string(job.State)
	}
	if job.Result.Error == "" {
		return job.Result.Reason
	}
	return job.Result.Reason + ": " + job.Result.Error
}

// Job returns a job by ID, including jobs already swept from the live scheduler index
func (e *Engine) Job(ctx context.Context, id string) (models.Job, error) {
	return e.job(ctx, id)
}

// History lists stored jobs, newest arrival first
func (e *Engine) History(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	jobs, err := e.repo.ListJobs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Awaiting lists requests parked for a named approver, oldest first
func (e *Engine) Awaiting(ctx context.Context, limit int) ([]models.ServiceRequest, error) {
	reqs, err := e.repo.ListAwaitingRequests(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting requests: %w", err)
	}
	return reqs, nil
}

// CheckSLA flags open jobs past their deadline and publishes one EventSLABreached per
// job. It never changes a job's state. It returns the number of newly flagged jobs.
func (e *Engine) CheckSLA(ctx context.Context) (int, error) {
	now := e.now()
	open, err := e.sched.OpenJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open jobs: %w", err)
	}

	flagged := 0
	for _, j := range open {
		if j.SLABreached || j.SLADeadline.IsZero() || !now.After(j.SLADeadline) {
			continue
		}
		job, ok, err := e.sched.FlagSLABreach(ctx, j.ID)
		if err != nil {
			logger.Warnf("⚠️ Could not flag SLA breach of job %s: %v", j.ID, err)
			continue
		}
		if !ok {
			continue
		}
		flagged++
		observability.SLABreaches.WithLabelValues(string(job.Kind)).Inc()
		logger.WarnWithFields("job past SLA deadline", map[string]interface{}{
			"job_id":     job.ID,
			"request_id": job.RequestID,
			"deadline":   job.SLADeadline,
			"state":      job.State,
		})
		e.bus.Publish(events.Event{
			Type:      events.EventSLABreached,
			JobID:     job.ID,
			RequestID: job.RequestID,
			Kind:      job.Kind,
			Priority:  job.Priority,
			State:     job.State,
			Deadline:  job.SLADeadline,
			Reason:    fmt.Sprintf("overdue by %s", now.Sub(job.SLADeadline).Round(time.Second)),
		})
	}
	return flagged, nil
}

// RunSLAMonitor calls CheckSLA every interval until ctx ends
func (e *Engine) RunSLAMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSLAMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof("⏱️ SLA monitor started (every %s)", interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 SLA monitor stopped")
			return
		case <-ticker.C:
			if _, err := e.CheckSLA(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("❌ SLA check failed: %v", err)
			}
		}
	}
}

// Restore re-admits jobs that had not finished when the process last stopped
func (e *Engine) Restore(ctx context.Context) (int, error) {
	pending, err := e.repo.LoadPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	n, err := e.sched.Restore(ctx, pending)
	if err != nil {
		return 0, fmt.Errorf("failed to restore jobs: %w", err)
	}
	return n, nil
}
