// Package scheduler owns the priority queue of automation jobs and dispatches them to
// execution runners under a concurrency cap.
//
// All scheduler state lives in the goroutine running Run. Public methods send closures
// to that goroutine and wait for them to finish, so no lock protects the queue or the
// running counter.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/events"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/observability"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/policy"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/runner"
)

// ActorScheduler identifies the scheduler in audit entries
const ActorScheduler = "system/job-scheduler"

const (
	// DefaultRetentionWindow keeps finished jobs in the live index for a day
	DefaultRetentionWindow = 24 * time.Hour
	// DefaultSweepInterval is how often finished jobs past retention are dropped
	DefaultSweepInterval = 5 * time.Minute
)

// Executor runs one job and reports its outcome
type Executor interface {
	Run(ctx context.Context, job models.Job) runner.Outcome
}

// JobStore persists job records
type JobStore interface {
	SaveJob(ctx context.Context, job *models.Job) error
}

// Options configures a Scheduler
type Options struct {
	MaxConcurrentJobs int
	RetentionWindow   time.Duration
	SweepInterval     time.Duration
	// StartSequence continues arrival numbering after jobs already persisted
	StartSequence uint64
	Store         JobStore
	Ledger        audit.Appender
	Events        *events.Bus
	Clock         func() time.Time
}

type command struct {
	fn   func()
	done chan struct{}
}

type result struct {
	jobID   string
	outcome runner.Outcome
}

type entry struct {
	job    *models.Job
	item   *queueItem
	cancel context.CancelFunc
}

// Scheduler is a bounded-concurrency priority scheduler
type Scheduler struct {
	exec          Executor
	maxConcurrent int
	retention     time.Duration
	sweepEvery    time.Duration
	store         JobStore
	ledger        audit.Appender
	bus           *events.Bus
	now           func() time.Time
	tracer        trace.Tracer

	cmds       chan command
	results    chan result
	stopped    chan struct{}
	started    atomic.Bool
	queueDepth atomic.Int64
	running    atomic.Int64

	// owned by the Run goroutine
	queue      jobQueue
	jobs       map[string]*entry
	seq        uint64
	inflight   int
	runCtx     context.Context
	persistCtx context.Context
}

// New creates a scheduler. Run must be started before the other methods are used; until
// then they block until their context ends.
func New(exec Executor, opts Options) *Scheduler {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = policy.DefaultMaxConcurrentJobs
	}
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = DefaultRetentionWindow
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		exec:          exec,
		maxConcurrent: opts.MaxConcurrentJobs,
		retention:     opts.RetentionWindow,
		sweepEvery:    opts.SweepInterval,
		store:         opts.Store,
		ledger:        opts.Ledger,
		bus:           opts.Events,
		now:           opts.Clock,
		tracer:        observability.Tracer("scheduler"),
		cmds:          make(chan command),
		results:       make(chan result, opts.MaxConcurrentJobs),
		stopped:       make(chan struct{}),
		jobs:          make(map[string]*entry),
		seq:           opts.StartSequence,
	}
}

// Run is the dispatch loop. It returns once ctx is cancelled and every running job has
// reported back.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.stopped)

	s.runCtx = ctx
	s.persistCtx = context.WithoutCancel(ctx)

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	logger.Infof("🚀 Scheduler started (max %d concurrent jobs)", s.maxConcurrent)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case cmd := <-s.cmds:
			cmd.fn()
			s.dispatch()
			close(cmd.done)
		case res := <-s.results:
			s.finish(res)
			s.dispatch()
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) shutdown() {
	logger.Infof("🛑 Scheduler stopping, waiting for %d running jobs", s.inflight)
	for _, e := range s.jobs {
		if e.cancel != nil {
			e.cancel()
		}
	}
	for s.inflight > 0 {
		s.finish(<-s.results)
	}
	s.updateGauges()
	logger.Info("✅ Scheduler stopped")
}

// do runs fn on the dispatch loop and waits for it
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	<-cmd.done
	return nil
}

func validate(job models.Job) error {
	if !job.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("missing or unknown priority %d", job.Priority)}
	}
	if !job.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", job.Kind)}
	}
	return nil
}

// Enqueue admits a job. It assigns the enqueue time, the arrival sequence and, unless the
// caller reserved one, the ID. It never rejects for load: callers read QueueDepth for
// backpressure.
func (s *Scheduler) Enqueue(ctx context.Context, job models.Job) (models.Job, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.enqueue", trace.WithAttributes(
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("job.request_id", job.RequestID),
	))
	defer span.End()

	if err := validate(job); err != nil {
		return models.Job{}, err
	}

	job = job.Clone()
	var (
		out     models.Job
		saveErr error
	)
	err := s.do(ctx, func() {
		if job.ID == "" {
			job.ID = uuid.NewString()
		} else if _, known := s.jobs[job.ID]; known {
			saveErr = &ValidationError{Field: "id", Reason: fmt.Sprintf("job %s already exists", job.ID)}
			return
		}
		s.seq++
		job.Sequence = s.seq
		job.EnqueuedAt = s.now().UTC()
		job.State = models.JobStateQueued
		job.StartedAt = nil
		job.FinishedAt = nil
		job.Result = nil
		job.SLABreached = false
		job.CancelRequested = false

		if s.store != nil {
			stored := job.Clone()
			if err := s.store.SaveJob(ctx, &stored); err != nil {
				saveErr = fmt.Errorf("failed to persist job: %w", err)
				return
			}
			job.CreatedAt, job.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
		}

		e := &entry{job: &job}
		e.item = s.queue.push(e.job)
		s.jobs[job.ID] = e
		s.recordTransition(e.job, "", models.JobStateQueued, map[string]string{"action": "enqueued"})
		observability.JobTransitions.WithLabelValues(string(models.JobStateQueued)).Inc()
		out = job.Clone()
	})
	if err != nil {
		return models.Job{}, err
	}
	if saveErr != nil {
		return models.Job{}, saveErr
	}
	span.SetAttributes(attribute.String("job.id", out.ID))
	logger.InfoWithFields("job enqueued", map[string]interface{}{
		"job_id":     out.ID,
		"request_id": out.RequestID,
		"kind":       out.Kind,
		"priority":   out.Priority.String(),
	})
	return out, nil
}

func (s *Scheduler) dispatch() {
	for s.inflight < s.maxConcurrent && s.queue.Len() > 0 && s.runCtx.Err() == nil {
		job := s.queue.pop()
		e := s.jobs[job.ID]
		e.item = nil
		s.start(e)
	}
	s.updateGauges()
}

func (s *Scheduler) start(e *entry) {
	_, span := s.tracer.Start(s.runCtx, "scheduler.dispatch", trace.WithAttributes(
		attribute.String("job.id", e.job.ID),
		attribute.String("job.kind", string(e.job.Kind)),
	))
	defer span.End()

	now := s.now().UTC()
	e.job.State = models.JobStateRunning
	e.job.StartedAt = &now
	s.persist(e.job)
	s.recordTransition(e.job, models.JobStateQueued, models.JobStateRunning, nil)
	observability.JobTransitions.WithLabelValues(string(models.JobStateRunning)).Inc()

	jobCtx, cancel := context.WithCancel(s.runCtx)
	e.cancel = cancel
	s.inflight++

	job := e.job.Clone()
	go s.work(jobCtx, job)
}

func (s *Scheduler) work(ctx context.Context, job models.Job) {
	s.results <- result{jobID: job.ID, outcome: s.safeRun(ctx, job)}
}

func (s *Scheduler) safeRun(ctx context.Context, job models.Job) (out runner.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("executor panic: %v", rec)
			logger.ErrorWithFields("job executor panicked", map[string]interface{}{"job_id": job.ID, "panic": msg})
			s.record(job.ID, models.AuditError, map[string]string{"stage": "dispatch", "error": msg})
			out = runner.Failed(runner.KindInternal, runner.ReasonInternal, msg)
		}
	}()
	if s.exec == nil {
		panic("no executor configured")
	}
	return s.exec.Run(ctx, job)
}

// finish applies a runner outcome. Only a running job can finish, so each job records
// exactly one terminal transition.
func (s *Scheduler) finish(res result) {
	e, ok := s.jobs[res.jobID]
	if !ok || e.job.State != models.JobStateRunning {
		logger.Warnf("⚠️ Ignoring outcome for job %s that is not running", res.jobID)
		return
	}
	s.inflight--
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	out := res.outcome
	if !out.State.IsTerminal() {
		out = runner.Failed(runner.KindInternal, runner.ReasonInternal,
			fmt.Sprintf("executor returned non-terminal state %q", out.State))
	}
	s.complete(e.job, models.JobStateRunning, out)

	if e.job.StartedAt != nil {
		observability.JobDuration.WithLabelValues(string(e.job.Kind), string(out.State)).
			Observe(e.job.FinishedAt.Sub(*e.job.StartedAt).Seconds())
	}
}

// complete moves job into the terminal state of out
func (s *Scheduler) complete(job *models.Job, from models.JobState, out runner.Outcome) {
	now := s.now().UTC()
	res := out.Result
	job.State = out.State
	job.FinishedAt = &now
	job.Result = &res
	s.persist(job)

	detail := map[string]string{"reason": res.Reason}
	if out.Kind != "" {
		detail["error_kind"] = string(out.Kind)
	}
	s.recordTransition(job, from, out.State, detail)
	observability.JobTransitions.WithLabelValues(string(out.State)).Inc()

	s.bus.Publish(events.Event{
		Type:      events.EventJobFinished,
		JobID:     job.ID,
		RequestID: job.RequestID,
		Kind:      job.Kind,
		Priority:  job.Priority,
		State:     job.State,
		Deadline:  job.SLADeadline,
		Reason:    res.Reason,
	})
	logger.InfoWithFields("job finished", map[string]interface{}{
		"job_id": job.ID,
		"state":  job.State,
		"reason": res.Reason,
	})
}

// Cancel stops a job. A queued job is cancelled at once; a running job is signalled and
// reaches its terminal state when the runner returns.
func (s *Scheduler) Cancel(ctx context.Context, id string) (models.Job, error) {
	var (
		out       models.Job
		cancelErr error
	)
	err := s.do(ctx, func() {
		e, ok := s.jobs[id]
		if !ok {
			cancelErr = fmt.Errorf("%s: %w", id, ErrJobNotFound)
			return
		}
		switch e.job.State {
		case models.JobStateQueued:
			s.queue.remove(e.item)
			e.item = nil
			e.job.CancelRequested = true
			s.complete(e.job, models.JobStateQueued, runner.Cancelled("cancelled while queued"))
		case models.JobStateRunning:
			if !e.job.CancelRequested {
				e.job.CancelRequested = true
				s.persist(e.job)
				s.record(e.job.ID, models.AuditJobControl, map[string]string{
					"action":     "cancel-requested",
					"state":      string(models.JobStateRunning),
					"request_id": e.job.RequestID,
				})
			}
			if e.cancel != nil {
				e.cancel()
			}
		default:
			cancelErr = fmt.Errorf("%s is %s: %w", id, e.job.State, ErrJobTerminal)
			return
		}
		out = e.job.Clone()
	})
	if err != nil {
		return models.Job{}, err
	}
	return out, cancelErr
}

// Get returns a copy of a job from the live index
func (s *Scheduler) Get(ctx context.Context, id string) (models.Job, error) {
	var (
		out   models.Job
		found bool
	)
	err := s.do(ctx, func() {
		if e, ok := s.jobs[id]; ok {
			out, found = e.job.Clone(), true
		}
	})
	if err != nil {
		return models.Job{}, err
	}
	if !found {
		return models.Job{}, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return out, nil
}

// List returns jobs of the live index, newest arrival first
func (s *Scheduler) List(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	if opts == nil {
		opts = &models.ListOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}

	var out []models.Job
	err := s.do(ctx, func() {
		all := make([]*models.Job, 0, len(s.jobs))
		for _, e := range s.jobs {
			if opts.State != nil && e.job.State != *opts.State {
				continue
			}
			all = append(all, e.job)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Sequence > all[j].Sequence })
		if opts.Offset >= len(all) {
			return
		}
		all = all[opts.Offset:]
		if len(all) > limit {
			all = all[:limit]
		}
		out = make([]models.Job, 0, len(all))
		for _, j := range all {
			out = append(out, j.Clone())
		}
	})
	return out, err
}

// OpenJobs returns every queued or running job
func (s *Scheduler) OpenJobs(ctx context.Context) ([]models.Job, error) {
	var out []models.Job
	err := s.do(ctx, func() {
		for _, e := range s.jobs {
			if !e.job.State.IsTerminal() {
				out = append(out, e.job.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	})
	return out, err
}

// FlagSLABreach marks an open job as past its SLA deadline. It reports false when the job
// was already flagged or is no longer open. The job state is not changed.
func (s *Scheduler) FlagSLABreach(ctx context.Context, id string) (models.Job, bool, error) {
	var (
		out     models.Job
		flagged bool
		flagErr error
	)
	err := s.do(ctx, func() {
		e, ok := s.jobs[id]
		if !ok {
			flagErr = fmt.Errorf("%s: %w", id, ErrJobNotFound)
			return
		}
		if !e.job.SLABreached && !e.job.State.IsTerminal() {
			e.job.SLABreached = true
			s.persist(e.job)
			flagged = true
		}
		out = e.job.Clone()
	})
	if err != nil {
		return models.Job{}, false, err
	}
	return out, flagged, flagErr
}

// Restore re-admits persisted jobs after a restart, keeping their IDs. Queued jobs go
// back on the queue; jobs found running were interrupted and are failed, so none is
// dropped silently and none runs twice. It returns the number of re-queued jobs.
func (s *Scheduler) Restore(ctx context.Context, jobs []models.Job) (int, error) {
	restored := 0
	err := s.do(ctx, func() {
		for _, j := range jobs {
			if j.ID == "" {
				continue
			}
			if _, exists := s.jobs[j.ID]; exists {
				continue
			}
			job := j.Clone()
			if job.Sequence > s.seq {
				s.seq = job.Sequence
			}

			e := &entry{job: &job}
			s.jobs[job.ID] = e
			switch job.State {
			case models.JobStateQueued:
				if job.Sequence == 0 {
					s.seq++
					job.Sequence = s.seq
				}
				if job.EnqueuedAt.IsZero() {
					job.EnqueuedAt = s.now().UTC()
				}
				e.item = s.queue.push(e.job)
				s.record(job.ID, models.AuditJobControl, map[string]string{
					"action":     "restored",
					"state":      string(models.JobStateQueued),
					"request_id": job.RequestID,
				})
				restored++
			case models.JobStateRunning:
				s.record(job.ID, models.AuditError, map[string]string{
					"stage":      "restore",
					"error":      "interrupted by restart",
					"request_id": job.RequestID,
				})
				s.complete(e.job, models.JobStateRunning,
					runner.Failed(runner.KindInternal, runner.ReasonInternal, "interrupted by restart"))
			}
		}
	})
	if err == nil && restored > 0 {
		logger.Infof("♻️ Restored %d queued jobs", restored)
	}
	return restored, err
}

// Sweep drops finished jobs older than the retention window from the live index. Their
// audit history stays in the ledger.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	var n int
	err := s.do(ctx, func() {
		n = s.sweep()
	})
	return n, err
}

func (s *Scheduler) sweep() int {
	cutoff := s.now().Add(-s.retention)
	removed := 0
	for id, e := range s.jobs {
		if e.job.State.IsTerminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Debugf("🧹 Retention sweep removed %d jobs", removed)
	}
	return removed
}

// QueueDepth is the number of queued jobs. It does not round-trip through the loop.
func (s *Scheduler) QueueDepth() int {
	return int(s.queueDepth.Load())
}

// Running is the number of jobs held by runners. It does not round-trip through the loop.
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// MaxConcurrentJobs is the configured concurrency cap
func (s *Scheduler) MaxConcurrentJobs() int {
	return s.maxConcurrent
}

func (s *Scheduler) updateGauges() {
	s.queueDepth.Store(int64(s.queue.Len()))
	s.running.Store(int64(s.inflight))
	observability.QueueDepth.Set(float64(s.queue.Len()))
	observability.RunningJobs.Set(float64(s.inflight))
}

func (s *Scheduler) persist(job *models.Job) {
	if s.store == nil {
		return
	}
	stored := job.Clone()
	if err := s.store.SaveJob(s.persistCtx, &stored); err != nil {
		logger.ErrorWithFields("failed to persist job", map[string]interface{}{
			"job_id": job.ID,
			"state":  job.State,
			"error":  err.Error(),
		})
		s.record(job.ID, models.AuditError, map[string]string{"stage": "persist", "error": err.Error()})
		return
	}
	job.CreatedAt, job.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
}

func (s *Scheduler) recordTransition(job *models.Job, from, to models.JobState, extra map[string]string) {
	detail := map[string]string{
		"to":         string(to),
		"kind":       string(job.Kind),
		"priority":   job.Priority.String(),
		"request_id": job.RequestID,
	}
	if from != "" {
		detail["from"] = string(from)
	}
	for k, v := range extra {
		detail[k] = v
	}
	s.record(job.ID, models.AuditJobTransition, detail)
}

func (s *Scheduler) record(subject string, eventType models.AuditEventType, detail map[string]string) {
	if s.ledger == nil {
		return
	}
	ctx := s.persistCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.ledger.Append(ctx, models.AuditEntry{
		Actor:     ActorScheduler,
		EventType: eventType,
		SubjectID: subject,
		Detail:    detail,
	}); err != nil {
		logger.ErrorWithFields("failed to append audit entry", map[string]interface{}{
			"subject_id": subject,
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}
