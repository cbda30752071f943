// Package runner executes a single validated job against its integration adapter under a
// wall-clock timeout and memory ceiling.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/adapters"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/observability"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/policy"
)

// ActorRunner identifies the runner in audit entries
const ActorRunner = "system/execution-runner"

// DefaultReleaseGrace is how long the runner waits for an adapter to stop after its
// deadline or cancellation before abandoning it
const DefaultReleaseGrace = 2 * time.Second

// Validator gates a job before execution
type Validator interface {
	Validate(ctx context.Context, job models.Job) policy.Decision
}

// AdapterSource resolves the adapter of a job kind
type AdapterSource interface {
	Lookup(kind models.JobKind) (adapters.Adapter, error)
}

// CredentialProvider issues a temporary credential for one job. The release func is
// called exactly once on every exit path.
type CredentialProvider interface {
	Issue(ctx context.Context, job models.Job) (adapters.Credential, func(), error)
}

// Option configures a Runner
type Option func(*Runner)

// WithLimits sets the execution timeout and memory ceiling of every job
func WithLimits(maxExecution time.Duration, maxMemoryBytes int64) Option {
	return func(r *Runner) {
		if maxExecution > 0 {
			r.maxExecution = maxExecution
		}
		if maxMemoryBytes > 0 {
			r.maxMemory = maxMemoryBytes
		}
	}
}

// WithCredentials issues a per-job credential before the adapter call
func WithCredentials(p CredentialProvider) Option {
	return func(r *Runner) {
		r.credentials = p
	}
}

// WithReleaseGrace overrides DefaultReleaseGrace
func WithReleaseGrace(d time.Duration) Option {
	return func(r *Runner) {
		r.grace = d
	}
}

// Runner executes jobs. It is safe for concurrent use; each Run owns its own worker.
type Runner struct {
	validator    Validator
	adapters     AdapterSource
	ledger       audit.Appender
	credentials  CredentialProvider
	maxExecution time.Duration
	maxMemory    int64
	grace        time.Duration
	tracer       trace.Tracer
}

// New creates a runner. Limits default to the built-in policy defaults.
func New(v Validator, source AdapterSource, ledger audit.Appender, opts ...Option) *Runner {
	r := &Runner{
		validator:    v,
		adapters:     source,
		ledger:       ledger,
		maxExecution: policy.DefaultMaxExecutionSeconds * time.Second,
		maxMemory:    policy.DefaultMaxMemoryBytes,
		grace:        DefaultReleaseGrace,
		tracer:       observability.Tracer("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type invocation struct {
	result    adapters.Result
	err       error
	panicked  bool
	panicInfo string
	abandoned bool
	// late marks a result delivered after the execution deadline
	late bool
}

// Run validates and executes job. It never panics and always returns an Outcome.
func (r *Runner) Run(ctx context.Context, job models.Job) (out Outcome) {
	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("job.priority", job.Priority.String()),
	))
	defer func() {
		if rec := recover(); rec != nil {
			out = r.internalFailure(ctx, job, "run", fmt.Sprintf("runner panic: %v", rec), string(debug.Stack()))
		}
		span.SetAttributes(attribute.String("job.outcome", string(out.State)))
		if out.Succeeded() {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, out.Result.Reason)
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return Cancelled("cancelled before execution")
	}
	if r.validator == nil {
		return Failed(KindPolicyViolation, ReasonPolicyViolation, "no security validator configured")
	}

	decision := r.validator.Validate(ctx, job)
	if !decision.Allowed {
		return Failed(KindPolicyViolation, ReasonPolicyViolation, fmt.Sprintf("%s (%s)", decision.Message, decision.Reason))
	}

	adapter, err := r.adapters.Lookup(job.Kind)
	if err != nil {
		r.record(ctx, job, models.AuditError, map[string]string{"stage": "lookup", "error": err.Error()})
		return Failed(KindAdapterFailure, ReasonAdapterFailure, err.Error())
	}

	return r.execute(ctx, job, adapter)
}

func (r *Runner) execute(ctx context.Context, job models.Job, adapter adapters.Adapter) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, r.maxExecution)
	defer cancel()
	deadline, _ := runCtx.Deadline()
	runCtx = adapters.WithMemoryLimit(runCtx, r.maxMemory)

	release := func() {}
	if r.credentials != nil {
		cred, rel, err := r.credentials.Issue(runCtx, job)
		if err != nil {
			r.record(ctx, job, models.AuditError, map[string]string{"stage": "credential", "error": err.Error()})
			return Failed(KindAdapterFailure, ReasonAdapterFailure, fmt.Sprintf("issue credential: %v", err))
		}
		if rel != nil {
			release = sync.OnceFunc(rel)
		}
		runCtx = adapters.WithCredential(runCtx, cred)
	}
	defer release()

	r.record(ctx, job, models.AuditExternalCall, map[string]string{
		"phase":    "start",
		"adapter":  string(job.Kind),
		"deadline": deadline.UTC().Format(time.RFC3339Nano),
	})

	started := time.Now()
	done := make(chan invocation, 1)
	go func() {
		defer release()
		defer func() {
			if rec := recover(); rec != nil {
				done <- invocation{panicked: true, panicInfo: fmt.Sprint(rec)}
			}
		}()
		res, err := adapter.Invoke(runCtx, job.Payload.Clone(), deadline)
		done <- invocation{result: res, err: err}
	}()

	var inv invocation
	select {
	case inv = <-done:
	case <-runCtx.Done():
		select {
		case inv = <-done:
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				inv.late = true
			}
		case <-time.After(r.grace):
			inv = invocation{err: runCtx.Err(), abandoned: true}
			logger.WarnWithFields("adapter did not stop after its deadline, abandoning it", map[string]interface{}{
				"job_id": job.ID,
				"kind":   job.Kind,
			})
		}
	}

	out := r.classify(ctx, runCtx, job, inv)
	elapsed := time.Since(started)

	detail := map[string]string{
		"phase":       "finish",
		"adapter":     string(job.Kind),
		"result":      string(out.State),
		"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
		"exit_code":   strconv.Itoa(out.Result.ExitCode),
	}
	if out.Kind != "" {
		detail["error_kind"] = string(out.Kind)
	}
	if inv.abandoned {
		detail["abandoned"] = "true"
	}
	if inv.late {
		detail["late_result"] = "true"
	}
	r.record(ctx, job, models.AuditExternalCall, detail)
	observability.AdapterCalls.WithLabelValues(string(job.Kind), string(out.State)).Inc()
	return out
}

// classify turns what the worker reported into an Outcome. Context errors are checked
// against the parent first so a cancellation is never mistaken for a timeout.
func (r *Runner) classify(ctx, runCtx context.Context, job models.Job, inv invocation) Outcome {
	if inv.panicked {
		return r.internalFailure(ctx, job, "adapter", "adapter panic: "+inv.panicInfo, "")
	}

	res := models.JobResult{
		Output:   inv.result.Output,
		Stdout:   inv.result.Stdout,
		Stderr:   inv.result.Stderr,
		ExitCode: inv.result.ExitCode,
	}
	withCapture := func(o Outcome) Outcome {
		o.Result.Output = res.Output
		o.Result.Stdout = res.Stdout
		o.Result.Stderr = res.Stderr
		if !inv.abandoned {
			o.Result.ExitCode = res.ExitCode
		}
		return o
	}

	if inv.err == nil && !inv.abandoned && !inv.late {
		if size := int64(len(res.Stdout) + len(res.Stderr)); size > r.maxMemory {
			return withCapture(Failed(KindMemoryExceeded, ReasonMemoryExceeded,
				fmt.Sprintf("captured output of %d bytes exceeds %d", size, r.maxMemory)))
		}
		return Completed(res)
	}

	err := inv.err
	switch {
	case errors.Is(err, adapters.ErrMemoryLimit):
		return withCapture(Failed(KindMemoryExceeded, ReasonMemoryExceeded, err.Error()))
	case ctx.Err() != nil:
		return withCapture(Cancelled(ctx.Err().Error()))
	case inv.late, errors.Is(runCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return withCapture(TimedOut(fmt.Sprintf("exceeded %s", r.maxExecution)))
	}

	var adapterErr *adapters.Error
	if errors.As(err, &adapterErr) {
		o := withCapture(Failed(KindAdapterFailure, ReasonAdapterFailure, adapterErr.Error()))
		o.Result.Reason = fmt.Sprintf("%s: %s", ReasonAdapterFailure, adapterErr.Kind)
		return o
	}
	return withCapture(Failed(KindAdapterFailure, ReasonAdapterFailure, err.Error()))
}

func (r *Runner) internalFailure(ctx context.Context, job models.Job, stage, msg, stack string) Outcome {
	logger.ErrorWithFields("job execution failed internally", map[string]interface{}{
		"job_id": job.ID,
		"stage":  stage,
		"error":  msg,
	})
	detail := map[string]string{"stage": stage, "error": msg}
	if stack != "" {
		detail["stack"] = stack
	}
	r.record(ctx, job, models.AuditError, detail)
	return Failed(KindInternal, ReasonInternal, msg)
}

// record appends an audit entry, also after ctx is cancelled. A failing ledger is logged
// and does not change the outcome.
func (r *Runner) record(ctx context.Context, job models.Job, eventType models.AuditEventType, detail map[string]string) {
	if r.ledger == nil {
		return
	}
	detail["request_id"] = job.RequestID
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("❌ audit append panicked for job %s: %v", job.ID, rec)
		}
	}()
	if _, err := r.ledger.Append(context.WithoutCancel(ctx), models.AuditEntry{
		Actor:     ActorRunner,
		EventType: eventType,
		SubjectID: job.ID,
		Detail:    detail,
	}); err != nil {
		logger.ErrorWithFields("failed to append audit entry", map[string]interface{}{
			"job_id":     job.ID,
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}
