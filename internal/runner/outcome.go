package runner

import (
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// ErrorKind classifies why a job did not complete
type ErrorKind string

// Error kinds recorded on failed jobs
const (
	KindPolicyViolation  ErrorKind = "policy-violation"
	KindExecutionTimeout ErrorKind = "execution-timeout"
	KindAdapterFailure   ErrorKind = "adapter-failure"
	KindMemoryExceeded   ErrorKind = "memory-exceeded"
	KindInternal         ErrorKind = "internal-error"
	KindCancelled        ErrorKind = "cancelled"
)

// Reasons surfaced to the requester
const (
	ReasonPolicyViolation = "policy violation"
	ReasonTimeout         = "execution timeout"
	ReasonAdapterFailure  = "adapter failure"
	ReasonMemoryExceeded  = "memory limit exceeded"
	ReasonInternal        = "internal error"
	ReasonCancelled       = "cancelled"
)

// Outcome is the typed result of one run. Every exit path of the runner produces one.
type Outcome struct {
	State  models.JobState
	Kind   ErrorKind
	Result models.JobResult
}

// Completed builds a successful outcome
func Completed(result models.JobResult) Outcome {
	result.Success = true
	result.Error = ""
	result.ErrorKind = ""
	return Outcome{State: models.JobStateCompleted, Result: result}
}

// Failed builds a failed outcome
func Failed(kind ErrorKind, reason, detail string) Outcome {
	return failure(models.JobStateFailed, kind, reason, detail)
}

// TimedOut builds the outcome of a job that exceeded its execution limit
func TimedOut(detail string) Outcome {
	return failure(models.JobStateTimedOut, KindExecutionTimeout, ReasonTimeout, detail)
}

// Cancelled builds the outcome of a job stopped on request
func Cancelled(detail string) Outcome {
	return failure(models.JobStateCancelled, KindCancelled, ReasonCancelled, detail)
}

func failure(state models.JobState, kind ErrorKind, reason, detail string) Outcome {
	return Outcome{
		State: state,
		Kind:  kind,
		Result: models.JobResult{
			Success:   false,
			Error:     detail,
			ErrorKind: string(kind),
			Reason:    reason,
			ExitCode:  -1,
		},
	}
}

// Succeeded reports whether the job completed
func (o Outcome) Succeeded() bool {
	return o.State == models.JobStateCompleted
}
