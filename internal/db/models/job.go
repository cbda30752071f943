package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	// JobEnqueuedAtField is the database field name for the job enqueue timestamp
	JobEnqueuedAtField = "enqueued_at"
	// JobSequenceField is the database field name for the job arrival sequence
	JobSequenceField = "sequence"
	// JobStateField is the database field name for the job state
	JobStateField = "state"
)

// JobState represents the lifecycle state of a job
type JobState string

// Job state constants
const (
	// JobStateQueued indicates the job is waiting in the scheduler queue
	JobStateQueued JobState = "queued"
	// JobStateRunning indicates the job is held by an execution runner
	JobStateRunning JobState = "running"
	// JobStateCompleted indicates the job finished successfully
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the job finished with an error
	JobStateFailed JobState = "failed"
	// JobStateTimedOut indicates the job exceeded its execution time limit
	JobStateTimedOut JobState = "timed_out"
	// JobStateCancelled indicates the job was cancelled before completion
	JobStateCancelled JobState = "cancelled"
)

var jobStates = []JobState{
	JobStateQueued,
	JobStateRunning,
	JobStateCompleted,
	JobStateFailed,
	JobStateTimedOut,
	JobStateCancelled,
}

// ParseJobState converts a string to a JobState
func ParseJobState(str string) (JobState, error) {
	for _, s := range jobStates {
		if string(s) == str {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid job state: %s", str)
}

func (s JobState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible from s
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateTimedOut, JobStateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateQueued:
		return next == JobStateRunning || next == JobStateCancelled
	case JobStateRunning:
		return next.IsTerminal()
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler for JobState
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	state, err := ParseJobState(str)
	if err != nil {
		return err
	}

	*s = state
	return nil
}

// JobResult is the outcome payload written onto a job when it finishes
type JobResult struct {
	Success   bool              `json:"success"`
	Output    map[string]string `json:"output,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Stdout    string            `json:"stdout,omitempty"`
	Stderr    string            `json:"stderr,omitempty"`
	ExitCode  int               `json:"exit_code"`
}

// Job is a unit of privileged automation work derived from an approved service request
type Job struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	RequestID       string     `json:"request_id" gorm:"not null; index"`
	Kind            JobKind    `json:"kind" gorm:"not null; index"`
	Payload         Payload    `json:"payload" gorm:"serializer:json"`
	Priority        Priority   `json:"priority" gorm:"not null; index"`
	State           JobState   `json:"state" gorm:"not null; index"`
	Sequence        uint64     `json:"sequence" gorm:"index"`
	EnqueuedAt      time.Time  `json:"enqueued_at" gorm:"index"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Result          *JobResult `json:"result,omitempty" gorm:"serializer:json"`
	SLADeadline     time.Time  `json:"sla_deadline"`
	SLABreached     bool       `json:"sla_breached" gorm:"not null;default:false;index"`
	CancelRequested bool       `json:"cancel_requested" gorm:"not null;default:false"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the job so callers never share mutable state
func (j Job) Clone() Job {
	out := j
	out.Payload = j.Payload.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		if j.Result.Output != nil {
			r.Output = make(map[string]string, len(j.Result.Output))
			for k, v := range j.Result.Output {
				r.Output[k] = v
			}
		}
		out.Result = &r
	}
	return out
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("invalid job kind: %q", j.Kind)
	}
	if !j.Priority.Valid() {
		return fmt.Errorf("invalid job priority: %d", j.Priority)
	}
	if _, err := ParseJobState(string(j.State)); err != nil {
		return err
	}
	if j.FinishedAt != nil && !j.State.IsTerminal() {
		return fmt.Errorf("job %s has finished_at set but state %s is not terminal", j.ID, j.State)
	}
	return nil
}

// BeforeSave is a GORM hook that runs before persisting a job
func (j *Job) BeforeSave(_ *gorm.DB) error {
	return j.Validate()
}
