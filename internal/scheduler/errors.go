package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned for IDs the scheduler does not know, including swept jobs
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when cancelling a job that already finished
	ErrJobTerminal = errors.New("job already in a terminal state")
	// ErrStopped is returned once the dispatch loop has exited
	ErrStopped = errors.New("scheduler stopped")
	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// ValidationError rejects a malformed job at enqueue time. Such jobs are never scheduled.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job %s: %s", e.Field, e.Reason)
}
