// Package adapters holds the integration points the execution runner calls into: one
// adapter per job kind, each bounded by the deadline handed over by the runner.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// ErrMemoryLimit is returned when an invocation exceeds its memory ceiling
var ErrMemoryLimit = errors.New("memory limit exceeded")

// ErrNoAdapter is returned when no adapter is registered for a job kind
var ErrNoAdapter = errors.New("no adapter registered")

// Result is what an adapter reports back for a successful or rejected call
type Result struct {
	Output   map[string]string `json:"output,omitempty"`
	Stdout   string            `json:"stdout,omitempty"`
	Stderr   string            `json:"stderr,omitempty"`
	ExitCode int               `json:"exit_code"`
}

// Adapter performs one side effect against an external system. Implementations must
// return by deadline and honour ctx cancellation.
type Adapter interface {
	Invoke(ctx context.Context, payload models.Payload, deadline time.Time) (Result, error)
}

// AdapterFunc lets a plain function act as an Adapter
type AdapterFunc func(ctx context.Context, payload models.Payload, deadline time.Time) (Result, error)

// Invoke calls f
func (f AdapterFunc) Invoke(ctx context.Context, payload models.Payload, deadline time.Time) (Result, error) {
	return f(ctx, payload, deadline)
}

// ErrorKind classifies adapter failures
type ErrorKind string

const (
	// ErrorUnreachable means the external system could not be reached or failed internally
	ErrorUnreachable ErrorKind = "unreachable"
	// ErrorRejected means the external system refused the operation
	ErrorRejected ErrorKind = "rejected"
)

// Error is the typed failure returned by adapters
type Error struct {
	Adapter string
	Kind    ErrorKind
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("adapter %s %s", e.Adapter, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Credential is a short-lived secret issued for a single job
type Credential struct {
	ID        string
	Secret    string
	ExpiresAt time.Time
}

type contextKey int

const (
	credentialKey contextKey = iota
	memoryLimitKey
)

// WithCredential attaches a per-job credential to ctx
func WithCredential(ctx context.Context, c Credential) context.Context {
	return context.WithValue(ctx, credentialKey, c)
}

// CredentialFromContext returns the credential attached by the runner, if any
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	c, ok := ctx.Value(credentialKey).(Credential)
	return c, ok
}

// WithMemoryLimit attaches the per-job memory ceiling in bytes to ctx
func WithMemoryLimit(ctx context.Context, limit int64) context.Context {
	return context.WithValue(ctx, memoryLimitKey, limit)
}

// MemoryLimitFromContext returns the memory ceiling set by the runner, or 0
func MemoryLimitFromContext(ctx context.Context) int64 {
	limit, _ := ctx.Value(memoryLimitKey).(int64)
	return limit
}
