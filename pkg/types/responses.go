// Package types contains the public request and response shapes of the HTTP API
package types

import "github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"

// Slug is a type for the slug field in the response
// It is mainly used for the client to understand the type of the response
type Slug string

// nolint:gochecknoglobals
const (
	SuccessSlug      Slug = "success"
	ErrorSlug        Slug = "error"
	InvalidInputSlug Slug = "invalid-input"
	ServerErrorSlug  Slug = "server-error"
	NotFoundSlug     Slug = "not-found"
	ConflictSlug     Slug = "conflict"
	// AwaitingApprovalSlug marks a submitted request that was parked for a named approver
	AwaitingApprovalSlug Slug = "awaiting-approval"
)

// SlugResponse is the response type for the API
type SlugResponse struct {
	Slug  Slug        `json:"slug"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data"`
}

// ErrInvalidInput returns a SlugResponse with the InvalidInputSlug and the error message
func ErrInvalidInput(msg string) SlugResponse {
	return SlugResponse{Slug: InvalidInputSlug, Error: msg}
}

// ErrServer returns a SlugResponse with the ServerErrorSlug and the error message
func ErrServer(msg string) SlugResponse {
	return SlugResponse{Slug: ServerErrorSlug, Error: msg}
}

// ErrNotFound returns a SlugResponse with the NotFoundSlug and the error message
func ErrNotFound(msg string) SlugResponse {
	return SlugResponse{Slug: NotFoundSlug, Error: msg}
}

// ErrConflict returns a SlugResponse with the ConflictSlug and the error message
func ErrConflict(msg string) SlugResponse {
	return SlugResponse{Slug: ConflictSlug, Error: msg}
}

// Success returns a SlugResponse with the SuccessSlug and the data
func Success(data interface{}) SlugResponse {
	return SlugResponse{Slug: SuccessSlug, Data: data}
}

// ListResponse is a generic response structure for lists
type ListResponse[T any] struct {
	Rows  []T `json:"rows"`
	Total int `json:"total"`
}

// NewListResponse wraps rows, never returning a null row set
func NewListResponse[T any](rows []T) ListResponse[T] {
	if rows == nil {
		rows = []T{}
	}
	return ListResponse[T]{Rows: rows, Total: len(rows)}
}

// SubmitResponse is returned for a submitted request. Approval is empty while the request
// awaits a named approver.
type SubmitResponse struct {
	RequestID string                 `json:"request_id"`
	Approval  *models.ApprovalRecord `json:"approval,omitempty"`
}

// QueueResponse describes the live scheduler load
type QueueResponse struct {
	Queued            int `json:"queued"`
	Running           int `json:"running"`
	MaxConcurrentJobs int `json:"max_concurrent_jobs"`
}

// VerifyResponse reports the state of the audit hash chain
type VerifyResponse struct {
	Intact  bool   `json:"intact"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}
