// Package handlers provides HTTP request handling
package handlers

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/repos"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/scheduler"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/types"
)

// Common error messages
const (
	ErrMsgInvalidReqBody     = "Invalid request body"
	ErrMsgNegativePagination = "Page must be a positive number from 1"
	ErrMsgInvalidLimit       = "Limit must be a positive number"
)

// Request error messages
const (
	ErrMsgRequestIDRequired = "Request id is required"
	ErrMsgRequestNotFound   = "Request not found"
	ErrMsgSubmitFailed      = "Failed to submit request"
	ErrMsgDecideFailed      = "Failed to record decision"
	ErrMsgStatusFailed      = "Failed to get request status"
	ErrMsgAwaitingFailed    = "Failed to list requests awaiting approval"
)

// Job error messages
const (
	ErrMsgJobIDRequired    = "Job id is required"
	ErrMsgJobNotFound      = "Job not found"
	ErrMsgInvalidJobState  = "Invalid job state"
	ErrMsgJobListFailed    = "Failed to list jobs"
	ErrMsgJobGetFailed     = "Failed to get job"
	ErrMsgJobCancelFailed  = "Failed to cancel job"
	ErrMsgSchedulerStopped = "Scheduler is not accepting commands"
)

// Audit error messages
const (
	ErrMsgInvalidEventType  = "Invalid audit event type"
	ErrMsgInvalidTimeRange  = "Invalid time, expected RFC3339"
	ErrMsgInvalidFormat     = "Invalid export format"
	ErrMsgAuditQueryFailed  = "Failed to query audit ledger"
	ErrMsgAuditExportFailed = "Failed to export audit ledger"
	ErrMsgArchiveFailed     = "Failed to archive audit ledger"
	ErrMsgArchiveDisabled   = "Audit archive is not configured"
)

// respondError maps a domain error onto a status code and slug response. fallback is the
// message used for errors the caller did not cause.
func respondError(c *fiber.Ctx, err error, fallback string) error {
	var vErr *scheduler.ValidationError
	switch {
	case errors.Is(err, workflow.ErrInvalidRequest), errors.As(err, &vErr):
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	case errors.Is(err, workflow.ErrRequestNotFound):
		return c.Status(fiber.StatusNotFound).JSON(types.ErrNotFound(ErrMsgRequestNotFound))
	case errors.Is(err, scheduler.ErrJobNotFound), errors.Is(err, repos.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(types.ErrNotFound(ErrMsgJobNotFound))
	case errors.Is(err, workflow.ErrDuplicateRequest),
		errors.Is(err, workflow.ErrAlreadyDecided),
		errors.Is(err, scheduler.ErrJobTerminal):
		return c.Status(fiber.StatusConflict).JSON(types.ErrConflict(err.Error()))
	case errors.Is(err, scheduler.ErrStopped):
		return c.Status(fiber.StatusServiceUnavailable).JSON(types.ErrServer(ErrMsgSchedulerStopped))
	}
	return c.Status(fiber.StatusInternalServerError).JSON(types.ErrServer(fallback + ": " + err.Error()))
}
