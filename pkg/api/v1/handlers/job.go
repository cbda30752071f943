package handlers

import (
	fiber "github.com/gofiber/fiber/v2"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/types"
)

// JobHandler handles HTTP requests for job operations
type JobHandler struct {
	engine    Workflow
	scheduler JobControl
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(engine Workflow, scheduler JobControl) *JobHandler {
	return &JobHandler{
		engine:    engine,
		scheduler: scheduler,
	}
}

// GetJob handles the request to get a job
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(ErrMsgJobIDRequired))
	}

	job, err := h.engine.Job(c.UserContext(), jobID)
	if err != nil {
		return respondError(c, err, ErrMsgJobGetFailed)
	}
	return c.JSON(types.Success(job))
}

// ListJobs handles the request to list jobs, newest arrival first
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	opts, err := getPaginationOptions(c.QueryInt("page", 1), c.QueryInt("limit", 0))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	// an explicit offset wins over the page number
	if offset := c.QueryInt("offset", -1); offset >= 0 {
		opts.Offset = offset
	}

	if stateStr := c.Query("state"); stateStr != "" {
		state, err := models.ParseJobState(stateStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(types.ErrInvalidInput(ErrMsgInvalidJobState + ": " + stateStr))
		}
		opts.State = &state
	}

	jobs, err := h.engine.History(c.UserContext(), opts)
	if err != nil {
		return respondError(c, err, ErrMsgJobListFailed)
	}
	return c.JSON(types.Success(types.NewListResponse[models.Job](jobs)))
}

// CancelJob handles the request to cancel a job. A running job answers 202 because it
// only reaches its terminal state once the runner returns.
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(ErrMsgJobIDRequired))
	}

	job, err := h.scheduler.Cancel(c.UserContext(), jobID)
	if err != nil {
		return respondError(c, err, ErrMsgJobCancelFailed)
	}
	if !job.State.IsTerminal() {
		return c.Status(fiber.StatusAccepted).JSON(types.Success(job))
	}
	return c.JSON(types.Success(job))
}

// GetQueue reports the live scheduler load
func (h *JobHandler) GetQueue(c *fiber.Ctx) error {
	return c.JSON(types.Success(types.QueueResponse{
		Queued:            h.scheduler.QueueDepth(),
		Running:           h.scheduler.Running(),
		MaxConcurrentJobs: h.scheduler.MaxConcurrentJobs(),
	}))
}
