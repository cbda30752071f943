package handlers

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/types"
)

// RequestHandler handles HTTP requests for service request operations
type RequestHandler struct {
	engine Workflow
}

// NewRequestHandler creates a new request handler instance
func NewRequestHandler(engine Workflow) *RequestHandler {
	return &RequestHandler{engine: engine}
}

// SubmitRequest handles the submission of a service request. Approved requests answer
// 201 with the approval record; parked requests answer 202.
func (h *RequestHandler) SubmitRequest(c *fiber.Ctx) error {
	var req workflow.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(ErrMsgInvalidReqBody + ": " + err.Error()))
	}
	// assigned here so a parked request can still be looked up by the caller
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	rec, err := h.engine.Submit(c.UserContext(), req)
	if errors.Is(err, workflow.ErrApprovalRequired) {
		return c.Status(fiber.StatusAccepted).JSON(types.SlugResponse{
			Slug: types.AwaitingApprovalSlug,
			Data: types.SubmitResponse{RequestID: req.ID},
		})
	}
	if err != nil {
		return respondError(c, err, ErrMsgSubmitFailed)
	}
	return c.Status(fiber.StatusCreated).
		JSON(types.Success(types.SubmitResponse{RequestID: req.ID, Approval: rec}))
}

// DecideRequest records a named approver's decision on a parked request
func (h *RequestHandler) DecideRequest(c *fiber.Ctx) error {
	requestID := c.Params("id")
	if requestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(ErrMsgRequestIDRequired))
	}

	var decision workflow.ApproverDecision
	if err := c.BodyParser(&decision); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(ErrMsgInvalidReqBody + ": " + err.Error()))
	}

	rec, err := h.engine.Decide(c.UserContext(), requestID, decision)
	if err != nil {
		return respondError(c, err, ErrMsgDecideFailed)
	}
	return c.JSON(types.Success(types.SubmitResponse{RequestID: requestID, Approval: rec}))
}

// GetRequestStatus handles the request to get a service request's status
func (h *RequestHandler) GetRequestStatus(c *fiber.Ctx) error {
	requestID := c.Params("id")
	if requestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(ErrMsgRequestIDRequired))
	}

	status, err := h.engine.RequestStatus(c.UserContext(), requestID)
	if err != nil {
		return respondError(c, err, ErrMsgStatusFailed)
	}
	return c.JSON(types.Success(status))
}

// ListAwaitingRequests lists requests parked for a named approver, oldest first
func (h *RequestHandler) ListAwaitingRequests(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", DefaultPageSize)
	if limit < MinPageSize {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(ErrMsgInvalidLimit))
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	reqs, err := h.engine.Awaiting(c.UserContext(), limit)
	if err != nil {
		return respondError(c, err, ErrMsgAwaitingFailed)
	}
	return c.JSON(types.Success(types.NewListResponse[models.ServiceRequest](reqs)))
}
