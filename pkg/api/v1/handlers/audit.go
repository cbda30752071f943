package handlers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/types"
)

// AuditHandler handles HTTP requests for the audit ledger
type AuditHandler struct {
	ledger   *audit.Ledger
	archiver Archiver
}

// NewAuditHandler creates a new audit handler instance. archiver may be nil when no
// object storage is configured.
func NewAuditHandler(ledger *audit.Ledger, archiver Archiver) *AuditHandler {
	return &AuditHandler{
		ledger:   ledger,
		archiver: archiver,
	}
}

// parseAuditFilter reads subject, actor, event_type (comma separated), from, to and limit
func parseAuditFilter(c *fiber.Ctx) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		SubjectID: c.Query("subject"),
		Actor:     c.Query("actor"),
		Limit:     c.QueryInt("limit", 0),
	}
	if filter.Limit < 0 {
		return filter, errors.New(ErrMsgInvalidLimit)
	}
	if raw := c.Query("event_type"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			et, err := models.ParseAuditEventType(strings.TrimSpace(name))
			if err != nil {
				return filter, fmt.Errorf("%s: %s", ErrMsgInvalidEventType, name)
			}
			filter.EventTypes = append(filter.EventTypes, et)
		}
	}
	for param, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%s: %s=%s", ErrMsgInvalidTimeRange, param, raw)
		}
		*dst = ts
	}
	return filter, nil
}

// QueryAudit returns ledger entries matching the query filter in append order
func (h *AuditHandler) QueryAudit(c *fiber.Ctx) error {
	filter, err := parseAuditFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	entries, err := h.ledger.Query(c.UserContext(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(ErrMsgAuditQueryFailed + ": " + err.Error()))
	}
	return c.JSON(types.Success(types.NewListResponse[models.AuditEntry](entries)))
}

// ExportAudit streams matching entries as JSON lines or CSV
func (h *AuditHandler) ExportAudit(c *fiber.Ctx) error {
	format, err := audit.ParseFormat(c.Query("format", string(audit.FormatJSONL)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(ErrMsgInvalidFormat + ": " + err.Error()))
	}
	filter, err := parseAuditFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	entries, err := h.ledger.Query(c.UserContext(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(ErrMsgAuditExportFailed + ": " + err.Error()))
	}

	c.Attachment(fmt.Sprintf("audit.%s", format))
	c.Set(fiber.HeaderContentType, format.ContentType())
	return audit.WriteEntries(c, format, entries)
}

// VerifyAudit recomputes the hash chain over the whole ledger
func (h *AuditHandler) VerifyAudit(c *fiber.Ctx) error {
	entries, err := h.ledger.Query(c.UserContext(), models.AuditFilter{})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(ErrMsgAuditQueryFailed + ": " + err.Error()))
	}

	resp := types.VerifyResponse{Intact: true, Entries: len(entries)}
	if err := audit.VerifyChain(entries); err != nil {
		resp.Intact = false
		resp.Error = err.Error()
		return c.Status(fiber.StatusConflict).JSON(types.SlugResponse{
			Slug:  types.ErrorSlug,
			Error: err.Error(),
			Data:  resp,
		})
	}
	return c.JSON(types.Success(resp))
}

// ArchiveAudit uploads matching entries to object storage. The body is an optional filter.
func (h *AuditHandler) ArchiveAudit(c *fiber.Ctx) error {
	if h.archiver == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(types.ErrServer(ErrMsgArchiveDisabled))
	}

	var filter models.AuditFilter
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&filter); err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(types.ErrInvalidInput(ErrMsgInvalidReqBody + ": " + err.Error()))
		}
	}

	res, err := h.archiver.Archive(c.UserContext(), h.ledger, filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(ErrMsgArchiveFailed + ": " + err.Error()))
	}
	return c.Status(fiber.StatusCreated).JSON(types.Success(res))
}
