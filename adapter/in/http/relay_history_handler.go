package http

import (
	"strconv"
	"strings"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/core/service/learning"
	"relay_server/core/service/workflow"

	"github.com/gofiber/fiber/v2"
)

// validHistoryStatuses guards the status filter against arbitrary input.
var validHistoryStatuses = map[string]bool{
	"forwarded":        true,
	"blocked":          true,
	"ignored":          true,
	"error":            true,
	"command-executed": true,
}

// HistoryHandler serves processed email history, the manual status
// toggles, and user feedback on classification results.
type HistoryHandler struct {
	emails   out.EmailRecordRepository
	workflow *workflow.Service
	learner  *learning.Service
	cache    CacheInvalidator
}

func NewHistoryHandler(emails out.EmailRecordRepository, wf *workflow.Service, learner *learning.Service, cache CacheInvalidator) *HistoryHandler {
	return &HistoryHandler{
		emails:   emails,
		workflow: wf,
		learner:  learner,
		cache:    cache,
	}
}

func (h *HistoryHandler) Register(router fiber.Router) {
	history := router.Group("/history")
	history.Get("/", h.List)
	history.Get("/:id", h.Get)
	history.Post("/:id/ignore", h.ToggleToIgnored)
	history.Post("/:id/forward", h.ToggleToForwarded)
	history.Post("/:id/feedback", h.SubmitFeedback)
}

func (h *HistoryHandler) List(c *fiber.Ctx) error {
	params := GetPaginationParams(c, 50)

	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if status != "" && !validHistoryStatuses[status] {
		return ErrorResponse(c, 400, "unknown status filter")
	}

	filter := out.HistoryFilter{Status: status}
	var err error
	if filter.MinAmount, err = amountQuery(c, "min_amount"); err != nil {
		return ErrorResponse(c, 400, "invalid min_amount")
	}
	if filter.MaxAmount, err = amountQuery(c, "max_amount"); err != nil {
		return ErrorResponse(c, 400, "invalid max_amount")
	}

	records, total, err := h.emails.List(c.Context(), filter, params.Limit, params.Offset)
	if err != nil {
		return InternalErrorResponse(c, err, "list history")
	}
	return SuccessResponse(c, NewListResponse(records, total, params.Offset, params.Limit))
}

func amountQuery(c *fiber.Ctx, name string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil, fiber.ErrBadRequest
	}
	return &v, nil
}

func (h *HistoryHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	record, err := h.emails.GetByID(c.Context(), id)
	if err != nil {
		return InternalErrorResponse(c, err, "load email")
	}
	if record == nil {
		return ErrorResponse(c, 404, "email not found")
	}
	return SuccessResponse(c, record)
}

// ToggleToIgnored demotes a forwarded or blocked email to ignored.
func (h *HistoryHandler) ToggleToIgnored(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	record, err := h.workflow.ToggleToIgnored(c.Context(), id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, record)
}

// ToggleToForwarded re-forwards an ignored email and reports the rule
// created (or reused) for its sender.
func (h *HistoryHandler) ToggleToForwarded(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	record, rule, err := h.workflow.ToggleIgnoredToForwarded(c.Context(), id)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	// The toggle may have created a rule, so cached rules are stale.
	if h.cache != nil {
		h.cache.Invalidate(c.Context())
	}

	return SuccessResponse(c, fiber.Map{
		"email": record,
		"rule":  rule,
	})
}

type feedbackRequest struct {
	IsReceipt bool `json:"is_receipt"`
}

// SubmitFeedback records a user verdict on a processed email. Confirming
// a receipt seeds a shadow rule for its sender, so the learner can prove
// the pattern before it ever affects forwarding.
func (h *HistoryHandler) SubmitFeedback(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	record, err := h.emails.GetByID(c.Context(), id)
	if err != nil {
		return InternalErrorResponse(c, err, "load email")
	}
	if record == nil {
		return ErrorResponse(c, 404, "email not found")
	}

	if !req.IsReceipt || h.learner == nil {
		return SuccessResponse(c, fiber.Map{"email": record, "rule": nil})
	}

	rule, err := h.learner.CreateShadowRule(c.Context(), &domain.Email{
		Sender:  record.Sender,
		Subject: record.Subject,
	})
	if err != nil {
		return InternalErrorResponse(c, err, "create shadow rule")
	}
	return SuccessResponse(c, fiber.Map{"email": record, "rule": rule})
}
