package http

import (
	"context"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/gofiber/fiber/v2"
)

// RunTrigger starts one processing pass on demand. The run overlap
// guard still applies: a triggered run that collides with a running one
// comes back with status skipped.
type RunTrigger interface {
	TriggerRun(ctx context.Context) (*domain.ProcessingRun, error)
}

// RunHandler serves processing run history and the manual trigger.
type RunHandler struct {
	runs    out.RunRepository
	trigger RunTrigger
}

func NewRunHandler(runs out.RunRepository, trigger RunTrigger) *RunHandler {
	return &RunHandler{
		runs:    runs,
		trigger: trigger,
	}
}

func (h *RunHandler) Register(router fiber.Router) {
	runs := router.Group("/runs")
	runs.Get("/", h.List)
	runs.Post("/trigger", h.Trigger)
}

func (h *RunHandler) List(c *fiber.Ctx) error {
	params := GetPaginationParams(c, 20)

	runs, err := h.runs.ListRecent(c.Context(), params.Limit)
	if err != nil {
		return InternalErrorResponse(c, err, "list runs")
	}
	return SuccessResponse(c, runs)
}

func (h *RunHandler) Trigger(c *fiber.Ctx) error {
	if h.trigger == nil {
		return ErrorResponse(c, 503, "processing is not configured")
	}

	run, err := h.trigger.TriggerRun(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "trigger run")
	}
	return SuccessResponse(c, run)
}
