package http

import (
	"relay_server/core/port/out"
	"relay_server/core/service/learning"

	"github.com/gofiber/fiber/v2"
)

// CandidateHandler serves learning candidates and their review actions.
type CandidateHandler struct {
	candidates out.LearningCandidateRepository
	learner    *learning.Service
	cache      CacheInvalidator
}

func NewCandidateHandler(candidates out.LearningCandidateRepository, learner *learning.Service, cache CacheInvalidator) *CandidateHandler {
	return &CandidateHandler{
		candidates: candidates,
		learner:    learner,
		cache:      cache,
	}
}

func (h *CandidateHandler) Register(router fiber.Router) {
	group := router.Group("/learning")
	group.Get("/candidates", h.List)
	group.Post("/candidates/:id/approve", h.Approve)
	group.Post("/candidates/:id/ignore", h.Ignore)
	group.Post("/scan", h.Scan)
}

func (h *CandidateHandler) List(c *fiber.Ctx) error {
	candidates, err := h.candidates.List(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "list candidates")
	}
	return SuccessResponse(c, candidates)
}

// Approve converts a candidate into a live forwarding rule.
func (h *CandidateHandler) Approve(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	rule, err := h.learner.ApproveCandidate(c.Context(), id)
	if err != nil {
		return InternalErrorResponse(c, err, "approve candidate")
	}

	if h.cache != nil {
		h.cache.Invalidate(c.Context())
	}
	return SuccessResponse(c, rule)
}

func (h *CandidateHandler) Ignore(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if err := h.learner.IgnoreCandidate(c.Context(), id); err != nil {
		return InternalErrorResponse(c, err, "ignore candidate")
	}
	return SuccessResponse(c, fiber.Map{"ignored": id})
}

// Scan walks recent mailbox history looking for receipts that were
// never processed, recording them as candidates.
func (h *CandidateHandler) Scan(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days <= 0 || days > 365 {
		return ErrorResponse(c, 400, "days must be between 1 and 365")
	}

	created, err := h.learner.ScanHistory(c.Context(), days)
	if err != nil {
		return InternalErrorResponse(c, err, "scan history")
	}
	return SuccessResponse(c, fiber.Map{"candidates_created": created})
}
