// Package http exposes the dashboard REST API.
package http

import (
	"context"
	"strings"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/gofiber/fiber/v2"
)

// CacheInvalidator drops cached rule sets after a mutation so the next
// processing run sees fresh rules.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// RuleHandler manages forwarding rules and category rules.
type RuleHandler struct {
	rules      out.ManualRuleRepository
	categories out.CategoryRuleRepository
	cache      CacheInvalidator
}

func NewRuleHandler(rules out.ManualRuleRepository, categories out.CategoryRuleRepository, cache CacheInvalidator) *RuleHandler {
	return &RuleHandler{
		rules:      rules,
		categories: categories,
		cache:      cache,
	}
}

func (h *RuleHandler) Register(router fiber.Router) {
	rules := router.Group("/rules")
	rules.Get("/", h.ListRules)
	rules.Post("/", h.CreateRule)
	rules.Put("/:id", h.UpdateRule)
	rules.Delete("/:id", h.DeleteRule)

	categories := router.Group("/categories")
	categories.Get("/", h.ListCategories)
	categories.Post("/", h.CreateCategory)
	categories.Delete("/:id", h.DeleteCategory)
}

// =============================================================================
// Manual rules
// =============================================================================

type ruleRequest struct {
	EmailPattern   string `json:"email_pattern"`
	SubjectPattern string `json:"subject_pattern"`
	Purpose        string `json:"purpose"`
	Priority       *int   `json:"priority"`
	IsShadowMode   bool   `json:"is_shadow_mode"`
}

func (r *ruleRequest) validate() string {
	r.EmailPattern = strings.TrimSpace(r.EmailPattern)
	r.SubjectPattern = strings.TrimSpace(r.SubjectPattern)
	if r.EmailPattern == "" && r.SubjectPattern == "" {
		return "email_pattern or subject_pattern is required"
	}
	return ""
}

// ListRules returns all rules, live and shadow.
func (h *RuleHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.rules.ListAll(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "list rules")
	}
	return SuccessResponse(c, rules)
}

func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	if msg := req.validate(); msg != "" {
		return ErrorResponse(c, 400, msg)
	}

	priority := domain.DefaultManualRulePriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	rule := &domain.ManualRule{
		EmailPattern:   req.EmailPattern,
		SubjectPattern: req.SubjectPattern,
		Purpose:        req.Purpose,
		Priority:       priority,
		IsShadowMode:   req.IsShadowMode,
	}
	if err := h.rules.Create(c.Context(), rule); err != nil {
		return InternalErrorResponse(c, err, "create rule")
	}

	h.invalidate(c)
	return c.Status(201).JSON(rule)
}

func (h *RuleHandler) UpdateRule(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	rule, err := h.rules.GetByID(c.Context(), id)
	if err != nil {
		return InternalErrorResponse(c, err, "load rule")
	}
	if rule == nil {
		return ErrorResponse(c, 404, "rule not found")
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	if msg := req.validate(); msg != "" {
		return ErrorResponse(c, 400, msg)
	}

	rule.EmailPattern = req.EmailPattern
	rule.SubjectPattern = req.SubjectPattern
	rule.Purpose = req.Purpose
	rule.IsShadowMode = req.IsShadowMode
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}

	if err := h.rules.Update(c.Context(), rule); err != nil {
		return InternalErrorResponse(c, err, "update rule")
	}

	h.invalidate(c)
	return SuccessResponse(c, rule)
}

func (h *RuleHandler) DeleteRule(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if err := h.rules.Delete(c.Context(), id); err != nil {
		return InternalErrorResponse(c, err, "delete rule")
	}

	h.invalidate(c)
	return SuccessResponse(c, fiber.Map{"deleted": id})
}

// =============================================================================
// Category rules
// =============================================================================

type categoryRequest struct {
	MatchType        string `json:"match_type"`
	Pattern          string `json:"pattern"`
	AssignedCategory string `json:"assigned_category"`
	Priority         int    `json:"priority"`
}

func (h *RuleHandler) ListCategories(c *fiber.Ctx) error {
	rules, err := h.categories.ListByPriority(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "list category rules")
	}
	return SuccessResponse(c, rules)
}

func (h *RuleHandler) CreateCategory(c *fiber.Ctx) error {
	var req categoryRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	matchType := domain.CategoryMatchType(strings.ToLower(strings.TrimSpace(req.MatchType)))
	if matchType != domain.CategoryMatchSender && matchType != domain.CategoryMatchSubject {
		return ErrorResponse(c, 400, "match_type must be sender or subject")
	}
	if strings.TrimSpace(req.Pattern) == "" || strings.TrimSpace(req.AssignedCategory) == "" {
		return ErrorResponse(c, 400, "pattern and assigned_category are required")
	}

	rule := &domain.CategoryRule{
		MatchType:        matchType,
		Pattern:          strings.TrimSpace(req.Pattern),
		AssignedCategory: strings.TrimSpace(req.AssignedCategory),
		Priority:         req.Priority,
	}
	if err := h.categories.Create(c.Context(), rule); err != nil {
		return InternalErrorResponse(c, err, "create category rule")
	}

	h.invalidate(c)
	return c.Status(201).JSON(rule)
}

func (h *RuleHandler) DeleteCategory(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if err := h.categories.Delete(c.Context(), id); err != nil {
		return InternalErrorResponse(c, err, "delete category rule")
	}

	h.invalidate(c)
	return SuccessResponse(c, fiber.Map{"deleted": id})
}

func (h *RuleHandler) invalidate(c *fiber.Ctx) {
	if h.cache != nil {
		h.cache.Invalidate(c.Context())
	}
}
