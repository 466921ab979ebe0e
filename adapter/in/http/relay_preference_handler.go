package http

import (
	"fmt"
	"strings"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/gofiber/fiber/v2"
)

// allPreferenceTypes lists every preference partition the API manages.
var allPreferenceTypes = []domain.PreferenceType{
	domain.PrefBlockedSender,
	domain.PrefBlockedCategory,
	domain.PrefAlwaysForward,
}

// PreferenceHandler manages blocked/allowed preference entries.
type PreferenceHandler struct {
	prefs out.PreferenceRepository
	cache CacheInvalidator
}

func NewPreferenceHandler(prefs out.PreferenceRepository, cache CacheInvalidator) *PreferenceHandler {
	return &PreferenceHandler{
		prefs: prefs,
		cache: cache,
	}
}

func (h *PreferenceHandler) Register(router fiber.Router) {
	prefs := router.Group("/preferences")
	prefs.Get("/", h.List)
	prefs.Post("/", h.Create)
	prefs.Put("/", h.Replace)
	prefs.Delete("/:id", h.Delete)
}

// preferencesResponse groups entries by type for the dashboard.
type preferencesResponse struct {
	BlockedSenders    []*domain.Preference `json:"blocked_senders"`
	BlockedCategories []*domain.Preference `json:"blocked_categories"`
	AlwaysForward     []*domain.Preference `json:"always_forward"`
}

func (h *PreferenceHandler) List(c *fiber.Ctx) error {
	prefs, err := h.prefs.ListByTypes(c.Context(), allPreferenceTypes...)
	if err != nil {
		return InternalErrorResponse(c, err, "list preferences")
	}

	resp := preferencesResponse{
		BlockedSenders:    []*domain.Preference{},
		BlockedCategories: []*domain.Preference{},
		AlwaysForward:     []*domain.Preference{},
	}
	for _, pref := range prefs {
		switch pref.Type {
		case domain.PrefBlockedSender:
			resp.BlockedSenders = append(resp.BlockedSenders, pref)
		case domain.PrefBlockedCategory:
			resp.BlockedCategories = append(resp.BlockedCategories, pref)
		case domain.PrefAlwaysForward:
			resp.AlwaysForward = append(resp.AlwaysForward, pref)
		}
	}
	return SuccessResponse(c, resp)
}

type preferenceRequest struct {
	Type string `json:"type"`
	Item string `json:"item"`
}

func (h *PreferenceHandler) Create(c *fiber.Ctx) error {
	var req preferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	prefType, ok := parsePreferenceType(req.Type)
	if !ok {
		return ErrorResponse(c, 400, "unknown preference type")
	}
	item := strings.ToLower(strings.TrimSpace(req.Item))
	if item == "" {
		return ErrorResponse(c, 400, "item is required")
	}

	pref := &domain.Preference{Type: prefType, Item: item}
	if err := h.prefs.Create(c.Context(), pref); err != nil {
		return InternalErrorResponse(c, err, "create preference")
	}

	h.invalidate(c)
	return c.Status(201).JSON(pref)
}

type replacePreferencesRequest struct {
	BlockedSenders    []string `json:"blocked_senders"`
	BlockedCategories []string `json:"blocked_categories"`
	AlwaysForward     []string `json:"always_forward"`
}

// Replace swaps the full preference set in one transaction.
func (h *PreferenceHandler) Replace(c *fiber.Ctx) error {
	var req replacePreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	var prefs []*domain.Preference
	seen := make(map[string]bool)
	appendAll := func(prefType domain.PreferenceType, items []string) {
		for _, item := range items {
			item = strings.ToLower(strings.TrimSpace(item))
			if item == "" || seen[string(prefType)+"|"+item] {
				continue
			}
			seen[string(prefType)+"|"+item] = true
			prefs = append(prefs, &domain.Preference{Type: prefType, Item: item})
		}
	}
	appendAll(domain.PrefBlockedSender, req.BlockedSenders)
	appendAll(domain.PrefBlockedCategory, req.BlockedCategories)
	appendAll(domain.PrefAlwaysForward, req.AlwaysForward)

	// A sender cannot be blocked and always-forwarded at the same time.
	for _, pref := range prefs {
		if pref.Type == domain.PrefAlwaysForward && seen[string(domain.PrefBlockedSender)+"|"+pref.Item] {
			return ErrorResponse(c, 400, fmt.Sprintf("%q is both blocked and always forwarded", pref.Item))
		}
	}

	if err := h.prefs.Replace(c.Context(), allPreferenceTypes, prefs); err != nil {
		return InternalErrorResponse(c, err, "replace preferences")
	}

	h.invalidate(c)
	return SuccessResponse(c, fiber.Map{"count": len(prefs)})
}

func (h *PreferenceHandler) Delete(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if err := h.prefs.Delete(c.Context(), id); err != nil {
		return InternalErrorResponse(c, err, "delete preference")
	}

	h.invalidate(c)
	return SuccessResponse(c, fiber.Map{"deleted": id})
}

func (h *PreferenceHandler) invalidate(c *fiber.Ctx) {
	if h.cache != nil {
		h.cache.Invalidate(c.Context())
	}
}

// parsePreferenceType accepts both the stored labels and snake_case
// aliases used by API clients.
func parsePreferenceType(s string) (domain.PreferenceType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocked sender", "blocked_sender":
		return domain.PrefBlockedSender, true
	case "blocked category", "blocked_category":
		return domain.PrefBlockedCategory, true
	case "always forward", "always_forward":
		return domain.PrefAlwaysForward, true
	}
	return "", false
}
