package http

import (
	"fmt"
	"strings"

	"relay_server/core/service/command"
	"relay_server/pkg/crypto"
	"relay_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// ActionHandler executes signed quick-action links embedded in forwarded
// emails. These are clicked from a mail client, so the endpoint is
// unauthenticated and the HMAC signature is the only credential.
type ActionHandler struct {
	signer   *crypto.ActionSigner
	commands *command.Service
	cache    CacheInvalidator
}

func NewActionHandler(signer *crypto.ActionSigner, commands *command.Service, cache CacheInvalidator) *ActionHandler {
	return &ActionHandler{
		signer:   signer,
		commands: commands,
		cache:    cache,
	}
}

// Register registers the quick action route. Must be mounted outside the
// JWT middleware.
func (h *ActionHandler) Register(router fiber.Router) {
	actions := router.Group("/actions")
	actions.Get("/quick", h.Quick)
}

func (h *ActionHandler) Quick(c *fiber.Ctx) error {
	if h.signer == nil {
		return actionPage(c, 503, "Quick actions are not configured.")
	}

	cmd := strings.ToUpper(strings.TrimSpace(c.Query("cmd")))
	arg := strings.TrimSpace(c.Query("arg"))
	ts := c.Query("ts")
	sig := c.Query("sig")

	if cmd == "" || arg == "" || ts == "" || sig == "" {
		return actionPage(c, 400, "This link is incomplete.")
	}

	if err := h.signer.Verify(cmd, arg, ts, sig); err != nil {
		logger.WithError(err).WithField("cmd", cmd).Warn("Quick action rejected")
		return actionPage(c, 403, "This link is invalid or has expired.")
	}

	message, err := h.commands.Apply(c.Context(), command.Command{Verb: cmd, Arg: arg})
	if err != nil {
		logger.WithError(err).WithField("cmd", cmd).Error("Quick action failed")
		return actionPage(c, 500, "Something went wrong applying this action.")
	}

	if h.cache != nil {
		h.cache.Invalidate(c.Context())
	}
	return actionPage(c, 200, message)
}

// actionPage renders a minimal confirmation page readable from a mail
// client's browser view.
func actionPage(c *fiber.Ctx, status int, message string) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Status(status).SendString(fmt.Sprintf(
		`<html><body style="font-family:sans-serif;text-align:center;padding-top:60px">`+
			`<h2>%s</h2><p>You can close this window.</p></body></html>`,
		message))
}
