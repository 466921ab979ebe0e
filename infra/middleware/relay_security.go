package middleware

import (
	"time"

	"relay_server/pkg/logger"
	"relay_server/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Prevent MIME type sniffing
		c.Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Set("X-Frame-Options", "DENY")

		// Control referrer information
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Content Security Policy
		c.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")

		// Strict Transport Security
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		return c.Next()
	}
}

// LoginRateLimit throttles password attempts per client IP.
func LoginRateLimit(limiter *ratelimit.FixedWindowLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}
		if !limiter.Allow(c.Context(), "login:"+c.IP()) {
			logger.WithField("ip", c.IP()).Warn("Login rate limit exceeded")
			return c.Status(429).JSON(fiber.Map{
				"error":       "too many login attempts",
				"retry_after": time.Minute.String(),
			})
		}
		return c.Next()
	}
}
