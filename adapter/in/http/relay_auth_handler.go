package http

import (
	"crypto/subtle"
	"time"

	"relay_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// sessionTTL is how long a dashboard login stays valid.
const sessionTTL = 24 * time.Hour

// AuthHandler issues dashboard session tokens. The dashboard is single
// user: one shared password, exchanged for a short-lived JWT.
type AuthHandler struct {
	password  string
	jwtSecret string
}

func NewAuthHandler(password, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		password:  password,
		jwtSecret: jwtSecret,
	}
}

// Register registers auth routes. These stay outside the JWT middleware.
func (h *AuthHandler) Register(router fiber.Router) {
	auth := router.Group("/auth")
	auth.Post("/login", h.Login)
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Login exchanges the dashboard password for a session token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if h.password == "" || h.jwtSecret == "" {
		return ErrorResponse(c, 503, "dashboard login is not configured")
	}

	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		logger.WithField("ip", c.IP()).Warn("Dashboard login rejected")
		return ErrorResponse(c, 401, "invalid password")
	}

	now := time.Now()
	expiresAt := now.Add(sessionTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dashboard",
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(h.jwtSecret))
	if err != nil {
		return InternalErrorResponse(c, err, "token signing")
	}

	return SuccessResponse(c, loginResponse{
		Token:     signed,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}
