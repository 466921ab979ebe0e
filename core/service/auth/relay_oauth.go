// Package auth exchanges stored OAuth2 refresh tokens for live access
// tokens used by the IMAP XOAUTH2 login.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/pkg/logger"
)

// ErrTokenExpired indicates the refresh token is permanently invalid and
// the account requires re-authentication.
var ErrTokenExpired = fmt.Errorf("oauth token expired, re-authentication required")

// expiryMargin refreshes tokens slightly before Google's reported expiry.
const expiryMargin = 5 * time.Minute

type cachedToken struct {
	accessToken string
	expiry      time.Time
}

// OAuthService implements out.TokenProvider for Gmail accounts. Refresh
// tokens are stored encrypted; access tokens are cached in memory until
// shortly before expiry.
type OAuthService struct {
	config *oauth2.Config
	cipher out.ContentCipher
	log    *logger.Logger

	mu    sync.Mutex
	cache map[string]cachedToken
}

func NewOAuthService(clientID, clientSecret string, cipher out.ContentCipher) *OAuthService {
	var config *oauth2.Config
	if clientID != "" && clientSecret != "" {
		config = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"https://mail.google.com/"},
			Endpoint:     google.Endpoint,
		}
	}
	return &OAuthService{
		config: config,
		cipher: cipher,
		log:    logger.WithField("component", "oauth"),
		cache:  make(map[string]cachedToken),
	}
}

// AccessToken returns a live access token for the account, refreshing
// through Google's token endpoint when the cached one is near expiry.
func (s *OAuthService) AccessToken(ctx context.Context, account domain.Account) (string, error) {
	if s.config == nil {
		return "", fmt.Errorf("google oauth not configured")
	}
	if account.RefreshToken == "" {
		return "", fmt.Errorf("account %s has no refresh token", logger.Mask(account.Email))
	}

	s.mu.Lock()
	cached, ok := s.cache[account.Email]
	s.mu.Unlock()
	if ok && time.Until(cached.expiry) > expiryMargin {
		return cached.accessToken, nil
	}

	refreshToken := account.RefreshToken
	if s.cipher != nil {
		if plain, err := s.cipher.Decrypt(refreshToken); err == nil && plain != "" {
			refreshToken = plain
		}
	}

	source := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		if isTokenExpiredError(err) {
			s.log.WithError(err).WithField("account", logger.Mask(account.Email)).
				Warn("Refresh token revoked, re-authentication required")
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	s.mu.Lock()
	s.cache[account.Email] = cachedToken{accessToken: token.AccessToken, expiry: token.Expiry}
	s.mu.Unlock()

	s.log.WithField("account", logger.Mask(account.Email)).Debug("Access token refreshed")
	return token.AccessToken, nil
}

// isTokenExpiredError checks if the error indicates a permanent token
// failure rather than a transient one.
func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid_client") ||
		strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "Token has been expired or revoked") ||
		strings.Contains(msg, "Token has been revoked")
}
