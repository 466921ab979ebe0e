package out

import (
	"context"
	"time"

	"relay_server/core/domain"
)

// =============================================================================
// Mail transport
// =============================================================================

// MailSource fetches messages from a mailbox account.
type MailSource interface {
	// FetchRecent returns messages received on or after since, up to the
	// configured batch limit. Individual unparseable messages are skipped.
	FetchRecent(ctx context.Context, account domain.Account, since time.Time) ([]*domain.Email, error)
	// FetchByMessageID retrieves one message by its Message-ID header.
	FetchByMessageID(ctx context.Context, account domain.Account, messageID string) (*domain.Email, error)
}

// MailSink delivers a message to the forwarding target.
type MailSink interface {
	Forward(ctx context.Context, email *domain.Email, target string) error
}

// TokenProvider exchanges a stored refresh token for a live access token.
type TokenProvider interface {
	AccessToken(ctx context.Context, account domain.Account) (string, error)
}

// ContentCipher encrypts email content and refresh tokens at rest.
type ContentCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
