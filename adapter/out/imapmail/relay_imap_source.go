// Package imapmail fetches mailbox messages over IMAP, with XOAUTH2 or
// password login per account.
package imapmail

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/pkg/logger"
	"relay_server/pkg/resilience"
)

// Source implements out.MailSource over IMAP.
type Source struct {
	tokens     out.TokenProvider
	batchLimit int
	cb         *gobreaker.CircuitBreaker
	log        *logger.Logger
}

// NewSource creates an IMAP mail source. tokens may be nil when no
// account uses OAuth2.
func NewSource(tokens out.TokenProvider, batchLimit int) *Source {
	return &Source{
		tokens:     tokens,
		batchLimit: batchLimit,
		cb:         resilience.NewMailBreaker("imap"),
		log:        logger.WithField("component", "imap"),
	}
}

// FetchRecent returns messages received on or after since, newest last,
// capped at the configured batch limit. Individual unparseable messages
// are skipped with a warning.
func (s *Source) FetchRecent(ctx context.Context, account domain.Account, since time.Time) ([]*domain.Email, error) {
	var emails []*domain.Email
	err := s.execute(func() error {
		c, err := s.connect(ctx, account)
		if err != nil {
			return err
		}
		defer c.Logout()

		if _, err := c.Select("INBOX", true); err != nil {
			return fmt.Errorf("failed to select inbox: %w", err)
		}

		criteria := imap.NewSearchCriteria()
		criteria.Since = since
		ids, err := c.Search(criteria)
		if err != nil {
			return fmt.Errorf("failed to search mailbox: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if len(ids) > s.batchLimit {
			ids = ids[len(ids)-s.batchLimit:]
		}

		emails, err = s.fetchMessages(c, account, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return emails, nil
}

// FetchByMessageID retrieves one message by its Message-ID header.
// Returns nil when the mailbox has no such message.
func (s *Source) FetchByMessageID(ctx context.Context, account domain.Account, messageID string) (*domain.Email, error) {
	var email *domain.Email
	err := s.execute(func() error {
		c, err := s.connect(ctx, account)
		if err != nil {
			return err
		}
		defer c.Logout()

		if _, err := c.Select("INBOX", true); err != nil {
			return fmt.Errorf("failed to select inbox: %w", err)
		}

		criteria := imap.NewSearchCriteria()
		criteria.Header.Set("Message-ID", messageID)
		ids, err := c.Search(criteria)
		if err != nil {
			return fmt.Errorf("failed to search by message id: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		fetched, err := s.fetchMessages(c, account, ids[:1])
		if err != nil {
			return err
		}
		if len(fetched) > 0 {
			email = fetched[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return email, nil
}

func (s *Source) execute(fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (s *Source) connect(ctx context.Context, account domain.Account) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPServer, account.IMAPPort)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	switch account.AuthMethod {
	case domain.AuthOAuth2:
		token, err := s.tokens.AccessToken(ctx, account)
		if err != nil {
			c.Logout()
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
		if err := c.Authenticate(newXOAuth2Client(account.LoginName(), token)); err != nil {
			c.Logout()
			return nil, fmt.Errorf("xoauth2 login failed for %s: %w", logger.Mask(account.Email), err)
		}
	default:
		if err := c.Login(account.LoginName(), account.Password); err != nil {
			c.Logout()
			return nil, fmt.Errorf("login failed for %s: %w", logger.Mask(account.Email), err)
		}
	}

	return c, nil
}

func (s *Source) fetchMessages(c *client.Client, account domain.Account, ids []uint32) ([]*domain.Email, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var emails []*domain.Email
	for msg := range messages {
		email, err := s.parseMessage(msg, section, account)
		if err != nil {
			s.log.WithError(err).WithField("account", logger.Mask(account.Email)).
				Warn("Skipping unparseable message")
			continue
		}
		emails = append(emails, email)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

func (s *Source) parseMessage(msg *imap.Message, section *imap.BodySectionName, account domain.Account) (*domain.Email, error) {
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %d has no body section", msg.SeqNum)
	}

	reader, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	email := &domain.Email{
		AccountEmail: account.Email,
		ReceivedAt:   msg.InternalDate,
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = time.Now()
	}

	header := reader.Header
	email.MessageID, _ = header.MessageID()
	email.Subject, _ = header.Subject()
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		if from[0].Name != "" {
			email.Sender = fmt.Sprintf("%s <%s>", from[0].Name, from[0].Address)
		} else {
			email.Sender = from[0].Address
		}
	}
	if email.MessageID == "" {
		email.MessageID = fmt.Sprintf("<%s@%s>", uuid.NewString(), account.Email)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever parts were already read.
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && email.Body == "":
			email.Body = string(data)
		case strings.HasPrefix(contentType, "text/html") && email.HTMLBody == "":
			email.HTMLBody = string(data)
		}
	}

	return email, nil
}

// =============================================================================
// XOAUTH2
// =============================================================================

// xoauth2Client implements the SASL XOAUTH2 mechanism Gmail expects.
type xoauth2Client struct {
	username string
	token    string
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.token))
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// The server sends a JSON error blob on failure; responding with an
	// empty line makes it return the final NO.
	return []byte(""), nil
}

// Ensure Source implements out.MailSource
var _ out.MailSource = (*Source)(nil)
