// Package workflow implements manual overrides on processed emails:
// demoting a forwarded/blocked email to ignored, and promoting an
// ignored email to forwarded with an auto-created rule.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/pkg/apperr"
	"relay_server/pkg/logger"
)

// Service applies manual status toggles.
type Service struct {
	emails   out.EmailRecordRepository
	rules    out.ManualRuleRepository
	source   out.MailSource
	sink     out.MailSink
	cipher   out.ContentCipher
	accounts []domain.Account
	target   string
	log      *logger.Logger
}

func NewService(
	emails out.EmailRecordRepository,
	rules out.ManualRuleRepository,
	source out.MailSource,
	sink out.MailSink,
	cipher out.ContentCipher,
	accounts []domain.Account,
	target string,
) *Service {
	return &Service{
		emails:   emails,
		rules:    rules,
		source:   source,
		sink:     sink,
		cipher:   cipher,
		accounts: accounts,
		target:   target,
		log:      logger.WithField("component", "workflow"),
	}
}

// ToggleToIgnored demotes a forwarded or blocked email to ignored.
func (s *Service) ToggleToIgnored(ctx context.Context, emailID int64) (*domain.EmailRecord, error) {
	record, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email %d: %w", emailID, err)
	}
	if record == nil {
		return nil, apperr.NotFound("email")
	}

	if record.Status != domain.StatusForwarded && record.Status != domain.StatusBlocked {
		return nil, apperr.BadRequest(fmt.Sprintf(
			"email status is %q; only forwarded or blocked emails can be changed to ignored", record.Status))
	}

	reason := fmt.Sprintf("Manually changed from %s to ignored", record.Status)
	if err := s.emails.UpdateStatus(ctx, emailID, domain.StatusIgnored, reason); err != nil {
		return nil, fmt.Errorf("failed to update email %d: %w", emailID, err)
	}

	record.Status = domain.StatusIgnored
	record.Reason = reason
	return record, nil
}

// ToggleIgnoredToForwarded promotes an ignored email: the original
// content is recovered (decrypted store first, then IMAP refetch), the
// email is forwarded, and a manual rule is created for the sender so
// future mail forwards automatically. Nothing is persisted when the
// forward fails.
func (s *Service) ToggleIgnoredToForwarded(ctx context.Context, emailID int64) (*domain.EmailRecord, *domain.ManualRule, error) {
	record, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load email %d: %w", emailID, err)
	}
	if record == nil {
		return nil, nil, apperr.NotFound("email")
	}
	if record.Status != domain.StatusIgnored {
		return nil, nil, apperr.BadRequest(fmt.Sprintf("email status is %q, not ignored", record.Status))
	}
	if s.target == "" {
		return nil, nil, apperr.ConfigError("forwarding target not configured")
	}

	pattern := senderAddress(record.Sender)
	if pattern == "" {
		return nil, nil, apperr.BadRequest("could not extract email pattern from sender")
	}

	rule, err := s.rules.FindByEmailPattern(ctx, pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("failed rule lookup for %q: %w", pattern, err)
	}

	body, htmlBody := s.recoverContent(ctx, record)
	banner := fmt.Sprintf(
		"[This email was previously marked as %s and is now being forwarded per your request]\n\n",
		record.Status)

	email := &domain.Email{
		MessageID:    record.EmailID,
		Sender:       record.Sender,
		Subject:      record.Subject,
		Body:         banner + body,
		HTMLBody:     htmlBody,
		AccountEmail: record.AccountEmail,
		ReceivedAt:   record.ReceivedAt,
	}
	if err := s.sink.Forward(ctx, email, s.target); err != nil {
		return nil, nil, apperr.MailError("forward toggled email", err)
	}

	if err := s.emails.UpdateStatus(ctx, emailID, domain.StatusForwarded, "Manually toggled from ignored"); err != nil {
		return nil, nil, fmt.Errorf("failed to update email %d: %w", emailID, err)
	}
	record.Status = domain.StatusForwarded
	record.Reason = "Manually toggled from ignored"

	if rule == nil {
		rule = &domain.ManualRule{
			EmailPattern: pattern,
			Priority:     domain.DefaultManualRulePriority,
			Purpose:      fmt.Sprintf("Auto-created from ignored email: %s", truncateSubject(record.Subject)),
		}
		if err := s.rules.Create(ctx, rule); err != nil {
			return nil, nil, fmt.Errorf("failed to create rule for %q: %w", pattern, err)
		}
		s.log.WithField("pattern", pattern).Info("Rule auto-created from ignored email")
	}

	return record, rule, nil
}

// recoverContent prefers the encrypted stored content; when retention
// already nulled it, the original is refetched over IMAP from the owning
// account, then from any other account.
func (s *Service) recoverContent(ctx context.Context, record *domain.EmailRecord) (body, htmlBody string) {
	if s.cipher != nil {
		if record.EncryptedBody != nil {
			if text, err := s.cipher.Decrypt(*record.EncryptedBody); err == nil && text != "" {
				body = text
			}
		}
		if record.EncryptedHTML != nil {
			if text, err := s.cipher.Decrypt(*record.EncryptedHTML); err == nil && text != "" {
				htmlBody = text
			}
		}
		if body != "" || htmlBody != "" {
			return body, htmlBody
		}
	}

	if s.source == nil || record.EmailID == "" {
		return s.placeholderBody(record), ""
	}

	// Owning account first, then everything else.
	ordered := make([]domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.Email, record.AccountEmail) {
			ordered = append([]domain.Account{acc}, ordered...)
		} else {
			ordered = append(ordered, acc)
		}
	}
	for _, acc := range ordered {
		email, err := s.source.FetchByMessageID(ctx, acc, record.EmailID)
		if err != nil {
			s.log.WithError(err).WithField("account", logger.Mask(acc.Email)).
				Debug("Refetch failed, trying next account")
			continue
		}
		if email != nil {
			return email.Body, email.HTMLBody
		}
	}

	return s.placeholderBody(record), ""
}

func (s *Service) placeholderBody(record *domain.EmailRecord) string {
	reason := record.Reason
	if reason == "" {
		reason = "Not a receipt"
	}
	return fmt.Sprintf(
		"[Original content no longer available]\n\nOriginally received: %s\nCategory: %s\nReason for initial ignore: %s\n",
		record.ReceivedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		record.Category,
		reason,
	)
}

// senderAddress extracts the bare lowercase address from a From header
// value like `Store <orders@store.com>`.
func senderAddress(sender string) string {
	addr := strings.TrimSpace(sender)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = addr[i+1:]
		addr = strings.TrimSuffix(addr, ">")
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.Contains(addr, "@") {
		return ""
	}
	return addr
}

func truncateSubject(subject string) string {
	if len(subject) > 50 {
		return subject[:47] + "..."
	}
	return subject
}
