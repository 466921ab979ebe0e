// Package smtpmail delivers forwarded receipts over SMTP with an action
// banner for one-click blocking.
package smtpmail

import (
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/pkg/crypto"
	"relay_server/pkg/logger"
	"relay_server/pkg/resilience"
)

// Config holds SMTP delivery settings.
type Config struct {
	SenderEmail    string
	SenderPassword string
	Server         string
	Port           int
	AppURL         string
}

// Sink implements out.MailSink over authenticated SMTP submission.
type Sink struct {
	cfg    Config
	signer *crypto.ActionSigner
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger

	// send is swappable in tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSink creates an SMTP sink. signer may be nil, in which case the
// banner falls back to mailto reply links.
func NewSink(cfg Config, signer *crypto.ActionSigner) *Sink {
	if cfg.Server == "" {
		cfg.Server = "smtp.gmail.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	cfg.AppURL = strings.TrimSuffix(cfg.AppURL, "/")

	return &Sink{
		cfg:    cfg,
		signer: signer,
		cb:     resilience.NewMailBreaker("smtp"),
		log:    logger.WithField("component", "smtp"),
		send:   smtp.SendMail,
	}
}

// Forward delivers the email to target with the "Fwd:" subject and the
// action banner prepended.
func (s *Sink) Forward(ctx context.Context, email *domain.Email, target string) error {
	if s.cfg.SenderEmail == "" || s.cfg.SenderPassword == "" {
		return fmt.Errorf("smtp credentials not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := s.buildMessage(email, target)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.SenderEmail, s.cfg.SenderPassword, s.cfg.Server)

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.send(addr, auth, s.cfg.SenderEmail, []string{target}, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", logger.Mask(target), err)
	}

	s.log.WithFields(map[string]any{
		"target": logger.Mask(target),
		"sender": logger.Mask(email.Sender),
	}).Info("Email forwarded")
	return nil
}

func (s *Sink) buildMessage(email *domain.Email, target string) ([]byte, error) {
	subject := email.Subject
	if subject == "" {
		subject = "No Subject"
	}

	var buf strings.Builder
	var body strings.Builder
	writer := multipart.NewWriter(&body)

	simpleName := simpleSenderName(email.Sender)

	plain, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/plain; charset="utf-8"`},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(plain, "[Reply 'STOP %s' to block this sender]\n\n%s", simpleName, email.Body)

	html, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/html; charset="utf-8"`},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprint(html, s.buildHTML(email, simpleName, subject))

	if err := writer.Close(); err != nil {
		return nil, err
	}

	fmt.Fprintf(&buf, "From: %s\r\n", s.cfg.SenderEmail)
	fmt.Fprintf(&buf, "To: %s\r\n", target)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "Fwd: "+subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", writer.Boundary())
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(body.String())

	return []byte(buf.String()), nil
}

func (s *Sink) buildHTML(email *domain.Email, simpleName, subject string) string {
	linkStop := s.actionLink("STOP", simpleName, subject)
	linkMore := s.actionLink("MORE", simpleName, subject)

	footer := "Clicking an action opens a web confirmation."
	if s.cfg.AppURL == "" {
		footer = "Clicking an action opens your email app. Just hit Send!"
	}

	content := email.HTMLBody
	if content == "" {
		content = strings.ReplaceAll(email.Body, "\n", "<br>")
	}

	banner := fmt.Sprintf(`
	<div style="font-family: sans-serif; background-color: #f4f4f5; padding: 16px; border-radius: 8px; margin-bottom: 20px; border: 1px solid #e4e4e7;">
		<div style="font-weight: bold; color: #18181b; margin-bottom: 12px; font-size: 16px;">
			Receipt from %s
		</div>
		<div style="display: flex; gap: 10px; flex-wrap: wrap;">
			<a href="%s" style="text-decoration: none; background-color: #ef4444; color: white; padding: 8px 16px; border-radius: 6px; font-size: 14px; font-weight: 500;">
				Block %s
			</a>
			<a href="%s" style="text-decoration: none; background-color: #22c55e; color: white; padding: 8px 16px; border-radius: 6px; font-size: 14px; font-weight: 500;">
				Always Forward
			</a>
		</div>
		<div style="font-size: 11px; color: #71717a; margin-top: 12px;">%s</div>
	</div>
	<hr style="border: 0; border-top: 1px solid #e5e7eb; margin: 20px 0;">
	`, capitalize(simpleName), linkStop, capitalize(simpleName), linkMore, footer)

	return fmt.Sprintf(
		"<html><body>%s<div style=\"font-family: sans-serif;\">%s</div></body></html>",
		banner, content)
}

// actionLink builds a signed HTTP quick-action link, or a mailto reply
// fallback when no app URL is configured.
func (s *Sink) actionLink(cmd, arg, subject string) string {
	if s.cfg.AppURL != "" && s.signer != nil {
		ts := s.signer.Timestamp()
		params := url.Values{
			"cmd": {cmd},
			"arg": {arg},
			"ts":  {ts},
			"sig": {s.signer.Sign(cmd, arg, ts)},
		}
		return fmt.Sprintf("%s/api/actions/quick?%s", s.cfg.AppURL, params.Encode())
	}

	params := url.Values{
		"subject": {"Re: " + subject},
		"body":    {fmt.Sprintf("%s %s\n\n(Sent via quick action)", cmd, arg)},
	}
	return fmt.Sprintf("mailto:%s?%s", s.cfg.SenderEmail,
		strings.ReplaceAll(params.Encode(), "+", "%20"))
}

// simpleSenderName extracts a short name for commands, e.g. "amazon"
// from "Amazon <no-reply@amazon.com>".
func simpleSenderName(sender string) string {
	if i := strings.Index(sender, "@"); i >= 0 {
		domainPart := sender[i+1:]
		if j := strings.IndexAny(domainPart, "> "); j >= 0 {
			domainPart = domainPart[:j]
		}
		if k := strings.Index(domainPart, "."); k > 0 {
			return strings.ToLower(domainPart[:k])
		}
		if domainPart != "" {
			return strings.ToLower(domainPart)
		}
	}
	return "sender"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Ensure Sink implements out.MailSink
var _ out.MailSink = (*Sink)(nil)
