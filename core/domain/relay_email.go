package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EmailStatus is the terminal processing status of a stored email record.
type EmailStatus string

const (
	StatusForwarded       EmailStatus = "forwarded"
	StatusBlocked         EmailStatus = "blocked"
	StatusIgnored         EmailStatus = "ignored"
	StatusError           EmailStatus = "error"
	StatusCommandExecuted EmailStatus = "command-executed"
)

// Email is a raw inbound message as fetched from a mailbox, before any
// classification decision has been made.
type Email struct {
	MessageID    string    `json:"message_id"`
	Sender       string    `json:"sender"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	HTMLBody     string    `json:"html_body"`
	AccountEmail string    `json:"account_email"`
	ReceivedAt   time.Time `json:"received_at"`
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// ContentHash returns the content-identity hash used for duplicate
// suppression: sha256 over lowercased sender, subject and the normalized
// text content (body when present, otherwise HTML with tags stripped),
// joined with '|'.
func (e *Email) ContentHash() string {
	content := e.Body
	if strings.TrimSpace(content) == "" {
		content = e.HTMLBody
	}
	text := htmlTagPattern.ReplaceAllString(content, " ")
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))

	raw := fmt.Sprintf("%s|%s|%s",
		strings.ToLower(e.Sender),
		strings.ToLower(e.Subject),
		normalized,
	)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

var (
	labeledAmountPattern = regexp.MustCompile(`(?i)\b(?:total|amount due|amount)\b\D{0,20}\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	anyAmountPattern     = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
)

// ParseAmount extracts the purchase total from the subject and content,
// preferring a dollar amount labeled "Total" or "Amount" over the first
// one that appears. Returns false when the email carries no amount.
func (e *Email) ParseAmount() (float64, bool) {
	content := e.Body
	if strings.TrimSpace(content) == "" {
		content = htmlTagPattern.ReplaceAllString(e.HTMLBody, " ")
	}
	text := e.Subject + " " + content

	m := labeledAmountPattern.FindStringSubmatch(text)
	if m == nil {
		m = anyAmountPattern.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SenderDomain extracts the domain part of the sender address, lowercased.
// Returns "" when the sender has no '@'.
func (e *Email) SenderDomain() string {
	addr := strings.ToLower(strings.TrimSpace(e.Sender))
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.TrimSuffix(addr[i+1:], ">")
	}
	return ""
}

// EmailRecord is the persisted outcome of processing one email.
// Body and HTML are encrypted at rest and nulled once retention expires.
type EmailRecord struct {
	ID                 int64       `json:"id" db:"id"`
	EmailID            string      `json:"email_id" db:"email_id"`
	ContentHash        string      `json:"content_hash" db:"content_hash"`
	AccountEmail       string      `json:"account_email" db:"account_email"`
	Sender             string      `json:"sender" db:"sender"`
	Subject            string      `json:"subject" db:"subject"`
	Category           string      `json:"category" db:"category"`
	Amount             *float64    `json:"amount" db:"amount"`
	Status             EmailStatus `json:"status" db:"status"`
	Reason             string      `json:"reason" db:"reason"`
	EncryptedBody      *string     `json:"-" db:"encrypted_body"`
	EncryptedHTML      *string     `json:"-" db:"encrypted_html"`
	ReceivedAt         time.Time   `json:"received_at" db:"received_at"`
	ProcessedAt        time.Time   `json:"processed_at" db:"processed_at"`
	RetentionExpiresAt *time.Time  `json:"retention_expires_at" db:"retention_expires_at"`
}
