package detect

import (
	"context"
	"regexp"
	"strings"

	"relay_server/core/domain"
)

// TransactionalStrategy detects purchase receipts, invoices and orders.
// It also owns the reply/forward exclusion, which runs before any
// positive signal is considered.
type TransactionalStrategy struct {
	// selfAddresses are the monitored mailboxes plus the forwarding
	// target; mail from any of them is treated as a reply/forward.
	selfAddresses []string
}

func NewTransactionalStrategy(selfAddresses []string) *TransactionalStrategy {
	lowered := make([]string, 0, len(selfAddresses))
	for _, a := range selfAddresses {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			lowered = append(lowered, a)
		}
	}
	return &TransactionalStrategy{selfAddresses: lowered}
}

func (s *TransactionalStrategy) Name() string { return "Transactional" }

var definitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)payment\s+receipt`),
	regexp.MustCompile(`(?i)order\s+confirmation`),
	regexp.MustCompile(`(?i)purchase\s+confirmation`),
	regexp.MustCompile(`(?i)receipt\s+for\s+your\s+payment`),
}

var strongKeywords = []string{
	"receipt",
	"invoice",
	"order complete",
	"payment received",
	"order summary",
	"order placed",
	"billing statement",
	"account statement",
	"thank you for your order",
	"order total",
	"amount charged",
	"subscribe & save",
	"subscription order",
	"ordered",
	"ordered:",
	"renewal",
	"license plate renewal",
}

var strongRegexPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)order.*confirmation`),
	regexp.MustCompile(`(?i)payment.*confirmation`),
	regexp.MustCompile(`(?i)purchase.*confirmation`),
}

var supportingEvidence = []*regexp.Regexp{
	regexp.MustCompile(`(?i)order\s*#?\s*[a-z0-9\-]{6,}`),
	regexp.MustCompile(`(?i)invoice\s*#?\s*[a-z0-9\-]{6,}`),
	regexp.MustCompile(`(?i)transaction\s*#?\s*[a-z0-9\-]{6,}`),
	regexp.MustCompile(`(?i)tracking\s*#?\s*[a-z0-9\-]{8,}`),
	regexp.MustCompile(`(?i)\$[0-9,]+\.[0-9]{2}`),
	regexp.MustCompile(`(?i)total:?\s*\$[0-9,]+\.[0-9]{2}`),
	regexp.MustCompile(`(?i)amount:?\s*\$[0-9,]+\.[0-9]{2}`),
	regexp.MustCompile(`(?i)paid:?\s*\$[0-9,]+\.[0-9]{2}`),
	regexp.MustCompile(`(?i)view your order`),
	regexp.MustCompile(`(?i)arriving (tomorrow|today|monday|tuesday|wednesday|thursday|friday|saturday|sunday)`),
}

// weightedIndicator scores one transactional signal.
type weightedIndicator struct {
	pattern *regexp.Regexp
	points  int
}

var transactionIndicators = []weightedIndicator{
	{regexp.MustCompile(`(?i)order\s*#?\s*[a-z0-9\-]{6,}`), 2},
	{regexp.MustCompile(`(?i)\$[0-9,]+\.[0-9]{2}`), 2},
	{regexp.MustCompile(`(?i)thank\s*you\s*for\s*(your\s*)?(order|purchase)`), 2},
	{regexp.MustCompile(`(?i)invoice\s*#?\s*[a-z0-9\-]{6,}`), 2},
	{regexp.MustCompile(`(?i)transaction`), 1},
	{regexp.MustCompile(`(?i)payment`), 1},
	{regexp.MustCompile(`(?i)billing`), 1},
	{regexp.MustCompile(`(?i)statement`), 1},
	{regexp.MustCompile(`(?i)account\s*balance`), 1},
	{regexp.MustCompile(`(?i)due\s*date`), 1},
	{regexp.MustCompile(`(?i)autopay`), 1},
	{regexp.MustCompile(`(?i)direct\s*debit`), 1},
	{regexp.MustCompile(`(?i)^ordered:`), 2},
}

var knownReceiptSenders = []string{
	"amazon.com",
	"amazon.co",
	"amazonses.com",
	"auto-confirm@amazon.com",
	"order-update@amazon.com",
	"digital-no-reply@amazon.com",
	"payments-messages@amazon.com",
	"paypal.com",
	"paypal-communications.com",
	"stripe.com",
	"square.com",
	"apple.com",
	"itunes.com",
	"google.com",
	"googlepayments.com",
	"microsoft.com",
	"xbox.com",
	"uber.com",
	"lyft.com",
	"doordash.com",
	"grubhub.com",
	"instacart.com",
	"shipt.com",
}

var confirmationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)confirmation`),
	regexp.MustCompile(`(?i)receipt`),
	regexp.MustCompile(`(?i)order\s*#`),
	regexp.MustCompile(`(?i)invoice`),
	regexp.MustCompile(`(?i)payment`),
	regexp.MustCompile(`(?i)charged`),
	regexp.MustCompile(`(?i)bill`),
	regexp.MustCompile(`(?i)statement`),
	regexp.MustCompile(`(?i)\$[0-9,]+\.[0-9]{2}`),
}

// replyPatterns are anchored at the start of the subject.
var replyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^re:\s*`),
	regexp.MustCompile(`(?i)^fwd?:\s*`),
	regexp.MustCompile(`(?i)^fw:\s*`),
	regexp.MustCompile(`(?i)^forward:\s*`),
	regexp.MustCompile(`(?i)^\[fwd\]`),
	regexp.MustCompile(`(?i)^\(fwd\)`),
}

func (s *TransactionalStrategy) Detect(ctx context.Context, email *domain.Email) Result {
	subject, body, sender := emailFields(email)

	// Replies and forwards are never receipts, whatever they contain.
	if s.isReplyOrForward(subject, sender) {
		return Result{
			Matched:    false,
			Confidence: 100,
			Reason:     "Reply or forward email",
			MatchedBy:  "Transactional Strategy",
			Decisive:   true,
		}
	}

	if s.hasStrongReceiptIndicators(subject, body) {
		return Result{
			Matched:    true,
			Confidence: 95,
			Reason:     "Strong receipt indicators found",
			MatchedBy:  "Transactional Strategy",
		}
	}

	if score := s.transactionalScore(subject, body, sender); score >= 3 {
		confidence := score * 20
		if confidence > 100 {
			confidence = 100
		}
		return Result{
			Matched:    true,
			Confidence: confidence,
			Reason:     "High transactional score",
			MatchedBy:  "Transactional Strategy",
		}
	}

	if s.isKnownReceiptSender(sender) && s.hasTransactionConfirmation(subject, body) {
		return Result{
			Matched:    true,
			Confidence: 85,
			Reason:     "Known sender with transaction confirmation",
			MatchedBy:  "Transactional Strategy",
		}
	}

	return Result{}
}

func (s *TransactionalStrategy) isReplyOrForward(subject, sender string) bool {
	for _, p := range replyPatterns {
		if p.MatchString(subject) {
			return true
		}
	}
	for _, addr := range s.selfAddresses {
		if strings.Contains(sender, addr) {
			return true
		}
	}
	return false
}

func (s *TransactionalStrategy) hasStrongReceiptIndicators(subject, body string) bool {
	for _, p := range definitivePatterns {
		if p.MatchString(subject) {
			return true
		}
	}

	hasKeyword := false
	for _, kw := range strongKeywords {
		if strings.Contains(subject, kw) || strings.Contains(body, kw) {
			hasKeyword = true
			break
		}
	}

	text := subject + " " + body
	hasRegex := false
	if !hasKeyword {
		for _, p := range strongRegexPatterns {
			if p.MatchString(text) {
				hasRegex = true
				break
			}
		}
	}

	if !hasKeyword && !hasRegex {
		return false
	}

	// A strong keyword alone is not enough; there must be supporting
	// evidence (an order number, a dollar amount, ...).
	for _, p := range supportingEvidence {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func (s *TransactionalStrategy) transactionalScore(subject, body, sender string) int {
	score := 0
	text := subject + " " + body + " " + sender
	for _, ind := range transactionIndicators {
		if ind.pattern.MatchString(text) {
			score += ind.points
		}
	}
	return score
}

func (s *TransactionalStrategy) isKnownReceiptSender(sender string) bool {
	return containsAny(sender, knownReceiptSenders)
}

func (s *TransactionalStrategy) hasTransactionConfirmation(subject, body string) bool {
	for _, p := range confirmationPatterns {
		if p.MatchString(subject) || p.MatchString(body) {
			return true
		}
	}
	return false
}
