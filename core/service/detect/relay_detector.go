package detect

import (
	"context"
	"strings"

	"relay_server/core/domain"
	"relay_server/pkg/logger"
)

// Decision is the detector's final verdict on one email.
type Decision struct {
	IsReceipt bool
	Reason    string
	MatchedBy string
}

// Detector coordinates the detection strategies in fixed priority order:
// manual rules, transactional, promotional, shipping. The first matched
// or decisive result ends evaluation; promotional and shipping matches
// are exclusions.
type Detector struct {
	rules         *RuleStrategy
	transactional *TransactionalStrategy
	promotional   *PromotionalStrategy
	shipping      *ShippingStrategy
}

// NewDetector builds the standard pipeline. selfAddresses feed the
// reply/forward exclusion.
func NewDetector(rules RuleSource, selfAddresses []string) *Detector {
	return &Detector{
		rules:         NewRuleStrategy(rules),
		transactional: NewTransactionalStrategy(selfAddresses),
		promotional:   NewPromotionalStrategy(),
		shipping:      NewShippingStrategy(),
	}
}

// IsReceipt reports whether the email should be forwarded.
func (d *Detector) IsReceipt(ctx context.Context, email *domain.Email) bool {
	return d.Classify(ctx, email).IsReceipt
}

// Classify runs the pipeline and returns the verdict with its reason.
func (d *Detector) Classify(ctx context.Context, email *domain.Email) Decision {
	log := logger.WithField("subject", maskText(email.Subject))

	if r := d.rules.Detect(ctx, email); r.Matched {
		log.Info("Receipt matched: %s", r.Reason)
		return Decision{IsReceipt: true, Reason: r.Reason, MatchedBy: r.MatchedBy}
	} else if r.Decisive {
		log.Info("Excluded: %s", r.Reason)
		return Decision{Reason: r.Reason, MatchedBy: r.MatchedBy}
	}

	if r := d.transactional.Detect(ctx, email); r.Matched {
		log.Info("Receipt matched: %s", r.Reason)
		return Decision{IsReceipt: true, Reason: r.Reason, MatchedBy: r.MatchedBy}
	} else if r.Decisive {
		log.Info("Excluded: %s", r.Reason)
		return Decision{Reason: r.Reason, MatchedBy: r.MatchedBy}
	}

	if r := d.promotional.Detect(ctx, email); r.Matched {
		log.Info("Excluded promotional email: %s", r.Reason)
		return Decision{Reason: r.Reason, MatchedBy: r.MatchedBy}
	}

	if r := d.shipping.Detect(ctx, email); r.Matched {
		log.Info("Excluded shipping notification: %s", r.Reason)
		return Decision{Reason: r.Reason, MatchedBy: r.MatchedBy}
	}

	log.Debug("Not a receipt")
	return Decision{Reason: "No strategy matched"}
}

// Confidence returns an aggregate 0-100 confidence that the email is a
// receipt, independent of the forwarding decision. Promotional mail is
// always 0.
func (d *Detector) Confidence(ctx context.Context, email *domain.Email) int {
	subject, body, sender := emailFields(email)

	if r := d.promotional.Detect(ctx, email); r.Matched {
		return 0
	}

	confidence := 0
	if d.transactional.hasStrongReceiptIndicators(subject, body) {
		confidence += 40
	}
	confidence += d.transactional.transactionalScore(subject, body, sender) * 10
	if d.transactional.isKnownReceiptSender(sender) {
		confidence += 20
	}
	if d.transactional.hasTransactionConfirmation(subject, body) {
		confidence += 10
	}

	if confidence > 100 {
		confidence = 100
	}
	return confidence
}

// categoryBySender maps sender substrings to fallback categories, in
// evaluation order.
var categoryBySender = []struct {
	category string
	needles  []string
}{
	{"amazon", []string{"amazon", "aws"}},
	{"transportation", []string{"uber", "lyft"}},
	{"food-delivery", []string{"doordash", "grubhub", "ubereats"}},
	{"restaurants", []string{"starbucks", "mcdonalds", "subway"}},
	{"retail", []string{"walmart", "target", "costco"}},
	{"subscriptions", []string{"netflix", "spotify", "adobe"}},
	{"payments", []string{"paypal", "venmo", "square"}},
	{"utilities", []string{"att", "verizon", "comcast", "xfinity", "spectrum"}},
}

// FallbackCategory labels a receipt by hardcoded sender/subject patterns.
// Used when no stored category rule matches.
func FallbackCategory(email *domain.Email) string {
	subject, _, sender := emailFields(email)

	for _, entry := range categoryBySender {
		if containsAny(sender, entry.needles) {
			return entry.category
		}
	}

	if containsAny(sender, []string{"cvs", "walgreens", "pharmacy"}) ||
		strings.Contains(subject, "prescription") || strings.Contains(subject, "copay") {
		return "healthcare"
	}
	if containsAny(sender, []string{"irs", "dmv", "gov"}) ||
		strings.Contains(subject, "tax") || strings.Contains(subject, "license") {
		return "government"
	}

	return "other"
}
