package detect

import (
	"context"
	"regexp"

	"relay_server/core/domain"
)

// ShippingStrategy detects shipping/delivery notifications. Like the
// promotional strategy it is exclusion-only, but purchase indicators
// always win: a shipping-flavored email that carries order totals or a
// receipt is still a receipt.
type ShippingStrategy struct{}

func NewShippingStrategy() *ShippingStrategy { return &ShippingStrategy{} }

func (s *ShippingStrategy) Name() string { return "Shipping" }

var shippingSenderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)shipment-tracking@amazon\.com`),
	regexp.MustCompile(`(?i)ship-confirm@amazon\.com`),
	regexp.MustCompile(`(?i)shipping@amazon\.com`),
	regexp.MustCompile(`(?i)delivery@amazon\.com`),
	regexp.MustCompile(`(?i)tracking@amazon\.com`),
	regexp.MustCompile(`(?i)shipment@amazon\.com`),
	regexp.MustCompile(`(?i)logistics@amazon\.com`),
	regexp.MustCompile(`(?i)fulfillment@amazon\.com`),
	regexp.MustCompile(`(?i)shipping-`),
	regexp.MustCompile(`(?i)delivery-`),
	regexp.MustCompile(`(?i)tracking-`),
	regexp.MustCompile(`(?i)shipment-`),
	regexp.MustCompile(`(?i)tracking@ups\.com`),
	regexp.MustCompile(`(?i)delivery@fedex\.com`),
	regexp.MustCompile(`(?i)tracking@usps\.com`),
	regexp.MustCompile(`(?i)shipment@dhl\.com`),
}

var shippingContentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)your\s+.*\s+(has\s+)?shipped`),
	regexp.MustCompile(`(?i)shipped\s+today`),
	regexp.MustCompile(`(?i)out\s+for\s+delivery`),
	regexp.MustCompile(`(?i)delivered`),
	regexp.MustCompile(`(?i)delivery\s+update`),
	regexp.MustCompile(`(?i)package\s+delivered`),
	regexp.MustCompile(`(?i)package\s+update`),
	regexp.MustCompile(`(?i)shipment\s+notification`),
	regexp.MustCompile(`(?i)tracking\s+information`),
	regexp.MustCompile(`(?i)track\s+your\s+package`),
	regexp.MustCompile(`(?i)delivery\s+notification`),
	regexp.MustCompile(`(?i)shipment\s+delivered`),
	regexp.MustCompile(`(?i)order.*shipped`),
	regexp.MustCompile(`(?i)item.*shipped`),
	regexp.MustCompile(`(?i)package.*shipped`),
	regexp.MustCompile(`(?i)delivery\s+attempt`),
	regexp.MustCompile(`(?i)delivery\s+rescheduled`),
	regexp.MustCompile(`(?i)delivery\s+delayed`),
	regexp.MustCompile(`(?i)package\s+is\s+on\s+the\s+way`),
	regexp.MustCompile(`(?i)arriving\s+today`),
	regexp.MustCompile(`(?i)arriving\s+tomorrow`),
	regexp.MustCompile(`(?i)expected\s+delivery`),
	regexp.MustCompile(`(?i)estimated\s+delivery`),
	regexp.MustCompile(`(?i)ups\s+delivery`),
	regexp.MustCompile(`(?i)fedex\s+delivery`),
	regexp.MustCompile(`(?i)usps\s+delivery`),
	regexp.MustCompile(`(?i)amazon\s+delivery`),
	regexp.MustCompile(`(?i)dhl\s+delivery`),
	regexp.MustCompile(`(?i)amazon.*shipment`),
	regexp.MustCompile(`(?i)preparing\s+to\s+ship`),
	regexp.MustCompile(`(?i)now\s+shipped`),
	regexp.MustCompile(`(?i)has\s+been\s+shipped`),
	regexp.MustCompile(`(?i)will\s+arrive`),
}

var purchaseIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)order\s+confirmation`),
	regexp.MustCompile(`(?i)purchase\s+confirmation`),
	regexp.MustCompile(`(?i)payment\s+confirmation`),
	regexp.MustCompile(`(?i)receipt`),
	regexp.MustCompile(`(?i)invoice`),
	regexp.MustCompile(`(?i)charged`),
	regexp.MustCompile(`(?i)payment\s+received`),
	regexp.MustCompile(`(?i)total.*\$\d+`),
	regexp.MustCompile(`(?i)amount.*\$\d+`),
	regexp.MustCompile(`(?i)order\s+total`),
	regexp.MustCompile(`(?i)subtotal`),
	regexp.MustCompile(`(?i)tax.*\$\d+`),
	regexp.MustCompile(`(?i)order\s+placed`),
	regexp.MustCompile(`(?i)thank\s+you\s+for.*order`),
}

func (s *ShippingStrategy) Detect(ctx context.Context, email *domain.Email) Result {
	subject, body, sender := emailFields(email)
	text := subject + " " + body

	if matchesAnyPattern(sender, shippingSenderPatterns) {
		if !matchesAnyPattern(text, purchaseIndicators) {
			return Result{
				Matched:    true,
				Confidence: 95,
				Reason:     "Shipping sender without purchase indicators",
				MatchedBy:  "Shipping Strategy",
			}
		}
	}

	if !matchesAnyPattern(text, shippingContentPatterns) {
		return Result{}
	}

	if !matchesAnyPattern(text, purchaseIndicators) {
		return Result{
			Matched:    true,
			Confidence: 90,
			Reason:     "Shipping pattern without purchase indicators",
			MatchedBy:  "Shipping Strategy",
		}
	}

	return Result{}
}

func matchesAnyPattern(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
