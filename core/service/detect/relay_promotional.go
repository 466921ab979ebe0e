package detect

import (
	"context"
	"regexp"
	"strings"

	"relay_server/core/domain"
)

// PromotionalStrategy detects marketing mail. It is exclusion-only: a
// match means the email is promotional and must not be forwarded.
type PromotionalStrategy struct{}

func NewPromotionalStrategy() *PromotionalStrategy { return &PromotionalStrategy{} }

func (s *PromotionalStrategy) Name() string { return "Promotional" }

var promotionalKeywords = []string{
	"sale", "discount", "coupon", "deal", "deals", "offer", "promotion",
	"promo", "save", "savings", "off", "clearance", "limited time", "hurry",
	"newsletter", "weekly ad", "special offer", "flash sale", "free shipping",
	"member exclusive", "subscriber", "unsubscribe", "marketing", "browse",
	"shop now", "check out", "new arrivals", "trending", "bestseller",
	"featured", "recommended", "catalog", "circular", "black friday",
	"cyber monday", "holiday sale", "back to school", "rewards program",
	"loyalty", "points earned", "cashback earned", "gift card", "sweepstakes",
	"contest", "giveaway", "win", "personalized", "just for you",
	"based on your", "you might like",
	// Gaming/deals specific
	"weekly digest", "daily digest", "roundup", "this week", "new releases",
	"best deals", "top deals", "hot deals", "price drop", "discounted",
	"on sale", "reduced price", "lowest price", "price alert", "wishlist",
	"watch list", "compare prices", "deal alert",
	// Newsletter patterns
	"digest", "update", "news", "updates", "latest", "recent", "weekly",
	"monthly", "daily", "edition", "issue", "curated", "handpicked",
	"selected", "picks",
	// Marketing action words
	"discover", "explore", "find", "search", "view all", "see more",
	"learn more", "read more", "get started", "sign up", "join", "register",
	"download", "try",
	// Promotional urgency
	"expires", "ending", "last chance", "final", "closing",
	"while supplies last", "limited quantity", "almost gone",
}

var marketingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d+%\s*off`),
	regexp.MustCompile(`(?i)save\s*\$\d+`),
	regexp.MustCompile(`(?i)free\s*shipping`),
	regexp.MustCompile(`(?i)limited\s*time`),
	regexp.MustCompile(`(?i)act\s*now`),
	regexp.MustCompile(`(?i)shop\s*now`),
	regexp.MustCompile(`(?i)don't\s*miss`),
	regexp.MustCompile(`(?i)hurry`),
	regexp.MustCompile(`(?i)ends\s*(soon|today)`),
	regexp.MustCompile(`(?i)check\s*this\s*week`),
	regexp.MustCompile(`(?i)new\s*discounts`),
	regexp.MustCompile(`(?i)best\s*deals`),
	regexp.MustCompile(`(?i)weekly\s*digest`),
	regexp.MustCompile(`(?i)\+\d+\s*this\s*week`),
	regexp.MustCompile(`(?i)deals?\s*weekly`),
	regexp.MustCompile(`(?i)price\s*drop`),
	regexp.MustCompile(`(?i)now\s*\$\d+`),
}

var trackingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)awstrack\.me`),
	regexp.MustCompile(`(?i)click\.`),
	regexp.MustCompile(`(?i)track\.`),
	regexp.MustCompile(`(?i)utm_`),
	regexp.MustCompile(`(?i)newsletter`),
	regexp.MustCompile(`(?i)unsubscribe`),
}

var dealsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)deals?\s*net`),
	regexp.MustCompile(`(?i)deals?\s*com`),
	regexp.MustCompile(`(?i)bargain`),
	regexp.MustCompile(`(?i)slickdeals`),
	regexp.MustCompile(`(?i)reddit.*deals`),
	regexp.MustCompile(`(?i)steam.*sale`),
	regexp.MustCompile(`(?i)game.*deals`),
}

// promoAllowlist carves receipt-like mail out of the promotional
// exclusion (subscription renewals, Xbox/Game Pass receipts).
var promoAllowlist = []string{
	"xbox",
	"game pass",
	"subscription renewal",
	"renewal receipt",
}

// govSenderExemptions keep government mail (IRS, DMV) out of the
// promotional bucket regardless of wording.
var govSenderExemptions = []string{"irs", "dmv", "gov"}

func (s *PromotionalStrategy) Detect(ctx context.Context, email *domain.Email) Result {
	subject, body, sender := emailFields(email)

	text := subject + " " + body
	if strings.Contains(text, "subscribe & save") || strings.Contains(text, "subscription order") {
		return Result{}
	}
	if containsAny(sender, govSenderExemptions) {
		return Result{}
	}

	allowlisted := containsAny(subject, promoAllowlist) ||
		containsAny(body, promoAllowlist) ||
		containsAny(sender, promoAllowlist)

	if containsAny(subject, promotionalKeywords) {
		if allowlisted {
			return Result{}
		}
		return Result{
			Matched:    true,
			Confidence: 90,
			Reason:     "Promotional keyword in subject",
			MatchedBy:  "Promotional Strategy",
		}
	}

	if containsAny(body, promotionalKeywords) {
		if allowlisted {
			return Result{}
		}
		return Result{
			Matched:    true,
			Confidence: 80,
			Reason:     "Promotional keyword in body",
			MatchedBy:  "Promotional Strategy",
		}
	}

	for _, p := range marketingPatterns {
		if p.MatchString(subject) || p.MatchString(body) {
			if allowlisted {
				return Result{}
			}
			return Result{
				Matched:    true,
				Confidence: 85,
				Reason:     "Marketing pattern detected",
				MatchedBy:  "Promotional Strategy",
			}
		}
	}

	for _, p := range trackingPatterns {
		if p.MatchString(body) {
			return Result{
				Matched:    true,
				Confidence: 70,
				Reason:     "Tracking pattern in body",
				MatchedBy:  "Promotional Strategy",
			}
		}
	}

	for _, p := range dealsPatterns {
		if p.MatchString(sender) || p.MatchString(subject) || p.MatchString(body) {
			return Result{
				Matched:    true,
				Confidence: 90,
				Reason:     "Deal site pattern detected",
				MatchedBy:  "Promotional Strategy",
			}
		}
	}

	return Result{}
}
