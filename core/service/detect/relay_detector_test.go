package detect

import (
	"context"
	"strings"
	"testing"

	"relay_server/core/domain"
)

func TestDetectorPipelineOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		rules         []*domain.ManualRule
		prefs         []*domain.Preference
		self          []string
		email         *domain.Email
		wantReceipt   bool
		wantMatchedBy string
	}{
		{
			name: "amazon shipping email with order total is a receipt",
			email: &domain.Email{
				Sender:  "auto-confirm@amazon.com",
				Subject: "Your order has shipped",
				Body:    "Order total: $45.23",
			},
			wantReceipt:   true,
			wantMatchedBy: "Transactional Strategy",
		},
		{
			name: "weekly deals roundup is excluded",
			email: &domain.Email{
				Sender:  "news@dealsite.com",
				Subject: "50% off weekly deals roundup",
			},
			wantReceipt:   false,
			wantMatchedBy: "Promotional Strategy",
		},
		{
			name: "reply exclusion fires before content matching",
			email: &domain.Email{
				Sender:  "someone@example.com",
				Subject: "Re: Your receipt",
				Body:    "Order #123456 Total: $50.00",
			},
			wantReceipt:   false,
			wantMatchedBy: "Transactional Strategy",
		},
		{
			name: "blocked preference vetoes everything downstream",
			prefs: []*domain.Preference{
				{Type: domain.PrefBlockedSender, Item: "spam.com"},
			},
			email: &domain.Email{
				Sender:  "offers@spam.com",
				Subject: "Payment receipt for your order",
				Body:    "Order #999999 Total: $10.00",
			},
			wantReceipt:   false,
			wantMatchedBy: "Blocked Preference",
		},
		{
			name: "manual rule forces forwarding of promotional-looking mail",
			rules: []*domain.ManualRule{
				{EmailPattern: "*@dealsite.com", Purpose: "Track deal site", Priority: 100},
			},
			email: &domain.Email{
				Sender:  "news@dealsite.com",
				Subject: "50% off weekly deals roundup",
			},
			wantReceipt:   true,
			wantMatchedBy: "Manual Rule",
		},
		{
			name: "shadow rules are not consulted",
			rules: []*domain.ManualRule{
				// ActiveRules excludes shadow rows; an empty active set
				// means no rule hit.
			},
			email: &domain.Email{
				Sender:  "unknown@nowhere.com",
				Subject: "Hi there",
			},
			wantReceipt: false,
		},
		{
			name: "pure shipping notification is excluded",
			email: &domain.Email{
				Sender:  "tracking@ups.com",
				Subject: "Package out for delivery",
				Body:    "Your package arrives soon",
			},
			wantReceipt:   false,
			wantMatchedBy: "Shipping Strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(&fakeRuleSource{rules: tt.rules, prefs: tt.prefs}, tt.self)
			got := d.Classify(ctx, tt.email)

			if got.IsReceipt != tt.wantReceipt {
				t.Errorf("IsReceipt = %v, want %v (reason %q)", got.IsReceipt, tt.wantReceipt, got.Reason)
			}
			if tt.wantMatchedBy != "" && got.MatchedBy != tt.wantMatchedBy {
				t.Errorf("MatchedBy = %q, want %q", got.MatchedBy, tt.wantMatchedBy)
			}
		})
	}
}

func TestDetectorConfidence(t *testing.T) {
	ctx := context.Background()
	d := NewDetector(&fakeRuleSource{}, nil)

	tests := []struct {
		name    string
		email   *domain.Email
		want    func(int) bool
		wantDsc string
	}{
		{
			name: "promotional mail scores zero",
			email: &domain.Email{
				Subject: "Flash sale this weekend",
				Body:    "Don't miss out",
			},
			want:    func(c int) bool { return c == 0 },
			wantDsc: "0",
		},
		{
			name: "strong receipt scores high",
			email: &domain.Email{
				Sender:  "auto-confirm@amazon.com",
				Subject: "Order Confirmation",
				Body:    "Order #123456 Total: $45.23",
			},
			want:    func(c int) bool { return c >= 80 },
			wantDsc: ">= 80",
		},
		{
			name:    "plain conversation scores low",
			email:   &domain.Email{Subject: "Lunch?", Body: "Noon works", Sender: "friend@example.com"},
			want:    func(c int) bool { return c < 30 },
			wantDsc: "< 30",
		},
		{
			name: "confidence is capped at 100",
			email: &domain.Email{
				Sender:  "auto-confirm@amazon.com",
				Subject: "Payment receipt order confirmation invoice",
				Body:    "Order #123456 invoice #987654 transaction payment billing statement due date autopay $45.23",
			},
			want:    func(c int) bool { return c == 100 },
			wantDsc: "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Confidence(ctx, tt.email)
			if !tt.want(got) {
				t.Errorf("Confidence = %d, want %s", got, tt.wantDsc)
			}
		})
	}
}

func TestCategorizerStoredRulesWin(t *testing.T) {
	ctx := context.Background()
	src := &fakeRuleSource{cats: []*domain.CategoryRule{
		{MatchType: domain.CategoryMatchSender, Pattern: "*@uber.com", AssignedCategory: "Travel", Priority: 100},
		{MatchType: domain.CategoryMatchSubject, Pattern: "*prescription*", AssignedCategory: "Pharmacy", Priority: 50},
	}}
	c := NewCategorizer(src)

	tests := []struct {
		name  string
		email *domain.Email
		want  string
	}{
		{"sender rule", &domain.Email{Sender: "receipts@uber.com", Subject: "Trip"}, "Travel"},
		{"subject rule", &domain.Email{Sender: "x@y.com", Subject: "Your prescription is ready"}, "Pharmacy"},
		{"fallback when no rule matches", &domain.Email{Sender: "orders@amazon.com", Subject: "Order"}, "amazon"},
		{"fallback other", &domain.Email{Sender: "person@nowhere.io", Subject: "Hi"}, "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Predict(ctx, tt.email); got != tt.want {
				t.Errorf("Predict = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFallbackCategory(t *testing.T) {
	tests := []struct {
		sender  string
		subject string
		want    string
	}{
		{"auto-confirm@amazon.com", "", "amazon"},
		{"receipts@uber.com", "", "transportation"},
		{"no-reply@doordash.com", "", "food-delivery"},
		{"orders@starbucks.com", "", "restaurants"},
		{"receipt@walmart.com", "", "retail"},
		{"info@netflix.com", "", "subscriptions"},
		{"service@paypal.com", "", "payments"},
		{"billing@verizon.com", "", "utilities"},
		{"rx@cvs.com", "", "healthcare"},
		{"someone@somewhere.com", "Your prescription refill", "healthcare"},
		{"noreply@irs.gov", "", "government"},
		{"someone@somewhere.com", "Your tax documents", "government"},
		{"person@nowhere.io", "Hello", "other"},
	}

	for _, tt := range tests {
		email := &domain.Email{Sender: tt.sender, Subject: tt.subject}
		if got := FallbackCategory(email); got != tt.want {
			t.Errorf("FallbackCategory(%q, %q) = %q, want %q", tt.sender, tt.subject, got, tt.want)
		}
	}
}

func TestMaskTextNeverLeaksContent(t *testing.T) {
	secret := "order from sensitive-store.com"
	masked := maskText(secret)
	if strings.Contains(masked, "sensitive") {
		t.Errorf("maskText leaked content: %q", masked)
	}
	if masked == "" {
		t.Error("maskText of non-empty text should not be empty")
	}
	if maskText("") != "" {
		t.Error("maskText of empty text should be empty")
	}
}
