package learning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRuleRepo struct {
	rules  []*domain.ManualRule
	nextID int64
}

func (f *fakeRuleRepo) Create(ctx context.Context, rule *domain.ManualRule) error {
	f.nextID++
	rule.ID = f.nextID
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeRuleRepo) Update(ctx context.Context, rule *domain.ManualRule) error {
	for i, r := range f.rules {
		if r.ID == rule.ID {
			f.rules[i] = rule
			return nil
		}
	}
	return errors.New("rule not found")
}

func (f *fakeRuleRepo) Delete(ctx context.Context, id int64) error { return nil }

func (f *fakeRuleRepo) GetByID(ctx context.Context, id int64) (*domain.ManualRule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRuleRepo) FindByEmailPattern(ctx context.Context, pattern string) (*domain.ManualRule, error) {
	for _, r := range f.rules {
		if r.EmailPattern == pattern {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRuleRepo) ListActive(ctx context.Context) ([]*domain.ManualRule, error) {
	var out []*domain.ManualRule
	for _, r := range f.rules {
		if !r.IsShadowMode {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleRepo) ListShadow(ctx context.Context) ([]*domain.ManualRule, error) {
	var out []*domain.ManualRule
	for _, r := range f.rules {
		if r.IsShadowMode {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleRepo) ListAll(ctx context.Context) ([]*domain.ManualRule, error) {
	return f.rules, nil
}

type fakeCandidateRepo struct {
	candidates []*domain.LearningCandidate
	nextID     int64
}

func (f *fakeCandidateRepo) Create(ctx context.Context, c *domain.LearningCandidate) error {
	f.nextID++
	c.ID = f.nextID
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeCandidateRepo) Delete(ctx context.Context, id int64) error {
	for i, c := range f.candidates {
		if c.ID == id {
			f.candidates = append(f.candidates[:i], f.candidates[i+1:]...)
			return nil
		}
	}
	return errors.New("candidate not found")
}

func (f *fakeCandidateRepo) GetByID(ctx context.Context, id int64) (*domain.LearningCandidate, error) {
	for _, c := range f.candidates {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCandidateRepo) FindBySenderAndPattern(ctx context.Context, sender, pattern string) (*domain.LearningCandidate, error) {
	for _, c := range f.candidates {
		if c.Sender == sender && c.SubjectPattern == pattern {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCandidateRepo) IncrementMatches(ctx context.Context, id int64) error {
	for _, c := range f.candidates {
		if c.ID == id {
			c.Matches++
			return nil
		}
	}
	return errors.New("candidate not found")
}

func (f *fakeCandidateRepo) List(ctx context.Context) ([]*domain.LearningCandidate, error) {
	return f.candidates, nil
}

type fakeEmailRepo struct {
	known map[string]bool // message id or content hash
}

func (f *fakeEmailRepo) Create(ctx context.Context, r *domain.EmailRecord) error { return nil }
func (f *fakeEmailRepo) GetByID(ctx context.Context, id int64) (*domain.EmailRecord, error) {
	return nil, nil
}
func (f *fakeEmailRepo) Exists(ctx context.Context, emailID, contentHash string) (bool, error) {
	return f.known[emailID] || f.known[contentHash], nil
}
func (f *fakeEmailRepo) List(ctx context.Context, filter out.HistoryFilter, limit, offset int) ([]*domain.EmailRecord, int, error) {
	return nil, 0, nil
}
func (f *fakeEmailRepo) UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus, reason string) error {
	return nil
}
func (f *fakeEmailRepo) PurgeExpiredContent(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeSource struct {
	byAccount map[string][]*domain.Email
	err       map[string]error
}

func (f *fakeSource) FetchRecent(ctx context.Context, account domain.Account, since time.Time) ([]*domain.Email, error) {
	if err := f.err[account.Email]; err != nil {
		return nil, err
	}
	return f.byAccount[account.Email], nil
}

func (f *fakeSource) FetchByMessageID(ctx context.Context, account domain.Account, messageID string) (*domain.Email, error) {
	return nil, errors.New("not implemented")
}

// fakeDetector calls everything with a receipt-keyword subject a receipt.
type fakeDetector struct{}

func (fakeDetector) IsReceipt(ctx context.Context, email *domain.Email) bool {
	return strings.Contains(strings.ToLower(email.Subject), "receipt")
}

func (fakeDetector) Confidence(ctx context.Context, email *domain.Email) int {
	if strings.Contains(strings.ToLower(email.Sender), "microsoft") {
		return 90
	}
	return 60
}

func newTestService(rules *fakeRuleRepo, cands *fakeCandidateRepo, emails *fakeEmailRepo, source *fakeSource, accounts []domain.Account) *Service {
	if rules == nil {
		rules = &fakeRuleRepo{}
	}
	if cands == nil {
		cands = &fakeCandidateRepo{}
	}
	if emails == nil {
		emails = &fakeEmailRepo{known: map[string]bool{}}
	}
	if source == nil {
		source = &fakeSource{}
	}
	return NewService(rules, cands, emails, source, fakeDetector{}, accounts)
}

// =============================================================================
// Tests
// =============================================================================

func TestGenerateRuleFromEmail(t *testing.T) {
	s := newTestService(nil, nil, nil, nil, nil)

	suggestion := s.GenerateRuleFromEmail(context.Background(), &domain.Email{
		Sender:  "orders@amazon.com",
		Subject: "Your Amazon Order confirmation",
	})

	if suggestion.EmailPattern != "*@amazon.com" {
		t.Errorf("EmailPattern = %q, want %q", suggestion.EmailPattern, "*@amazon.com")
	}
	if !strings.Contains(suggestion.Purpose, "amazon") {
		t.Errorf("Purpose = %q, want it to mention the sender domain", suggestion.Purpose)
	}
	if suggestion.Confidence < 0.7 {
		t.Errorf("Confidence = %v, want >= 0.7", suggestion.Confidence)
	}
}

func TestCreateShadowRule(t *testing.T) {
	rules := &fakeRuleRepo{}
	s := newTestService(rules, nil, nil, nil, nil)

	rule, err := s.CreateShadowRule(context.Background(), &domain.Email{
		Sender:  "orders@amazon.com",
		Subject: "Order confirmation",
	})
	if err != nil {
		t.Fatalf("CreateShadowRule: %v", err)
	}
	if !rule.IsShadowMode {
		t.Error("new rule should start in shadow mode")
	}
	if rule.EmailPattern != "*@amazon.com" {
		t.Errorf("EmailPattern = %q, want %q", rule.EmailPattern, "*@amazon.com")
	}
	if rule.SubjectPattern != "*order*" {
		t.Errorf("SubjectPattern = %q, want %q", rule.SubjectPattern, "*order*")
	}
	if len(rules.rules) != 1 {
		t.Errorf("stored rules = %d, want 1", len(rules.rules))
	}

	if _, err := s.CreateShadowRule(context.Background(), &domain.Email{Sender: "no-domain"}); err == nil {
		t.Error("expected error for sender without domain")
	}
}

func TestRunShadowMode(t *testing.T) {
	tests := []struct {
		name           string
		rule           *domain.ManualRule
		email          *domain.Email
		wantMatchCount int
		wantConfGrew   bool
	}{
		{
			name:           "email pattern matches",
			rule:           &domain.ManualRule{EmailPattern: "*@store.com", IsShadowMode: true, Confidence: 0.5},
			email:          &domain.Email{Sender: "support@store.com", Subject: "Thank you for visiting"},
			wantMatchCount: 1,
			wantConfGrew:   true,
		},
		{
			name:           "email pattern does not match",
			rule:           &domain.ManualRule{EmailPattern: "*@store.com", IsShadowMode: true, Confidence: 0.5},
			email:          &domain.Email{Sender: "support@different-store.com", Subject: "Thank you"},
			wantMatchCount: 0,
		},
		{
			name: "subject pattern does not match",
			rule: &domain.ManualRule{
				EmailPattern: "*@store.com", SubjectPattern: "*order*",
				IsShadowMode: true, Confidence: 0.5,
			},
			email:          &domain.Email{Sender: "support@store.com", Subject: "Just a greeting"},
			wantMatchCount: 0,
		},
		{
			name: "both patterns match",
			rule: &domain.ManualRule{
				EmailPattern: "*@store.com", SubjectPattern: "*order*",
				IsShadowMode: true, Confidence: 0.5,
			},
			email:          &domain.Email{Sender: "support@store.com", Subject: "Your order shipped"},
			wantMatchCount: 1,
			wantConfGrew:   true,
		},
		{
			name:           "live rules are ignored",
			rule:           &domain.ManualRule{EmailPattern: "*@store.com", IsShadowMode: false, Confidence: 0.5},
			email:          &domain.Email{Sender: "support@store.com", Subject: "hi"},
			wantMatchCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := &fakeRuleRepo{}
			if err := rules.Create(context.Background(), tt.rule); err != nil {
				t.Fatal(err)
			}
			s := newTestService(rules, nil, nil, nil, nil)

			if err := s.RunShadowMode(context.Background(), tt.email); err != nil {
				t.Fatalf("RunShadowMode: %v", err)
			}

			if tt.rule.MatchCount != tt.wantMatchCount {
				t.Errorf("MatchCount = %d, want %d", tt.rule.MatchCount, tt.wantMatchCount)
			}
			if tt.wantConfGrew && tt.rule.Confidence <= 0.5 {
				t.Errorf("Confidence = %v, want > 0.5", tt.rule.Confidence)
			}
			if !tt.wantConfGrew && tt.rule.Confidence != 0.5 {
				t.Errorf("Confidence = %v, want unchanged 0.5", tt.rule.Confidence)
			}
		})
	}
}

func TestShadowConfidenceApproachesOne(t *testing.T) {
	rules := &fakeRuleRepo{}
	rule := &domain.ManualRule{EmailPattern: "*@store.com", IsShadowMode: true, Confidence: 0.5}
	rules.Create(context.Background(), rule)
	s := newTestService(rules, nil, nil, nil, nil)

	prev := rule.Confidence
	for i := 0; i < 50; i++ {
		if err := s.RunShadowMode(context.Background(), &domain.Email{Sender: "a@store.com", Subject: "x"}); err != nil {
			t.Fatal(err)
		}
		if rule.Confidence < prev {
			t.Fatalf("confidence decreased at iteration %d", i)
		}
		prev = rule.Confidence
	}
	if rule.Confidence > 1 {
		t.Errorf("Confidence = %v, must never exceed 1", rule.Confidence)
	}
	if rule.MatchCount != 50 {
		t.Errorf("MatchCount = %d, want 50", rule.MatchCount)
	}
}

func TestAutoPromoteRules(t *testing.T) {
	tests := []struct {
		name         string
		rule         *domain.ManualRule
		wantPromoted int
	}{
		{
			name: "confident and proven rule promotes",
			rule: &domain.ManualRule{
				EmailPattern: "*@high-confidence.com", IsShadowMode: true,
				Confidence: 0.95, MatchCount: 5, Purpose: "Testing",
			},
			wantPromoted: 1,
		},
		{
			name: "low confidence stays in shadow",
			rule: &domain.ManualRule{
				EmailPattern: "*@x.com", IsShadowMode: true,
				Confidence: 0.6, MatchCount: 20,
			},
			wantPromoted: 0,
		},
		{
			name: "too few matches stays in shadow",
			rule: &domain.ManualRule{
				EmailPattern: "*@x.com", IsShadowMode: true,
				Confidence: 0.99, MatchCount: 2,
			},
			wantPromoted: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := &fakeRuleRepo{}
			rules.Create(context.Background(), tt.rule)
			s := newTestService(rules, nil, nil, nil, nil)

			promoted, err := s.AutoPromoteRules(context.Background())
			if err != nil {
				t.Fatalf("AutoPromoteRules: %v", err)
			}
			if promoted != tt.wantPromoted {
				t.Errorf("promoted = %d, want %d", promoted, tt.wantPromoted)
			}

			if tt.wantPromoted == 1 {
				if tt.rule.IsShadowMode {
					t.Error("rule should have left shadow mode")
				}
				if !strings.Contains(tt.rule.Purpose, "(AUTO)") {
					t.Errorf("Purpose = %q, want automatic-promotion marker", tt.rule.Purpose)
				}
			} else if !tt.rule.IsShadowMode {
				t.Error("rule should have stayed in shadow mode")
			}
		})
	}
}

func TestAutoPromoteIsIdempotent(t *testing.T) {
	rules := &fakeRuleRepo{}
	rule := &domain.ManualRule{
		EmailPattern: "*@x.com", IsShadowMode: true,
		Confidence: 0.95, MatchCount: 10, Purpose: "Testing",
	}
	rules.Create(context.Background(), rule)
	s := newTestService(rules, nil, nil, nil, nil)

	s.AutoPromoteRules(context.Background())
	s.AutoPromoteRules(context.Background())

	if strings.Count(rule.Purpose, "(AUTO)") != 1 {
		t.Errorf("Purpose = %q, marker should appear exactly once", rule.Purpose)
	}
}

func TestScanHistory(t *testing.T) {
	ctx := context.Background()
	accounts := []domain.Account{{Email: "me@test.com"}}

	t.Run("no accounts returns zero", func(t *testing.T) {
		s := newTestService(nil, nil, nil, nil, nil)
		n, err := s.ScanHistory(ctx, 30)
		if err != nil || n != 0 {
			t.Errorf("ScanHistory = (%d, %v), want (0, nil)", n, err)
		}
	})

	t.Run("new receipts become candidates", func(t *testing.T) {
		cands := &fakeCandidateRepo{}
		source := &fakeSource{byAccount: map[string][]*domain.Email{
			"me@test.com": {
				{MessageID: "m1", Subject: "Payment Receipt for Game Pass", Sender: "xbox@microsoft.com"},
				{MessageID: "m2", Subject: "Just saying hi", Sender: "friend@gmail.com"},
				{MessageID: "m3", Subject: "Your receipt for order", Sender: "store@shop.com"},
			},
		}}
		s := newTestService(nil, cands, nil, source, accounts)

		n, err := s.ScanHistory(ctx, 30)
		if err != nil {
			t.Fatalf("ScanHistory: %v", err)
		}
		if n != 2 {
			t.Errorf("new candidates = %d, want 2", n)
		}
		if len(cands.candidates) != 2 {
			t.Fatalf("stored candidates = %d, want 2", len(cands.candidates))
		}
		for _, c := range cands.candidates {
			if c.Type != CandidateType {
				t.Errorf("candidate type = %q, want %q", c.Type, CandidateType)
			}
			if c.Matches != 1 {
				t.Errorf("matches = %d, want 1", c.Matches)
			}
			if c.Confidence <= 0.5 && strings.Contains(c.Sender, "microsoft") {
				t.Errorf("confidence = %v, want > 0.5 for strong receipt", c.Confidence)
			}
		}
	})

	t.Run("repeated receipts deduplicate into one candidate", func(t *testing.T) {
		cands := &fakeCandidateRepo{}
		email := &domain.Email{MessageID: "m1", Subject: "Payment Receipt", Sender: "xbox@microsoft.com"}
		dup := &domain.Email{MessageID: "m2", Subject: "Payment Receipt again", Sender: "xbox@microsoft.com"}
		source := &fakeSource{byAccount: map[string][]*domain.Email{
			"me@test.com": {email, dup},
		}}
		s := newTestService(nil, cands, nil, source, accounts)

		n, err := s.ScanHistory(ctx, 30)
		if err != nil {
			t.Fatalf("ScanHistory: %v", err)
		}
		if n != 1 {
			t.Errorf("new candidates = %d, want 1", n)
		}
		if len(cands.candidates) != 1 || cands.candidates[0].Matches != 2 {
			t.Errorf("want one candidate with 2 matches, got %+v", cands.candidates)
		}
	})

	t.Run("already processed emails are skipped", func(t *testing.T) {
		emails := &fakeEmailRepo{known: map[string]bool{"seen-1": true}}
		source := &fakeSource{byAccount: map[string][]*domain.Email{
			"me@test.com": {{MessageID: "seen-1", Subject: "Receipt", Sender: "a@b.com"}},
		}}
		s := newTestService(nil, nil, emails, source, accounts)

		n, err := s.ScanHistory(ctx, 30)
		if err != nil || n != 0 {
			t.Errorf("ScanHistory = (%d, %v), want (0, nil)", n, err)
		}
	})

	t.Run("known content without a message id is skipped", func(t *testing.T) {
		seen := &domain.Email{Subject: "Receipt", Sender: "a@b.com", Body: "Total: $9.99"}
		emails := &fakeEmailRepo{known: map[string]bool{seen.ContentHash(): true}}
		source := &fakeSource{byAccount: map[string][]*domain.Email{
			"me@test.com": {seen},
		}}
		s := newTestService(nil, nil, emails, source, accounts)

		n, err := s.ScanHistory(ctx, 30)
		if err != nil || n != 0 {
			t.Errorf("ScanHistory = (%d, %v), want (0, nil)", n, err)
		}
	})

	t.Run("account fetch failure is tolerated", func(t *testing.T) {
		cands := &fakeCandidateRepo{}
		source := &fakeSource{
			err: map[string]error{"broken@test.com": errors.New("connection error")},
			byAccount: map[string][]*domain.Email{
				"ok@test.com": {{MessageID: "m9", Subject: "Receipt for order", Sender: "s@shop.com"}},
			},
		}
		s := newTestService(nil, cands, nil, source, []domain.Account{
			{Email: "broken@test.com"}, {Email: "ok@test.com"},
		})

		n, err := s.ScanHistory(ctx, 30)
		if err != nil {
			t.Fatalf("ScanHistory: %v", err)
		}
		if n != 1 {
			t.Errorf("new candidates = %d, want 1 from the healthy account", n)
		}
	})
}

func TestApproveCandidate(t *testing.T) {
	rules := &fakeRuleRepo{}
	cands := &fakeCandidateRepo{}
	cands.Create(context.Background(), &domain.LearningCandidate{
		Sender: "xbox@microsoft.com", SubjectPattern: "*payment*",
		Confidence: 0.85, Type: CandidateType,
	})
	s := newTestService(rules, cands, nil, nil, nil)

	rule, err := s.ApproveCandidate(context.Background(), 1)
	if err != nil {
		t.Fatalf("ApproveCandidate: %v", err)
	}
	if rule.EmailPattern != "*xbox@microsoft.com*" {
		t.Errorf("EmailPattern = %q, want %q", rule.EmailPattern, "*xbox@microsoft.com*")
	}
	if rule.IsShadowMode {
		t.Error("approved rule must be live, not shadow")
	}
	if rule.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want carried over 0.85", rule.Confidence)
	}
	if len(cands.candidates) != 0 {
		t.Error("candidate should be deleted after approval")
	}

	if _, err := s.ApproveCandidate(context.Background(), 999); err == nil {
		t.Error("expected error for unknown candidate")
	}
}

func TestIgnoreCandidate(t *testing.T) {
	cands := &fakeCandidateRepo{}
	cands.Create(context.Background(), &domain.LearningCandidate{Sender: "a@b.com"})
	s := newTestService(nil, cands, nil, nil, nil)

	if err := s.IgnoreCandidate(context.Background(), 1); err != nil {
		t.Fatalf("IgnoreCandidate: %v", err)
	}
	if len(cands.candidates) != 0 {
		t.Error("candidate should be deleted")
	}
}

func TestSubjectKeyPattern(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"Amazon Order Confirmation", "*amazon*"},
		{"Your receipt for order #123", "*your*"},
		{"Hi", "*"},
		{"", "*"},
		{"#123 $45", "*"},
	}
	for _, tt := range tests {
		if got := subjectKeyPattern(tt.subject); got != tt.want {
			t.Errorf("subjectKeyPattern(%q) = %q, want %q", tt.subject, got, tt.want)
		}
	}
}
