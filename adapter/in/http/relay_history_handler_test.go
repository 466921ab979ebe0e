package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/core/service/learning"

	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEmailRepo struct {
	records    map[int64]*domain.EmailRecord
	lastFilter out.HistoryFilter
}

func (f *fakeEmailRepo) Create(ctx context.Context, r *domain.EmailRecord) error { return nil }
func (f *fakeEmailRepo) GetByID(ctx context.Context, id int64) (*domain.EmailRecord, error) {
	return f.records[id], nil
}
func (f *fakeEmailRepo) Exists(ctx context.Context, emailID, contentHash string) (bool, error) {
	return false, nil
}
func (f *fakeEmailRepo) List(ctx context.Context, filter out.HistoryFilter, limit, offset int) ([]*domain.EmailRecord, int, error) {
	f.lastFilter = filter
	return nil, 0, nil
}
func (f *fakeEmailRepo) UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus, reason string) error {
	return nil
}
func (f *fakeEmailRepo) PurgeExpiredContent(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeRuleRepo struct {
	rules []*domain.ManualRule
}

func (f *fakeRuleRepo) Create(ctx context.Context, rule *domain.ManualRule) error {
	rule.ID = int64(len(f.rules) + 1)
	f.rules = append(f.rules, rule)
	return nil
}
func (f *fakeRuleRepo) Update(ctx context.Context, rule *domain.ManualRule) error { return nil }
func (f *fakeRuleRepo) Delete(ctx context.Context, id int64) error                { return nil }
func (f *fakeRuleRepo) GetByID(ctx context.Context, id int64) (*domain.ManualRule, error) {
	return nil, nil
}
func (f *fakeRuleRepo) FindByEmailPattern(ctx context.Context, pattern string) (*domain.ManualRule, error) {
	return nil, nil
}
func (f *fakeRuleRepo) ListActive(ctx context.Context) ([]*domain.ManualRule, error) {
	return nil, nil
}
func (f *fakeRuleRepo) ListShadow(ctx context.Context) ([]*domain.ManualRule, error) {
	return nil, nil
}
func (f *fakeRuleRepo) ListAll(ctx context.Context) ([]*domain.ManualRule, error) {
	return nil, nil
}

func newHistoryApp(emails *fakeEmailRepo, rules *fakeRuleRepo) *fiber.App {
	var learner *learning.Service
	if rules != nil {
		learner = learning.NewService(rules, nil, nil, nil, nil, nil)
	}

	app := fiber.New()
	NewHistoryHandler(emails, nil, learner, nil).Register(app.Group("/api"))
	return app
}

// =============================================================================
// Tests
// =============================================================================

func TestSubmitFeedbackSeedsShadowRule(t *testing.T) {
	emails := &fakeEmailRepo{records: map[int64]*domain.EmailRecord{
		7: {ID: 7, Sender: "orders@amazon.com", Subject: "Order confirmation", Status: domain.StatusIgnored},
	}}
	rules := &fakeRuleRepo{}
	app := newHistoryApp(emails, rules)

	req := httptest.NewRequest("POST", "/api/history/7/feedback", strings.NewReader(`{"is_receipt":true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if len(rules.rules) != 1 {
		t.Fatalf("rules created = %d, want 1", len(rules.rules))
	}
	rule := rules.rules[0]
	if !rule.IsShadowMode {
		t.Error("feedback rule should start in shadow mode")
	}
	if rule.EmailPattern != "*@amazon.com" {
		t.Errorf("EmailPattern = %q, want %q", rule.EmailPattern, "*@amazon.com")
	}
	if rule.SubjectPattern != "*order*" {
		t.Errorf("SubjectPattern = %q, want %q", rule.SubjectPattern, "*order*")
	}
}

func TestSubmitFeedbackNotAReceipt(t *testing.T) {
	emails := &fakeEmailRepo{records: map[int64]*domain.EmailRecord{
		7: {ID: 7, Sender: "deals@deals.com", Subject: "Sale", Status: domain.StatusForwarded},
	}}
	rules := &fakeRuleRepo{}
	app := newHistoryApp(emails, rules)

	req := httptest.NewRequest("POST", "/api/history/7/feedback", strings.NewReader(`{"is_receipt":false}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(rules.rules) != 0 {
		t.Errorf("rules created = %d, want 0", len(rules.rules))
	}
}

func TestSubmitFeedbackUnknownEmail(t *testing.T) {
	app := newHistoryApp(&fakeEmailRepo{records: map[int64]*domain.EmailRecord{}}, &fakeRuleRepo{})

	req := httptest.NewRequest("POST", "/api/history/99/feedback", strings.NewReader(`{"is_receipt":true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListPassesAmountFilters(t *testing.T) {
	emails := &fakeEmailRepo{}
	app := newHistoryApp(emails, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/history?status=forwarded&min_amount=10&max_amount=99.5", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := emails.lastFilter
	if got.Status != "forwarded" {
		t.Errorf("status filter = %q, want forwarded", got.Status)
	}
	if got.MinAmount == nil || *got.MinAmount != 10 {
		t.Errorf("min amount = %v, want 10", got.MinAmount)
	}
	if got.MaxAmount == nil || *got.MaxAmount != 99.5 {
		t.Errorf("max amount = %v, want 99.5", got.MaxAmount)
	}
}

func TestListRejectsBadAmountFilter(t *testing.T) {
	app := newHistoryApp(&fakeEmailRepo{}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/history?min_amount=abc", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
