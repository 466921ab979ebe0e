package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/core/service/command"
	"relay_server/core/service/detect"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEmailRepo struct {
	created []*domain.EmailRecord
	purged  int64
}

func (f *fakeEmailRepo) Create(ctx context.Context, r *domain.EmailRecord) error {
	r.ID = int64(len(f.created) + 1)
	f.created = append(f.created, r)
	return nil
}
func (f *fakeEmailRepo) GetByID(ctx context.Context, id int64) (*domain.EmailRecord, error) {
	return nil, nil
}
func (f *fakeEmailRepo) Exists(ctx context.Context, emailID, contentHash string) (bool, error) {
	for _, r := range f.created {
		if r.EmailID == emailID || r.ContentHash == contentHash {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeEmailRepo) List(ctx context.Context, filter out.HistoryFilter, limit, offset int) ([]*domain.EmailRecord, int, error) {
	return nil, 0, nil
}
func (f *fakeEmailRepo) UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus, reason string) error {
	return nil
}
func (f *fakeEmailRepo) PurgeExpiredContent(ctx context.Context, now time.Time) (int64, error) {
	return f.purged, nil
}

type fakeRunRepo struct {
	nextID   int64
	blocking *domain.ProcessingRun
	finished []*domain.ProcessingRun
}

func (f *fakeRunRepo) Begin(ctx context.Context, pollIntervalMin int) (*domain.ProcessingRun, *domain.ProcessingRun, error) {
	f.nextID++
	run := &domain.ProcessingRun{
		ID:              f.nextID,
		Status:          domain.RunRunning,
		StartedAt:       time.Now(),
		PollIntervalMin: pollIntervalMin,
	}
	if f.blocking != nil {
		run.Status = domain.RunSkipped
		run.ErrorMessage = domain.SkipReason(f.blocking.ID)
		return run, f.blocking, nil
	}
	return run, nil, nil
}
func (f *fakeRunRepo) Finish(ctx context.Context, run *domain.ProcessingRun) error {
	now := time.Now()
	run.CompletedAt = &now
	f.finished = append(f.finished, run)
	return nil
}
func (f *fakeRunRepo) ListRecent(ctx context.Context, limit int) ([]*domain.ProcessingRun, error) {
	return nil, nil
}

type fakeSource struct {
	byAccount map[string][]*domain.Email
	err       error
}

func (f *fakeSource) FetchRecent(ctx context.Context, acc domain.Account, since time.Time) ([]*domain.Email, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byAccount[acc.Email], nil
}
func (f *fakeSource) FetchByMessageID(ctx context.Context, acc domain.Account, id string) (*domain.Email, error) {
	return nil, nil
}

type fakeSink struct {
	forwarded []*domain.Email
	err       error
}

func (f *fakeSink) Forward(ctx context.Context, email *domain.Email, target string) error {
	if f.err != nil {
		return f.err
	}
	f.forwarded = append(f.forwarded, email)
	return nil
}

type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) (string, error)  { return "enc:" + plaintext, nil }
func (fakeCipher) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

type fakePrefRepo struct {
	created []*domain.Preference
	prefs   []*domain.Preference
}

func (f *fakePrefRepo) Create(ctx context.Context, p *domain.Preference) error {
	f.created = append(f.created, p)
	return nil
}
func (f *fakePrefRepo) Delete(ctx context.Context, id int64) error { return nil }
func (f *fakePrefRepo) DeleteByItem(ctx context.Context, t domain.PreferenceType, item string) error {
	return nil
}
func (f *fakePrefRepo) ListByTypes(ctx context.Context, types ...domain.PreferenceType) ([]*domain.Preference, error) {
	return f.prefs, nil
}
func (f *fakePrefRepo) Replace(ctx context.Context, types []domain.PreferenceType, prefs []*domain.Preference) error {
	return nil
}

// fakeRuleSource feeds the detector fixed rules and preferences.
type fakeRuleSource struct {
	rules []*domain.ManualRule
	prefs []*domain.Preference
	cats  []*domain.CategoryRule
}

func (f *fakeRuleSource) ActiveRules(ctx context.Context) ([]*domain.ManualRule, error) {
	return f.rules, nil
}
func (f *fakeRuleSource) Preferences(ctx context.Context, types ...domain.PreferenceType) ([]*domain.Preference, error) {
	return f.prefs, nil
}
func (f *fakeRuleSource) CategoryRules(ctx context.Context) ([]*domain.CategoryRule, error) {
	return f.cats, nil
}

// =============================================================================
// Tests
// =============================================================================

func newTestProcessor(emails *fakeEmailRepo, runs *fakeRunRepo, source *fakeSource, sink *fakeSink, rules detect.RuleSource) *Processor {
	detector := detect.NewDetector(rules, []string{"me@gmail.com"})
	categorizer := detect.NewCategorizer(rules)
	commands := command.NewService(&fakePrefRepo{}, "wife@example.com")

	return NewProcessor(emails, runs, source, sink, fakeCipher{},
		detector, categorizer, commands, nil,
		ProcessorConfig{
			Accounts:     []domain.Account{{Email: "me@gmail.com"}},
			TargetEmail:  "wife@example.com",
			LookbackDays: 3,
			PollInterval: 30 * time.Minute,
		})
}

func receiptEmail(id string) *domain.Email {
	return &domain.Email{
		MessageID:  id,
		Sender:     "auto-confirm@amazon.com",
		Subject:    "Your order confirmation",
		Body:       "Order #112-99 Total: $25.00 Thank you for your purchase",
		ReceivedAt: time.Now(),
	}
}

func TestProcessRunForwardsReceipts(t *testing.T) {
	emails := &fakeEmailRepo{}
	runs := &fakeRunRepo{}
	sink := &fakeSink{}
	source := &fakeSource{byAccount: map[string][]*domain.Email{
		"me@gmail.com": {
			receiptEmail("<r1@amazon.com>"),
			{
				MessageID:  "<promo@deals.com>",
				Sender:     "deals@deals.com",
				Subject:    "Flash sale! 50% off everything",
				Body:       "Limited time offer, shop now and save big",
				ReceivedAt: time.Now(),
			},
		},
	}}

	p := newTestProcessor(emails, runs, source, sink, &fakeRuleSource{})
	run, err := p.ProcessRun(context.Background())
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}

	if run.Status != domain.RunCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.EmailsChecked != 2 || run.EmailsProcessed != 2 || run.EmailsForwarded != 1 {
		t.Errorf("counters = checked %d processed %d forwarded %d, want 2/2/1",
			run.EmailsChecked, run.EmailsProcessed, run.EmailsForwarded)
	}
	if len(sink.forwarded) != 1 {
		t.Fatalf("forwarded %d emails, want 1", len(sink.forwarded))
	}

	var receipt, promo *domain.EmailRecord
	for _, r := range emails.created {
		switch r.EmailID {
		case "<r1@amazon.com>":
			receipt = r
		case "<promo@deals.com>":
			promo = r
		}
	}
	if receipt == nil || receipt.Status != domain.StatusForwarded {
		t.Errorf("receipt record = %+v, want forwarded", receipt)
	}
	if receipt.Category != "amazon" {
		t.Errorf("receipt category = %q, want amazon", receipt.Category)
	}
	if promo == nil || promo.Status != domain.StatusIgnored {
		t.Errorf("promo record = %+v, want ignored", promo)
	}
	if receipt.EncryptedBody == nil || !strings.HasPrefix(*receipt.EncryptedBody, "enc:") {
		t.Error("receipt body should be stored encrypted")
	}
	if receipt.RetentionExpiresAt == nil {
		t.Error("receipt should carry a retention deadline")
	}
	if receipt.Amount == nil || *receipt.Amount != 25.00 {
		t.Errorf("receipt amount = %v, want 25.00", receipt.Amount)
	}
}

func TestProcessRunSkipsWhenRunInProgress(t *testing.T) {
	runs := &fakeRunRepo{blocking: &domain.ProcessingRun{ID: 41, Status: domain.RunRunning}}
	source := &fakeSource{byAccount: map[string][]*domain.Email{
		"me@gmail.com": {receiptEmail("<r1@amazon.com>")},
	}}
	sink := &fakeSink{}

	p := newTestProcessor(&fakeEmailRepo{}, runs, source, sink, &fakeRuleSource{})
	run, err := p.ProcessRun(context.Background())
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}

	if run.Status != domain.RunSkipped {
		t.Errorf("run status = %q, want skipped", run.Status)
	}
	if !strings.Contains(run.ErrorMessage, "41") {
		t.Errorf("skip reason = %q, want it to name run 41", run.ErrorMessage)
	}
	if len(sink.forwarded) != 0 {
		t.Error("skipped run must not forward anything")
	}
	if len(runs.finished) != 0 {
		t.Error("skipped run is already finalized by Begin")
	}
}

func TestProcessRunDeduplicates(t *testing.T) {
	emails := &fakeEmailRepo{}
	sink := &fakeSink{}
	source := &fakeSource{byAccount: map[string][]*domain.Email{
		"me@gmail.com": {receiptEmail("<r1@amazon.com>")},
	}}

	p := newTestProcessor(emails, &fakeRunRepo{}, source, sink, &fakeRuleSource{})
	if _, err := p.ProcessRun(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	run, err := p.ProcessRun(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if run.EmailsChecked != 1 || run.EmailsProcessed != 0 {
		t.Errorf("second run counters = checked %d processed %d, want 1/0",
			run.EmailsChecked, run.EmailsProcessed)
	}
	if len(sink.forwarded) != 1 {
		t.Errorf("forwarded %d total, want 1 (no duplicate forward)", len(sink.forwarded))
	}
	if len(emails.created) != 1 {
		t.Errorf("created %d records, want 1", len(emails.created))
	}
}

func TestProcessRunExecutesCommands(t *testing.T) {
	emails := &fakeEmailRepo{}
	sink := &fakeSink{}
	source := &fakeSource{byAccount: map[string][]*domain.Email{
		"me@gmail.com": {{
			MessageID:  "<cmd@reply>",
			Sender:     "wife@example.com",
			Subject:    "Re: Fwd: Your order confirmation",
			Body:       "STOP amazon",
			ReceivedAt: time.Now(),
		}},
	}}

	p := newTestProcessor(emails, &fakeRunRepo{}, source, sink, &fakeRuleSource{})
	run, err := p.ProcessRun(context.Background())
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}

	if run.EmailsForwarded != 0 {
		t.Error("command mail must never be forwarded")
	}
	if len(emails.created) != 1 || emails.created[0].Status != domain.StatusCommandExecuted {
		t.Fatalf("records = %+v, want one command-executed", emails.created)
	}
	if emails.created[0].Category != "command" {
		t.Errorf("command record category = %q, want %q", emails.created[0].Category, "command")
	}
}

func TestProcessRunBlockedPreference(t *testing.T) {
	emails := &fakeEmailRepo{}
	sink := &fakeSink{}
	source := &fakeSource{byAccount: map[string][]*domain.Email{
		"me@gmail.com": {receiptEmail("<r1@amazon.com>")},
	}}
	rules := &fakeRuleSource{prefs: []*domain.Preference{
		{Type: domain.PrefBlockedSender, Item: "amazon"},
	}}

	p := newTestProcessor(emails, &fakeRunRepo{}, source, sink, rules)
	if _, err := p.ProcessRun(context.Background()); err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}

	if len(sink.forwarded) != 0 {
		t.Error("blocked sender must not be forwarded")
	}
	if len(emails.created) != 1 || emails.created[0].Status != domain.StatusBlocked {
		t.Fatalf("records = %+v, want one blocked", emails.created)
	}
}

func TestProcessRunToleratesAccountFailure(t *testing.T) {
	runs := &fakeRunRepo{}
	p := newTestProcessor(&fakeEmailRepo{}, runs,
		&fakeSource{err: errors.New("imap down")}, &fakeSink{}, &fakeRuleSource{})

	run, err := p.ProcessRun(context.Background())
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	if run.Status != domain.RunError {
		t.Errorf("run status = %q, want error when an account fails", run.Status)
	}
	if run.ErrorMessage == "" {
		t.Error("expected error message on failed run")
	}
}

func TestProcessRunForwardFailureRecordsError(t *testing.T) {
	emails := &fakeEmailRepo{}
	source := &fakeSource{byAccount: map[string][]*domain.Email{
		"me@gmail.com": {receiptEmail("<r1@amazon.com>")},
	}}

	p := newTestProcessor(emails, &fakeRunRepo{}, source,
		&fakeSink{err: errors.New("smtp refused")}, &fakeRuleSource{})
	run, err := p.ProcessRun(context.Background())
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}

	if run.EmailsForwarded != 0 {
		t.Error("failed forward must not count as forwarded")
	}
	if run.Status != domain.RunError {
		t.Errorf("run status = %q, want error when a forward fails", run.Status)
	}
	if len(emails.created) != 1 || emails.created[0].Status != domain.StatusError {
		t.Fatalf("records = %+v, want one error record", emails.created)
	}
}

func TestProcessRunRequiresTarget(t *testing.T) {
	runs := &fakeRunRepo{}
	p := newTestProcessor(&fakeEmailRepo{}, runs, &fakeSource{}, &fakeSink{}, &fakeRuleSource{})
	p.targetEmail = ""

	if _, err := p.ProcessRun(context.Background()); err == nil {
		t.Fatal("expected error when no forwarding target is configured")
	}
	if runs.nextID != 0 {
		t.Error("misconfigured processor must not create a run row")
	}
}
