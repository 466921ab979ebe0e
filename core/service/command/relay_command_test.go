package command

import (
	"context"
	"testing"

	"relay_server/core/domain"
)

type fakePrefRepo struct {
	created []*domain.Preference
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
	return nil, nil
}
func (f *fakePrefRepo) Replace(ctx context.Context, types []domain.PreferenceType, prefs []*domain.Preference) error {
	return nil
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		email    *domain.Email
		wantOK   bool
		wantVerb string
		wantArg  string
	}{
		{
			name:     "stop in body",
			email:    &domain.Email{Subject: "Re: Fwd: Your receipt", Body: "STOP amazon\n\n(Sent via quick action)"},
			wantOK:   true,
			wantVerb: VerbStop,
			wantArg:  "amazon",
		},
		{
			name:     "more in body lowercased",
			email:    &domain.Email{Body: "more uber"},
			wantOK:   true,
			wantVerb: VerbMore,
			wantArg:  "uber",
		},
		{
			name:     "command in subject",
			email:    &domain.Email{Subject: "STOP dealsite"},
			wantOK:   true,
			wantVerb: VerbStop,
			wantArg:  "dealsite",
		},
		{
			name:     "quoted lines are skipped",
			email:    &domain.Email{Body: "> STOP amazon\nMORE walmart"},
			wantOK:   true,
			wantVerb: VerbMore,
			wantArg:  "walmart",
		},
		{
			name:     "block category",
			email:    &domain.Email{Body: "BLOCK_CATEGORY restaurants"},
			wantOK:   true,
			wantVerb: VerbBlockCategory,
			wantArg:  "restaurants",
		},
		{
			name:   "verb without argument is not a command",
			email:  &domain.Email{Body: "STOP"},
			wantOK: false,
		},
		{
			name:   "plain reply is not a command",
			email:  &domain.Email{Subject: "Re: hi", Body: "thanks, got it"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := Parse(tt.email)
			if ok != tt.wantOK {
				t.Fatalf("Parse ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if cmd.Verb != tt.wantVerb || cmd.Arg != tt.wantArg {
				t.Errorf("Parse = %+v, want verb %q arg %q", cmd, tt.wantVerb, tt.wantArg)
			}
		})
	}
}

func TestIsCommandRequiresTargetSender(t *testing.T) {
	s := NewService(&fakePrefRepo{}, "wife@example.com")

	if !s.IsCommand(&domain.Email{Sender: "wife@example.com", Body: "STOP amazon"}) {
		t.Error("command from target should be recognized")
	}
	if s.IsCommand(&domain.Email{Sender: "stranger@example.com", Body: "STOP amazon"}) {
		t.Error("command from a stranger must be ignored")
	}
	if s.IsCommand(&domain.Email{Sender: "wife@example.com", Body: "hello"}) {
		t.Error("non-command mail from target is not a command")
	}

	unconfigured := NewService(&fakePrefRepo{}, "")
	if unconfigured.IsCommand(&domain.Email{Sender: "wife@example.com", Body: "STOP amazon"}) {
		t.Error("no target configured means no commands")
	}
}

func TestExecuteCreatesPreference(t *testing.T) {
	tests := []struct {
		body     string
		wantType domain.PreferenceType
		wantItem string
	}{
		{"STOP Amazon", domain.PrefBlockedSender, "amazon"},
		{"MORE uber", domain.PrefAlwaysForward, "uber"},
		{"BLOCK_CATEGORY Restaurants", domain.PrefBlockedCategory, "restaurants"},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			prefs := &fakePrefRepo{}
			s := NewService(prefs, "wife@example.com")

			msg, err := s.Execute(context.Background(), &domain.Email{
				Sender: "wife@example.com", Body: tt.body,
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if msg == "" {
				t.Error("expected confirmation message")
			}
			if len(prefs.created) != 1 {
				t.Fatalf("created %d preferences, want 1", len(prefs.created))
			}
			if prefs.created[0].Type != tt.wantType || prefs.created[0].Item != tt.wantItem {
				t.Errorf("created %+v, want type %q item %q", prefs.created[0], tt.wantType, tt.wantItem)
			}
		})
	}
}
