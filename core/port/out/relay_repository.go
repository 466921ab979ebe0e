// Package out defines outbound ports (driven ports) for the application.
// These interfaces represent dependencies that the application needs.
package out

import (
	"context"
	"time"

	"relay_server/core/domain"
)

// =============================================================================
// Email records
// =============================================================================

// HistoryFilter narrows a history listing. Zero values mean no filter.
type HistoryFilter struct {
	Status    string
	MinAmount *float64
	MaxAmount *float64
}

// EmailRecordRepository persists the outcome of processed emails.
type EmailRecordRepository interface {
	Create(ctx context.Context, record *domain.EmailRecord) error
	GetByID(ctx context.Context, id int64) (*domain.EmailRecord, error)
	// Exists reports whether an email with the given message id or content
	// hash has already been processed.
	Exists(ctx context.Context, emailID, contentHash string) (bool, error)
	List(ctx context.Context, filter HistoryFilter, limit, offset int) ([]*domain.EmailRecord, int, error)
	UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus, reason string) error
	// PurgeExpiredContent nulls encrypted body/html on records whose
	// retention window has passed. Metadata rows are kept.
	PurgeExpiredContent(ctx context.Context, now time.Time) (int64, error)
}

// =============================================================================
// Rules and preferences
// =============================================================================

// ManualRuleRepository stores user and learner declared forwarding rules.
type ManualRuleRepository interface {
	Create(ctx context.Context, rule *domain.ManualRule) error
	Update(ctx context.Context, rule *domain.ManualRule) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*domain.ManualRule, error)
	// FindByEmailPattern returns the rule with the exact stored pattern,
	// or nil when none exists.
	FindByEmailPattern(ctx context.Context, pattern string) (*domain.ManualRule, error)
	// ListActive returns non-shadow rules ordered by priority descending.
	ListActive(ctx context.Context) ([]*domain.ManualRule, error)
	// ListShadow returns rules still in shadow mode.
	ListShadow(ctx context.Context) ([]*domain.ManualRule, error)
	ListAll(ctx context.Context) ([]*domain.ManualRule, error)
}

// CategoryRuleRepository stores category assignment rules.
type CategoryRuleRepository interface {
	Create(ctx context.Context, rule *domain.CategoryRule) error
	Delete(ctx context.Context, id int64) error
	// ListByPriority returns rules ordered by priority descending.
	ListByPriority(ctx context.Context) ([]*domain.CategoryRule, error)
}

// PreferenceRepository stores blocked/allowed preference entries.
type PreferenceRepository interface {
	Create(ctx context.Context, pref *domain.Preference) error
	Delete(ctx context.Context, id int64) error
	DeleteByItem(ctx context.Context, prefType domain.PreferenceType, item string) error
	ListByTypes(ctx context.Context, types ...domain.PreferenceType) ([]*domain.Preference, error)
	// Replace atomically swaps all entries of the given types.
	Replace(ctx context.Context, types []domain.PreferenceType, prefs []*domain.Preference) error
}

// =============================================================================
// Learning candidates
// =============================================================================

// LearningCandidateRepository stores sender/subject pairs proposed by the
// historical scanner, pending approval.
type LearningCandidateRepository interface {
	Create(ctx context.Context, cand *domain.LearningCandidate) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*domain.LearningCandidate, error)
	FindBySenderAndPattern(ctx context.Context, sender, pattern string) (*domain.LearningCandidate, error)
	IncrementMatches(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*domain.LearningCandidate, error)
}

// =============================================================================
// Processing runs
// =============================================================================

// RunRepository persists run rows and owns the overlap guard.
type RunRepository interface {
	// Begin atomically checks for a recent run still in the running state
	// and inserts this run's row in the same transaction. When a recent
	// running row exists the new row is inserted already finalized as
	// skipped and returned with conflict set to the blocking run.
	Begin(ctx context.Context, pollIntervalMin int) (run *domain.ProcessingRun, conflict *domain.ProcessingRun, err error)
	// Finish writes the terminal state and counters of a run.
	Finish(ctx context.Context, run *domain.ProcessingRun) error
	ListRecent(ctx context.Context, limit int) ([]*domain.ProcessingRun, error)
}
