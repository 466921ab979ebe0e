package persistence

import (
	"context"
	"database/sql"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// RuleAdapter implements out.ManualRuleRepository using PostgreSQL.
type RuleAdapter struct {
	db *sqlx.DB
}

// NewRuleAdapter creates a new RuleAdapter.
func NewRuleAdapter(db *sqlx.DB) *RuleAdapter {
	return &RuleAdapter{db: db}
}

// ruleRow represents the database row for a manual rule.
type ruleRow struct {
	ID             int64          `db:"id"`
	EmailPattern   sql.NullString `db:"email_pattern"`
	SubjectPattern sql.NullString `db:"subject_pattern"`
	Purpose        sql.NullString `db:"purpose"`
	Priority       int            `db:"priority"`
	Confidence     float64        `db:"confidence"`
	MatchCount     int            `db:"match_count"`
	IsShadowMode   bool           `db:"is_shadow_mode"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *ruleRow) toEntity() *domain.ManualRule {
	return &domain.ManualRule{
		ID:             r.ID,
		EmailPattern:   r.EmailPattern.String,
		SubjectPattern: r.SubjectPattern.String,
		Purpose:        r.Purpose.String,
		Priority:       r.Priority,
		Confidence:     r.Confidence,
		MatchCount:     r.MatchCount,
		IsShadowMode:   r.IsShadowMode,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const ruleColumns = `
	id, email_pattern, subject_pattern, purpose, priority,
	confidence, match_count, is_shadow_mode, created_at, updated_at
`

// Create inserts a manual rule.
func (a *RuleAdapter) Create(ctx context.Context, rule *domain.ManualRule) error {
	const query = `
		INSERT INTO manual_rules (
			email_pattern, subject_pattern, purpose, priority,
			confidence, match_count, is_shadow_mode, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW(), NOW()
		)
		RETURNING id, created_at, updated_at
	`

	return a.db.QueryRowxContext(ctx, query,
		nullIfEmpty(rule.EmailPattern),
		nullIfEmpty(rule.SubjectPattern),
		nullIfEmpty(rule.Purpose),
		rule.Priority,
		rule.Confidence,
		rule.MatchCount,
		rule.IsShadowMode,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// Update rewrites all mutable fields of a rule.
func (a *RuleAdapter) Update(ctx context.Context, rule *domain.ManualRule) error {
	const query = `
		UPDATE manual_rules SET
			email_pattern = $1,
			subject_pattern = $2,
			purpose = $3,
			priority = $4,
			confidence = $5,
			match_count = $6,
			is_shadow_mode = $7,
			updated_at = NOW()
		WHERE id = $8
	`

	result, err := a.db.ExecContext(ctx, query,
		nullIfEmpty(rule.EmailPattern),
		nullIfEmpty(rule.SubjectPattern),
		nullIfEmpty(rule.Purpose),
		rule.Priority,
		rule.Confidence,
		rule.MatchCount,
		rule.IsShadowMode,
		rule.ID,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a rule by id.
func (a *RuleAdapter) Delete(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM manual_rules WHERE id = $1`, id)
	return err
}

// GetByID retrieves one rule, or nil when it does not exist.
func (a *RuleAdapter) GetByID(ctx context.Context, id int64) (*domain.ManualRule, error) {
	const query = `SELECT ` + ruleColumns + ` FROM manual_rules WHERE id = $1`

	var row ruleRow
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// FindByEmailPattern returns the rule with the exact stored pattern, or
// nil when none exists.
func (a *RuleAdapter) FindByEmailPattern(ctx context.Context, pattern string) (*domain.ManualRule, error) {
	const query = `
		SELECT ` + ruleColumns + `
		FROM manual_rules
		WHERE email_pattern = $1
		ORDER BY id
		LIMIT 1
	`

	var row ruleRow
	if err := a.db.GetContext(ctx, &row, query, pattern); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// ListActive returns non-shadow rules ordered by priority descending.
func (a *RuleAdapter) ListActive(ctx context.Context) ([]*domain.ManualRule, error) {
	const query = `
		SELECT ` + ruleColumns + `
		FROM manual_rules
		WHERE is_shadow_mode = FALSE
		ORDER BY priority DESC, id
	`
	return a.selectRules(ctx, query)
}

// ListShadow returns rules still in shadow mode.
func (a *RuleAdapter) ListShadow(ctx context.Context) ([]*domain.ManualRule, error) {
	const query = `
		SELECT ` + ruleColumns + `
		FROM manual_rules
		WHERE is_shadow_mode = TRUE
		ORDER BY id
	`
	return a.selectRules(ctx, query)
}

// ListAll returns every rule ordered by priority descending.
func (a *RuleAdapter) ListAll(ctx context.Context) ([]*domain.ManualRule, error) {
	const query = `
		SELECT ` + ruleColumns + `
		FROM manual_rules
		ORDER BY priority DESC, id
	`
	return a.selectRules(ctx, query)
}

func (a *RuleAdapter) selectRules(ctx context.Context, query string, args ...any) ([]*domain.ManualRule, error) {
	var rows []ruleRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	rules := make([]*domain.ManualRule, len(rows))
	for i := range rows {
		rules[i] = rows[i].toEntity()
	}
	return rules, nil
}

// Ensure RuleAdapter implements out.ManualRuleRepository
var _ out.ManualRuleRepository = (*RuleAdapter)(nil)
