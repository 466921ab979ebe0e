package persistence

import (
	"context"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// CategoryAdapter implements out.CategoryRuleRepository using PostgreSQL.
type CategoryAdapter struct {
	db *sqlx.DB
}

// NewCategoryAdapter creates a new CategoryAdapter.
func NewCategoryAdapter(db *sqlx.DB) *CategoryAdapter {
	return &CategoryAdapter{db: db}
}

type categoryRow struct {
	ID               int64     `db:"id"`
	MatchType        string    `db:"match_type"`
	Pattern          string    `db:"pattern"`
	AssignedCategory string    `db:"assigned_category"`
	Priority         int       `db:"priority"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r *categoryRow) toEntity() *domain.CategoryRule {
	return &domain.CategoryRule{
		ID:               r.ID,
		MatchType:        domain.CategoryMatchType(r.MatchType),
		Pattern:          r.Pattern,
		AssignedCategory: r.AssignedCategory,
		Priority:         r.Priority,
		CreatedAt:        r.CreatedAt,
	}
}

// Create inserts a category rule.
func (a *CategoryAdapter) Create(ctx context.Context, rule *domain.CategoryRule) error {
	const query = `
		INSERT INTO category_rules (match_type, pattern, assigned_category, priority, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`

	return a.db.QueryRowxContext(ctx, query,
		string(rule.MatchType),
		rule.Pattern,
		rule.AssignedCategory,
		rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt)
}

// Delete removes a category rule by id.
func (a *CategoryAdapter) Delete(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM category_rules WHERE id = $1`, id)
	return err
}

// ListByPriority returns rules ordered by priority descending.
func (a *CategoryAdapter) ListByPriority(ctx context.Context) ([]*domain.CategoryRule, error) {
	const query = `
		SELECT id, match_type, pattern, assigned_category, priority, created_at
		FROM category_rules
		ORDER BY priority DESC, id
	`

	var rows []categoryRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	rules := make([]*domain.CategoryRule, len(rows))
	for i := range rows {
		rules[i] = rows[i].toEntity()
	}
	return rules, nil
}

// Ensure CategoryAdapter implements out.CategoryRuleRepository
var _ out.CategoryRuleRepository = (*CategoryAdapter)(nil)
