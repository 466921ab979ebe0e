package persistence

import (
	"context"
	"fmt"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// PreferenceAdapter implements out.PreferenceRepository using PostgreSQL.
type PreferenceAdapter struct {
	db *sqlx.DB
}

// NewPreferenceAdapter creates a new PreferenceAdapter.
func NewPreferenceAdapter(db *sqlx.DB) *PreferenceAdapter {
	return &PreferenceAdapter{db: db}
}

type preferenceRow struct {
	ID        int64     `db:"id"`
	Type      string    `db:"type"`
	Item      string    `db:"item"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *preferenceRow) toEntity() *domain.Preference {
	return &domain.Preference{
		ID:        r.ID,
		Type:      domain.PreferenceType(r.Type),
		Item:      r.Item,
		CreatedAt: r.CreatedAt,
	}
}

// Create inserts a preference entry. Duplicate (type, item) pairs are
// absorbed by the unique index.
func (a *PreferenceAdapter) Create(ctx context.Context, pref *domain.Preference) error {
	const query = `
		INSERT INTO preferences (type, item, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (type, item) DO UPDATE SET item = EXCLUDED.item
		RETURNING id, created_at
	`

	return a.db.QueryRowxContext(ctx, query,
		string(pref.Type),
		pref.Item,
	).Scan(&pref.ID, &pref.CreatedAt)
}

// Delete removes a preference by id.
func (a *PreferenceAdapter) Delete(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM preferences WHERE id = $1`, id)
	return err
}

// DeleteByItem removes a preference by type and item value.
func (a *PreferenceAdapter) DeleteByItem(ctx context.Context, prefType domain.PreferenceType, item string) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM preferences WHERE type = $1 AND item = $2`,
		string(prefType), item)
	return err
}

// ListByTypes returns all entries of the given types.
func (a *PreferenceAdapter) ListByTypes(ctx context.Context, types ...domain.PreferenceType) ([]*domain.Preference, error) {
	if len(types) == 0 {
		return nil, nil
	}

	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	query, args, err := sqlx.In(
		`SELECT id, type, item, created_at FROM preferences WHERE type IN (?) ORDER BY type, item`,
		names)
	if err != nil {
		return nil, fmt.Errorf("failed to build preference query: %w", err)
	}
	query = a.db.Rebind(query)

	var rows []preferenceRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	prefs := make([]*domain.Preference, len(rows))
	for i := range rows {
		prefs[i] = rows[i].toEntity()
	}
	return prefs, nil
}

// Replace atomically swaps all entries of the given types.
func (a *PreferenceAdapter) Replace(ctx context.Context, types []domain.PreferenceType, prefs []*domain.Preference) error {
	if len(types) == 0 {
		return nil
	}

	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(`DELETE FROM preferences WHERE type IN (?)`, names)
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return err
	}

	const insert = `
		INSERT INTO preferences (type, item, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (type, item) DO NOTHING
	`
	for _, pref := range prefs {
		if _, err := tx.ExecContext(ctx, insert, string(pref.Type), pref.Item); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Ensure PreferenceAdapter implements out.PreferenceRepository
var _ out.PreferenceRepository = (*PreferenceAdapter)(nil)
