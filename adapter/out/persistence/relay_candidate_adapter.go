package persistence

import (
	"context"
	"database/sql"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// CandidateAdapter implements out.LearningCandidateRepository using PostgreSQL.
type CandidateAdapter struct {
	db *sqlx.DB
}

// NewCandidateAdapter creates a new CandidateAdapter.
func NewCandidateAdapter(db *sqlx.DB) *CandidateAdapter {
	return &CandidateAdapter{db: db}
}

type candidateRow struct {
	ID             int64          `db:"id"`
	Type           string         `db:"type"`
	Sender         string         `db:"sender"`
	SubjectPattern sql.NullString `db:"subject_pattern"`
	ExampleSubject sql.NullString `db:"example_subject"`
	Confidence     float64        `db:"confidence"`
	Matches        int            `db:"matches"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *candidateRow) toEntity() *domain.LearningCandidate {
	return &domain.LearningCandidate{
		ID:             r.ID,
		Type:           r.Type,
		Sender:         r.Sender,
		SubjectPattern: r.SubjectPattern.String,
		ExampleSubject: r.ExampleSubject.String,
		Confidence:     r.Confidence,
		Matches:        r.Matches,
		CreatedAt:      r.CreatedAt,
	}
}

const candidateColumns = `
	id, type, sender, subject_pattern, example_subject, confidence, matches, created_at
`

// Create inserts a learning candidate.
func (a *CandidateAdapter) Create(ctx context.Context, cand *domain.LearningCandidate) error {
	const query = `
		INSERT INTO learning_candidates (
			type, sender, subject_pattern, example_subject, confidence, matches, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`

	return a.db.QueryRowxContext(ctx, query,
		cand.Type,
		cand.Sender,
		nullIfEmpty(cand.SubjectPattern),
		nullIfEmpty(cand.ExampleSubject),
		cand.Confidence,
		cand.Matches,
	).Scan(&cand.ID, &cand.CreatedAt)
}

// Delete removes a candidate by id.
func (a *CandidateAdapter) Delete(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM learning_candidates WHERE id = $1`, id)
	return err
}

// GetByID retrieves one candidate, or nil when it does not exist.
func (a *CandidateAdapter) GetByID(ctx context.Context, id int64) (*domain.LearningCandidate, error) {
	const query = `SELECT ` + candidateColumns + ` FROM learning_candidates WHERE id = $1`

	var row candidateRow
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// FindBySenderAndPattern returns the candidate with the given sender and
// subject pattern, or nil when none exists. The sender comparison is
// case-insensitive.
func (a *CandidateAdapter) FindBySenderAndPattern(ctx context.Context, sender, pattern string) (*domain.LearningCandidate, error) {
	const query = `
		SELECT ` + candidateColumns + `
		FROM learning_candidates
		WHERE LOWER(sender) = LOWER($1) AND COALESCE(subject_pattern, '') = $2
		LIMIT 1
	`

	var row candidateRow
	if err := a.db.GetContext(ctx, &row, query, sender, pattern); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// IncrementMatches bumps the observation counter of a candidate.
func (a *CandidateAdapter) IncrementMatches(ctx context.Context, id int64) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE learning_candidates SET matches = matches + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns all candidates, highest confidence first.
func (a *CandidateAdapter) List(ctx context.Context) ([]*domain.LearningCandidate, error) {
	const query = `
		SELECT ` + candidateColumns + `
		FROM learning_candidates
		ORDER BY confidence DESC, matches DESC, id
	`

	var rows []candidateRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	candidates := make([]*domain.LearningCandidate, len(rows))
	for i := range rows {
		candidates[i] = rows[i].toEntity()
	}
	return candidates, nil
}

// Ensure CandidateAdapter implements out.LearningCandidateRepository
var _ out.LearningCandidateRepository = (*CandidateAdapter)(nil)
