package persistence

import (
	"context"
	"database/sql"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// RunAdapter implements out.RunRepository using PostgreSQL.
type RunAdapter struct {
	db *sqlx.DB
}

// NewRunAdapter creates a new RunAdapter.
func NewRunAdapter(db *sqlx.DB) *RunAdapter {
	return &RunAdapter{db: db}
}

type runRow struct {
	ID              int64          `db:"id"`
	Status          string         `db:"status"`
	StartedAt       time.Time      `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	PollIntervalMin int            `db:"poll_interval_min"`
	EmailsChecked   int            `db:"emails_checked"`
	EmailsProcessed int            `db:"emails_processed"`
	EmailsForwarded int            `db:"emails_forwarded"`
	ErrorMessage    sql.NullString `db:"error_message"`
}

func (r *runRow) toEntity() *domain.ProcessingRun {
	run := &domain.ProcessingRun{
		ID:              r.ID,
		Status:          domain.RunStatus(r.Status),
		StartedAt:       r.StartedAt,
		PollIntervalMin: r.PollIntervalMin,
		EmailsChecked:   r.EmailsChecked,
		EmailsProcessed: r.EmailsProcessed,
		EmailsForwarded: r.EmailsForwarded,
		ErrorMessage:    r.ErrorMessage.String,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		run.CompletedAt = &t
	}
	return run
}

const runColumns = `
	id, status, started_at, completed_at, poll_interval_min,
	emails_checked, emails_processed, emails_forwarded, error_message
`

// Begin atomically checks for a recent run still in the running state and
// inserts this run's row in the same transaction. The row lock on the
// blocking run serializes concurrent Begin calls, so two schedulers can
// never both start. A running row older than the overlap guard window is
// treated as crashed and does not block.
func (a *RunAdapter) Begin(ctx context.Context, pollIntervalMin int) (*domain.ProcessingRun, *domain.ProcessingRun, error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	const guardQuery = `
		SELECT ` + runColumns + `
		FROM processing_runs
		WHERE status = 'running' AND started_at > $1
		ORDER BY started_at DESC
		LIMIT 1
		FOR UPDATE
	`

	var (
		conflict *domain.ProcessingRun
		blocking runRow
	)
	cutoff := time.Now().Add(-domain.OverlapGuardWindow)
	err = tx.GetContext(ctx, &blocking, guardQuery, cutoff)
	switch {
	case err == nil:
		conflict = blocking.toEntity()
	case err == sql.ErrNoRows:
		// No recent running row, this run proceeds.
	default:
		return nil, nil, err
	}

	status := domain.RunRunning
	var completedAt sql.NullTime
	var errorMessage sql.NullString
	if conflict != nil {
		status = domain.RunSkipped
		completedAt = sql.NullTime{Time: time.Now(), Valid: true}
		errorMessage = sql.NullString{String: domain.SkipReason(conflict.ID), Valid: true}
	}

	const insertQuery = `
		INSERT INTO processing_runs (
			status, started_at, completed_at, poll_interval_min, error_message
		) VALUES ($1, NOW(), $2, $3, $4)
		RETURNING id, started_at
	`

	run := &domain.ProcessingRun{
		Status:          status,
		PollIntervalMin: pollIntervalMin,
		ErrorMessage:    errorMessage.String,
	}
	if err := tx.QueryRowxContext(ctx, insertQuery,
		string(status), completedAt, pollIntervalMin, errorMessage,
	).Scan(&run.ID, &run.StartedAt); err != nil {
		return nil, nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return run, conflict, nil
}

// Finish writes the terminal state and counters of a run.
func (a *RunAdapter) Finish(ctx context.Context, run *domain.ProcessingRun) error {
	const query = `
		UPDATE processing_runs SET
			status = $1,
			completed_at = NOW(),
			emails_checked = $2,
			emails_processed = $3,
			emails_forwarded = $4,
			error_message = $5
		WHERE id = $6
		RETURNING completed_at
	`

	var completedAt time.Time
	if err := a.db.QueryRowxContext(ctx, query,
		string(run.Status),
		run.EmailsChecked,
		run.EmailsProcessed,
		run.EmailsForwarded,
		nullIfEmpty(run.ErrorMessage),
		run.ID,
	).Scan(&completedAt); err != nil {
		return err
	}
	run.CompletedAt = &completedAt
	return nil
}

// ListRecent returns the newest runs first.
func (a *RunAdapter) ListRecent(ctx context.Context, limit int) ([]*domain.ProcessingRun, error) {
	const query = `
		SELECT ` + runColumns + `
		FROM processing_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	var rows []runRow
	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}
	runs := make([]*domain.ProcessingRun, len(rows))
	for i := range rows {
		runs[i] = rows[i].toEntity()
	}
	return runs, nil
}

// Ensure RunAdapter implements out.RunRepository
var _ out.RunRepository = (*RunAdapter)(nil)
