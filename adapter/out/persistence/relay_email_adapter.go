// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// EmailAdapter implements out.EmailRecordRepository using PostgreSQL.
type EmailAdapter struct {
	db *sqlx.DB
}

// NewEmailAdapter creates a new EmailAdapter.
func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// emailRow represents the database row for a processed email.
type emailRow struct {
	ID                 int64           `db:"id"`
	EmailID            string          `db:"email_id"`
	ContentHash        string          `db:"content_hash"`
	AccountEmail       string          `db:"account_email"`
	Sender             string          `db:"sender"`
	Subject            string          `db:"subject"`
	Category           sql.NullString  `db:"category"`
	Amount             sql.NullFloat64 `db:"amount"`
	Status             string          `db:"status"`
	Reason             sql.NullString  `db:"reason"`
	EncryptedBody      sql.NullString  `db:"encrypted_body"`
	EncryptedHTML      sql.NullString  `db:"encrypted_html"`
	ReceivedAt         time.Time       `db:"received_at"`
	ProcessedAt        time.Time       `db:"processed_at"`
	RetentionExpiresAt sql.NullTime    `db:"retention_expires_at"`
}

func (r *emailRow) toEntity() *domain.EmailRecord {
	record := &domain.EmailRecord{
		ID:           r.ID,
		EmailID:      r.EmailID,
		ContentHash:  r.ContentHash,
		AccountEmail: r.AccountEmail,
		Sender:       r.Sender,
		Subject:      r.Subject,
		Category:     r.Category.String,
		Status:       domain.EmailStatus(r.Status),
		Reason:       r.Reason.String,
		ReceivedAt:   r.ReceivedAt,
		ProcessedAt:  r.ProcessedAt,
	}
	if r.Amount.Valid {
		a := r.Amount.Float64
		record.Amount = &a
	}
	if r.EncryptedBody.Valid {
		record.EncryptedBody = &r.EncryptedBody.String
	}
	if r.EncryptedHTML.Valid {
		record.EncryptedHTML = &r.EncryptedHTML.String
	}
	if r.RetentionExpiresAt.Valid {
		t := r.RetentionExpiresAt.Time
		record.RetentionExpiresAt = &t
	}
	return record
}

const emailColumns = `
	id, email_id, content_hash, account_email, sender, subject,
	category, amount, status, reason, encrypted_body, encrypted_html,
	received_at, processed_at, retention_expires_at
`

// Create inserts a processed email record.
func (a *EmailAdapter) Create(ctx context.Context, record *domain.EmailRecord) error {
	const query = `
		INSERT INTO processed_emails (
			email_id, content_hash, account_email, sender, subject,
			category, amount, status, reason, encrypted_body, encrypted_html,
			received_at, processed_at, retention_expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), $13
		)
		RETURNING id, processed_at
	`

	return a.db.QueryRowxContext(ctx, query,
		record.EmailID,
		record.ContentHash,
		record.AccountEmail,
		record.Sender,
		record.Subject,
		nullIfEmpty(record.Category),
		nullFloatPtr(record.Amount),
		string(record.Status),
		nullIfEmpty(record.Reason),
		nullStringPtr(record.EncryptedBody),
		nullStringPtr(record.EncryptedHTML),
		record.ReceivedAt,
		nullTimePtr(record.RetentionExpiresAt),
	).Scan(&record.ID, &record.ProcessedAt)
}

// GetByID retrieves one record, or nil when it does not exist.
func (a *EmailAdapter) GetByID(ctx context.Context, id int64) (*domain.EmailRecord, error) {
	const query = `SELECT ` + emailColumns + ` FROM processed_emails WHERE id = $1`

	var row emailRow
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// Exists reports whether an email with the given message id or content
// hash has already been processed.
func (a *EmailAdapter) Exists(ctx context.Context, emailID, contentHash string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM processed_emails
			WHERE email_id = $1 OR content_hash = $2
		)
	`

	var exists bool
	if err := a.db.GetContext(ctx, &exists, query, emailID, contentHash); err != nil {
		return false, err
	}
	return exists, nil
}

// List returns records newest first, filtered by status and amount
// range, along with the total count for pagination.
func (a *EmailAdapter) List(ctx context.Context, filter out.HistoryFilter, limit, offset int) ([]*domain.EmailRecord, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.MinAmount != nil {
		args = append(args, *filter.MinAmount)
		conds = append(conds, fmt.Sprintf("amount >= $%d", len(args)))
	}
	if filter.MaxAmount != nil {
		args = append(args, *filter.MaxAmount)
		conds = append(conds, fmt.Sprintf("amount <= $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := a.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM processed_emails`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + emailColumns + `
		FROM processed_emails` + where + fmt.Sprintf(`
		ORDER BY processed_at DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var rows []emailRow
	if err := a.db.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, 0, err
	}

	records := make([]*domain.EmailRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toEntity()
	}
	return records, total, nil
}

// UpdateStatus writes a new status and reason on an existing record.
func (a *EmailAdapter) UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus, reason string) error {
	const query = `
		UPDATE processed_emails
		SET status = $1, reason = $2
		WHERE id = $3
	`

	result, err := a.db.ExecContext(ctx, query, string(status), reason, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PurgeExpiredContent nulls encrypted content past its retention window.
// Metadata rows are kept for dedup and history.
func (a *EmailAdapter) PurgeExpiredContent(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE processed_emails
		SET encrypted_body = NULL, encrypted_html = NULL
		WHERE retention_expires_at IS NOT NULL
		  AND retention_expires_at <= $1
		  AND (encrypted_body IS NOT NULL OR encrypted_html IS NOT NULL)
	`

	result, err := a.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Ensure EmailAdapter implements out.EmailRecordRepository
var _ out.EmailRecordRepository = (*EmailAdapter)(nil)
