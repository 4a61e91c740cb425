package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// EmailRepo persists email records.
type EmailRepo struct {
	db *sql.DB
}

const emailColumns = `id, contact_id, manager_id, to_email, subject, body_html, template_name,
	status, provider_message_id, message_id, attempt_count, error_message,
	scheduled_job_id, is_automation, sent_at, opened_at, replied_at, created_at, updated_at`

func scanEmail(row interface{ Scan(...any) error }) (*domain.EmailRecord, error) {
	var e domain.EmailRecord
	var jobID sql.NullInt64
	var sentAt, openedAt, repliedAt sql.NullTime
	err := row.Scan(&e.ID, &e.ContactID, &e.ManagerID, &e.ToEmail, &e.Subject, &e.BodyHTML,
		&e.TemplateName, &e.Status, &e.ProviderMessageID, &e.MessageID, &e.AttemptCount,
		&e.ErrorMessage, &jobID, &e.IsAutomation, &sentAt, &openedAt, &repliedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if jobID.Valid {
		e.ScheduledJobID = &jobID.Int64
	}
	if sentAt.Valid {
		e.SentAt = &sentAt.Time
	}
	if openedAt.Valid {
		e.OpenedAt = &openedAt.Time
	}
	if repliedAt.Valid {
		e.RepliedAt = &repliedAt.Time
	}
	return &e, nil
}

// Get fetches an email record by id.
func (r *EmailRepo) Get(ctx context.Context, id string) (*domain.EmailRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM email_records WHERE id = $1`, id)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", id, err)
	}
	return e, nil
}

// Create inserts a new email record.
func (r *EmailRepo) Create(ctx context.Context, e *domain.EmailRecord) error {
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Status == "" {
		e.Status = domain.EmailPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_records (id, contact_id, manager_id, to_email, subject, body_html,
			template_name, status, provider_message_id, message_id, attempt_count,
			error_message, scheduled_job_id, is_automation, sent_at, opened_at, replied_at,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.ID, e.ContactID, e.ManagerID, e.ToEmail, e.Subject, e.BodyHTML,
		e.TemplateName, e.Status, e.ProviderMessageID, e.MessageID, e.AttemptCount,
		e.ErrorMessage, nullInt64(e.ScheduledJobID), e.IsAutomation,
		nullTime(e.SentAt), nullTime(e.OpenedAt), nullTime(e.RepliedAt),
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create email record: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an email record.
func (r *EmailRepo) Update(ctx context.Context, e *domain.EmailRecord) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_records SET status=$2, provider_message_id=$3, message_id=$4,
			attempt_count=$5, error_message=$6, scheduled_job_id=$7,
			sent_at=$8, opened_at=$9, replied_at=$10, updated_at=$11
		WHERE id=$1`,
		e.ID, e.Status, e.ProviderMessageID, e.MessageID, e.AttemptCount,
		e.ErrorMessage, nullInt64(e.ScheduledJobID),
		nullTime(e.SentAt), nullTime(e.OpenedAt), nullTime(e.RepliedAt), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update email %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestForContact returns the most recent record for a contact, newest first.
func (r *EmailRepo) LatestForContact(ctx context.Context, contactID string) (*domain.EmailRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+emailColumns+` FROM email_records
		WHERE contact_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, contactID)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest email for %s: %w", contactID, err)
	}
	return e, nil
}

// ListForContact returns all records for a contact, newest first.
func (r *EmailRepo) ListForContact(ctx context.Context, contactID string) ([]*domain.EmailRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailColumns+` FROM email_records
		WHERE contact_id = $1
		ORDER BY created_at DESC`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list emails for %s: %w", contactID, err)
	}
	defer rows.Close()

	var out []*domain.EmailRecord
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindByProviderMessageID locates a record by the transport provider's id.
// Used by webhook ingestion.
func (r *EmailRepo) FindByProviderMessageID(ctx context.Context, providerID string) (*domain.EmailRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+emailColumns+` FROM email_records
		WHERE provider_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, providerID)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by provider id: %w", err)
	}
	return e, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
