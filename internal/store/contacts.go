package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// ContactRepo persists contacts.
type ContactRepo struct {
	db *sql.DB
}

const contactColumns = `id, manager_id, name, email, handle, status, auto_follow_up,
	next_follow_up_at, follow_up_count, last_thread_id, last_contact_date, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*domain.Contact, error) {
	var c domain.Contact
	var nextAt, lastContact sql.NullTime
	err := row.Scan(&c.ID, &c.ManagerID, &c.Name, &c.Email, &c.Handle, &c.Status,
		&c.AutoFollowUp, &nextAt, &c.FollowUpCount, &c.LastThreadID, &lastContact,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if nextAt.Valid {
		c.NextFollowUpAt = &nextAt.Time
	}
	if lastContact.Valid {
		c.LastContactDate = &lastContact.Time
	}
	return &c, nil
}

// Get fetches a contact by id.
func (r *ContactRepo) Get(ctx context.Context, id string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact %s: %w", id, err)
	}
	return c, nil
}

// Create inserts a new contact.
func (r *ContactRepo) Create(ctx context.Context, c *domain.Contact) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = domain.PipelineNotSent
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, manager_id, name, email, handle, status, auto_follow_up,
			next_follow_up_at, follow_up_count, last_thread_id, last_contact_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.ManagerID, c.Name, c.Email, c.Handle, c.Status, c.AutoFollowUp,
		nullTime(c.NextFollowUpAt), c.FollowUpCount, c.LastThreadID,
		nullTime(c.LastContactDate), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a contact.
func (r *ContactRepo) Update(ctx context.Context, c *domain.Contact) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET name=$2, email=$3, handle=$4, status=$5, auto_follow_up=$6,
			next_follow_up_at=$7, follow_up_count=$8, last_thread_id=$9,
			last_contact_date=$10, updated_at=$11
		WHERE id=$1`,
		c.ID, c.Name, c.Email, c.Handle, c.Status, c.AutoFollowUp,
		nullTime(c.NextFollowUpAt), c.FollowUpCount, c.LastThreadID,
		nullTime(c.LastContactDate), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update contact %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates just the pipeline status.
func (r *ContactRepo) SetStatus(ctx context.Context, id string, status domain.PipelineStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DisableAutomation clears the automation flags without touching status.
func (r *ContactRepo) DisableAutomation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET auto_follow_up=FALSE, next_follow_up_at=NULL, updated_at=now()
		WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("disable automation %s: %w", id, err)
	}
	return nil
}

// DueForFollowUp returns contacts whose automation check is overdue.
func (r *ContactRepo) DueForFollowUp(ctx context.Context, now time.Time, limit int) ([]*domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE auto_follow_up = TRUE
		  AND next_follow_up_at IS NOT NULL
		  AND next_follow_up_at <= $1
		  AND status LIKE 'PING_%'
		ORDER BY next_follow_up_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due contacts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a contact and its email history in one transaction.
func (r *ContactRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM email_records WHERE contact_id=$1`, id); err != nil {
		return fmt.Errorf("delete emails for %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete contact %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
