package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/outreach/internal/domain"
)

// MailboxRepo persists per-user mailbox OAuth credentials.
type MailboxRepo struct {
	db *sql.DB
}

// Get returns the mailbox account for a user.
func (r *MailboxRepo) Get(ctx context.Context, userID string) (*domain.MailboxAccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, address, access_token, refresh_token, token_expiry
		FROM mailbox_accounts WHERE user_id = $1`, userID)
	var m domain.MailboxAccount
	var expiry sql.NullTime
	err := row.Scan(&m.UserID, &m.Address, &m.AccessToken, &m.RefreshToken, &expiry)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox %s: %w", userID, err)
	}
	if expiry.Valid {
		m.TokenExpiry = &expiry.Time
	}
	return &m, nil
}

// Save upserts the mailbox account, replacing stored tokens.
func (r *MailboxRepo) Save(ctx context.Context, m *domain.MailboxAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailbox_accounts (user_id, address, access_token, refresh_token, token_expiry, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (user_id)
		DO UPDATE SET address = EXCLUDED.address, access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token, token_expiry = EXCLUDED.token_expiry,
			updated_at = now()`,
		m.UserID, m.Address, m.AccessToken, m.RefreshToken, nullTime(m.TokenExpiry))
	if err != nil {
		return fmt.Errorf("save mailbox %s: %w", m.UserID, err)
	}
	return nil
}
