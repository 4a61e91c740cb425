package domain

import "time"

// MailboxAccount holds a manager's OAuth mailbox credentials, used only for
// searching their own sent-mail for replies. Tokens are refreshed in place
// and re-persisted by the mailbox package.
type MailboxAccount struct {
	UserID       string     `json:"user_id" db:"user_id"`
	Address      string     `json:"address" db:"address"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken string     `json:"-" db:"refresh_token"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty" db:"token_expiry"`
}

// HasCredentials reports whether the account carries a usable token pair.
func (m *MailboxAccount) HasCredentials() bool {
	return m != nil && m.RefreshToken != ""
}
