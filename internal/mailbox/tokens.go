// Package mailbox reads a user's Gmail inbox for reply detection. Tokens
// are stored per manager and refreshed through the Google OAuth endpoint.
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// ErrNoCredentials is returned when a manager has no usable mailbox tokens.
// Reply detection treats this as "no reply found" rather than a failure.
var ErrNoCredentials = errors.New("mailbox: no credentials on file")

// AccountStore persists mailbox credentials.
type AccountStore interface {
	Get(ctx context.Context, userID string) (*domain.MailboxAccount, error)
	Save(ctx context.Context, m *domain.MailboxAccount) error
}

// TokenManager hands out live access tokens, refreshing and persisting
// them as needed.
type TokenManager struct {
	store  AccountStore
	config *oauth2.Config
}

// NewTokenManager builds a manager over the Google OAuth client.
func NewTokenManager(store AccountStore, clientID, clientSecret string) *TokenManager {
	return &TokenManager{
		store: store,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
		},
	}
}

// Token returns a valid access token for the user's mailbox, refreshing it
// if expired. Refreshed tokens are written back to the store.
func (tm *TokenManager) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	acct, err := tm.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	if !acct.HasCredentials() {
		return nil, ErrNoCredentials
	}

	tok := &oauth2.Token{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
	}
	if acct.TokenExpiry != nil {
		tok.Expiry = *acct.TokenExpiry
	}
	if tok.Valid() {
		return tok, nil
	}

	fresh, err := tm.config.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrNoCredentials, err)
	}

	acct.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		acct.RefreshToken = fresh.RefreshToken
	}
	expiry := fresh.Expiry
	acct.TokenExpiry = &expiry
	if err := tm.store.Save(ctx, acct); err != nil {
		// A stale stored token just means another refresh next time.
		logger.Warn("persist refreshed token failed", "user_id", userID, "error", err.Error())
	}
	return fresh, nil
}

// TokenSource returns a source bound to the user's current token. The
// source does not auto-refresh; callers get a fresh one per operation.
func (tm *TokenManager) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	tok, err := tm.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(tok), nil
}
