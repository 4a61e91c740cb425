// Package store provides PostgreSQL persistence for contacts, email
// records, templates, and mailbox accounts.
package store

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a database handle shared by all repositories.
type Store struct {
	db *sql.DB

	Contacts  *ContactRepo
	Emails    *EmailRepo
	Templates *TemplateRepo
	Mailboxes *MailboxRepo
}

// New builds a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:        db,
		Contacts:  &ContactRepo{db: db},
		Emails:    &EmailRepo{db: db},
		Templates: &TemplateRepo{db: db},
		Mailboxes: &MailboxRepo{db: db},
	}
}

// DB exposes the underlying handle for components that need transactions
// or advisory locks.
func (s *Store) DB() *sql.DB { return s.db }
