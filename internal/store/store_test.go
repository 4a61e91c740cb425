package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/outreach/internal/domain"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func contactRows(c *domain.Contact) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "manager_id", "name", "email", "handle", "status", "auto_follow_up",
		"next_follow_up_at", "follow_up_count", "last_thread_id", "last_contact_date",
		"created_at", "updated_at",
	}).AddRow(c.ID, c.ManagerID, c.Name, c.Email, c.Handle, c.Status, c.AutoFollowUp,
		c.NextFollowUpAt, c.FollowUpCount, c.LastThreadID, c.LastContactDate,
		c.CreatedAt, c.UpdatedAt)
}

func TestContactGet(t *testing.T) {
	s, mock := newMock(t)
	want := &domain.Contact{
		ID: "c1", ManagerID: "m1", Name: "Ada", Email: "ada@example.com",
		Status: domain.PipelinePing1, FollowUpCount: 1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	mock.ExpectQuery(`FROM contacts WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(contactRows(want))

	got, err := s.Contacts.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Email != want.Email || got.Status != domain.PipelinePing1 {
		t.Errorf("got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestContactGetNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM contacts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Contacts.Get(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestContactDeleteCascades(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM email_records WHERE contact_id=\$1`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM contacts WHERE id=\$1`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Contacts.Delete(context.Background(), "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestContactDeleteMissingRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM email_records WHERE contact_id=\$1`).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM contacts WHERE id=\$1`).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := s.Contacts.Delete(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDueForFollowUp(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	due := &domain.Contact{
		ID: "c2", ManagerID: "m1", Email: "b@example.com",
		Status: domain.PipelinePing2, AutoFollowUp: true,
		NextFollowUpAt: &now, CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectQuery(`FROM contacts\s+WHERE auto_follow_up = TRUE`).
		WithArgs(now, 100).
		WillReturnRows(contactRows(due))

	got, err := s.Contacts.DueForFollowUp(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("DueForFollowUp: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c2" {
		t.Errorf("got %v", got)
	}
}

func TestEmailFindByProviderMessageID(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "contact_id", "manager_id", "to_email", "subject", "body_html", "template_name",
		"status", "provider_message_id", "message_id", "attempt_count", "error_message",
		"scheduled_job_id", "is_automation", "sent_at", "opened_at", "replied_at",
		"created_at", "updated_at",
	}).AddRow("e1", "c1", "m1", "a@example.com", "Hi", "<p>Hi</p>", "Initial",
		domain.EmailSent, "prov-123", "<id@mg>", 1, "", nil, false, now, nil, nil, now, now)

	mock.ExpectQuery(`FROM email_records\s+WHERE provider_message_id = \$1`).
		WithArgs("prov-123").
		WillReturnRows(rows)

	got, err := s.Emails.FindByProviderMessageID(context.Background(), "prov-123")
	if err != nil {
		t.Fatalf("FindByProviderMessageID: %v", err)
	}
	if got.ID != "e1" || got.Status != domain.EmailSent {
		t.Errorf("got %+v", got)
	}
}

func TestMailboxGetWithoutExpiry(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM mailbox_accounts WHERE user_id = \$1`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "address", "access_token", "refresh_token", "token_expiry",
		}).AddRow("m1", "m1@agency.example.com", "at", "rt", nil))

	got, err := s.Mailboxes.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TokenExpiry != nil {
		t.Errorf("TokenExpiry = %v, want nil", got.TokenExpiry)
	}
	if !got.HasCredentials() {
		t.Error("expected usable credentials")
	}
}

func TestMailboxGetWithExpiry(t *testing.T) {
	s, mock := newMock(t)
	expiry := time.Now().Add(30 * time.Minute).UTC()
	mock.ExpectQuery(`FROM mailbox_accounts WHERE user_id = \$1`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "address", "access_token", "refresh_token", "token_expiry",
		}).AddRow("m1", "m1@agency.example.com", "at", "rt", expiry))

	got, err := s.Mailboxes.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TokenExpiry == nil || !got.TokenExpiry.Equal(expiry) {
		t.Errorf("TokenExpiry = %v, want %v", got.TokenExpiry, expiry)
	}
}

func TestTemplateFindAnyPreferenceOrder(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	// First name misses, second hits.
	mock.ExpectQuery(`FROM email_templates`).
		WithArgs("m1", domain.TemplateReminder24).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM email_templates`).
		WithArgs("m1", domain.TemplateFollowUp48).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "manager_id", "name", "subject", "body_html", "created_at", "updated_at",
		}).AddRow("t2", "m1", domain.TemplateFollowUp48, "Checking in", "<p>{{name}}</p>", now, now))

	got, err := s.Templates.FindAny(context.Background(), "m1",
		[]string{domain.TemplateReminder24, domain.TemplateFollowUp48})
	if err != nil {
		t.Fatalf("FindAny: %v", err)
	}
	if got.Name != domain.TemplateFollowUp48 {
		t.Errorf("Name = %q", got.Name)
	}
}
