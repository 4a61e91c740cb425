package replydetect

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/mailbox"
)

type fakeSearcher struct {
	messages []mailbox.Message
	err      error
	queries  []string
}

func (f *fakeSearcher) Search(_ context.Context, _, query string, _ int) ([]mailbox.Message, error) {
	f.queries = append(f.queries, query)
	return f.messages, f.err
}

type fakeEmailStore struct {
	updated *domain.EmailRecord
}

func (f *fakeEmailStore) Update(_ context.Context, e *domain.EmailRecord) error {
	f.updated = e
	return nil
}

type fakeContactStore struct {
	updated *domain.Contact
}

func (f *fakeContactStore) Update(_ context.Context, c *domain.Contact) error {
	f.updated = c
	return nil
}

type fakeCanceller struct {
	cancelled []int64
}

func (f *fakeCanceller) Cancel(_ context.Context, id int64) (bool, error) {
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func fixture() (*domain.Contact, *domain.EmailRecord) {
	sentAt := time.Now().Add(-2 * time.Hour)
	jobID := int64(99)
	contact := &domain.Contact{
		ID: "c1", ManagerID: "m1", Email: "creator@example.com",
		Status: domain.PipelinePing1, AutoFollowUp: true, NextFollowUpAt: &sentAt,
	}
	record := &domain.EmailRecord{
		ID: "e1", ContactID: "c1", ManagerID: "m1", ToEmail: "creator@example.com",
		Subject: "Partnership idea", Status: domain.EmailSent,
		MessageID: "abc123@mg.example.com", SentAt: &sentAt, ScheduledJobID: &jobID,
	}
	return contact, record
}

func TestAlreadyRepliedIsNoOp(t *testing.T) {
	contact, record := fixture()
	record.Status = domain.EmailReplied
	searcher := &fakeSearcher{}
	d := New(searcher, &fakeEmailStore{}, &fakeContactStore{}, &fakeCanceller{})

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil || !replied {
		t.Fatalf("Check = %v, %v", replied, err)
	}
	if len(searcher.queries) != 0 {
		t.Error("mailbox searched for an already-replied record")
	}
}

func TestMissingCredentialsMeansNoReply(t *testing.T) {
	contact, record := fixture()
	searcher := &fakeSearcher{err: mailbox.ErrNoCredentials}
	d := New(searcher, &fakeEmailStore{}, &fakeContactStore{}, &fakeCanceller{})

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if replied {
		t.Error("reply reported without mailbox access")
	}
}

func TestHeaderCorrelationMarksReplied(t *testing.T) {
	contact, record := fixture()
	replyTime := time.Now().Add(-time.Hour)
	searcher := &fakeSearcher{messages: []mailbox.Message{
		{
			ID: "g1", ThreadID: "t1", From: "creator@example.com",
			Subject: "Re: Partnership idea",
			InReplyTo: "<abc123@mg.example.com>", Date: replyTime,
		},
	}}
	emails := &fakeEmailStore{}
	contacts := &fakeContactStore{}
	jobs := &fakeCanceller{}
	d := New(searcher, emails, contacts, jobs)

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !replied {
		t.Fatal("reply not detected")
	}
	if emails.updated == nil || emails.updated.Status != domain.EmailReplied {
		t.Errorf("record = %+v", emails.updated)
	}
	if emails.updated.RepliedAt == nil || !emails.updated.RepliedAt.Equal(replyTime) {
		t.Errorf("RepliedAt = %v, want %v", emails.updated.RepliedAt, replyTime)
	}
	if contacts.updated == nil || contacts.updated.AutoFollowUp || contacts.updated.NextFollowUpAt != nil {
		t.Errorf("contact not released: %+v", contacts.updated)
	}
	if contacts.updated.Status != domain.PipelineNotSent {
		t.Errorf("contact status = %q, want %q", contacts.updated.Status, domain.PipelineNotSent)
	}
	if contacts.updated.LastThreadID != "t1" {
		t.Errorf("LastThreadID = %q", contacts.updated.LastThreadID)
	}
	if len(jobs.cancelled) != 1 || jobs.cancelled[0] != 99 {
		t.Errorf("cancelled = %v", jobs.cancelled)
	}
	if len(searcher.queries) == 0 || !strings.HasPrefix(searcher.queries[0], "rfc822msgid:abc123@mg.example.com") {
		t.Errorf("queries = %v, want rfc822msgid lookup first", searcher.queries)
	}
}

func TestSubjectFallback(t *testing.T) {
	contact, record := fixture()
	searcher := &fakeSearcher{messages: []mailbox.Message{
		{ID: "g2", From: "creator@example.com", Subject: "RE: partnership idea", Date: time.Now()},
	}}
	d := New(searcher, &fakeEmailStore{}, &fakeContactStore{}, &fakeCanceller{})

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil || !replied {
		t.Fatalf("Check = %v, %v", replied, err)
	}
}

func TestOldMessagesIgnored(t *testing.T) {
	contact, record := fixture()
	searcher := &fakeSearcher{messages: []mailbox.Message{
		{ID: "g3", From: "creator@example.com", Subject: "Re: Partnership idea",
			Date: record.SentAt.Add(-24 * time.Hour)},
	}}
	d := New(searcher, &fakeEmailStore{}, &fakeContactStore{}, &fakeCanceller{})

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if replied {
		t.Error("message predating the send counted as a reply")
	}
}

func TestUnrelatedMessageNotCountedAsReply(t *testing.T) {
	contact, record := fixture()
	searcher := &fakeSearcher{messages: []mailbox.Message{
		{ID: "g4", From: "creator@example.com", Subject: "My monthly newsletter",
			Date: time.Now()},
	}}
	emails := &fakeEmailStore{}
	d := New(searcher, emails, &fakeContactStore{}, &fakeCanceller{})

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if replied {
		t.Error("message without threading headers and unrelated subject counted as a reply")
	}
	if emails.updated != nil {
		t.Errorf("record updated: %+v", emails.updated)
	}
}

func TestThreadingHeadersAcceptedWithoutMessageID(t *testing.T) {
	contact, record := fixture()
	record.MessageID = ""
	searcher := &fakeSearcher{messages: []mailbox.Message{
		{ID: "g5", From: "creator@example.com", Subject: "About your offer",
			References: "<something-else@mail.example.com>", Date: time.Now()},
	}}
	d := New(searcher, &fakeEmailStore{}, &fakeContactStore{}, &fakeCanceller{})

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil || !replied {
		t.Fatalf("Check = %v, %v", replied, err)
	}
}

func TestSearchErrorTreatedAsNoReply(t *testing.T) {
	contact, record := fixture()
	searcher := &fakeSearcher{err: errors.New("gmail 500")}
	emails := &fakeEmailStore{}
	d := New(searcher, emails, &fakeContactStore{}, &fakeCanceller{})

	replied, err := d.Check(context.Background(), contact, record)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if replied {
		t.Error("reply reported after a failed mailbox search")
	}
	if emails.updated != nil {
		t.Errorf("record updated: %+v", emails.updated)
	}
}

func TestSubjectAnswers(t *testing.T) {
	cases := []struct {
		candidate, original string
		want                bool
	}{
		{"Re: Hello", "Hello", true},
		{"RE: re: Hello", "Hello", true},
		{"Fwd: Hello", "Hello", true},
		{"Hello", "Hello", true},
		{"Something else", "Hello", false},
		{"Re: Hello", "", false},
	}
	for _, tc := range cases {
		if got := subjectAnswers(tc.candidate, tc.original); got != tc.want {
			t.Errorf("subjectAnswers(%q, %q) = %v", tc.candidate, tc.original, got)
		}
	}
}
