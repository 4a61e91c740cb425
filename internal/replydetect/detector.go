// Package replydetect decides whether a contact has answered an outreach
// email by searching the manager's mailbox.
package replydetect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/mailbox"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// searchBuffer widens the window before the send time to absorb clock skew
// between our records and the mailbox.
const searchBuffer = 5 * time.Minute

// EmailStore is the slice of the email repository the detector needs.
type EmailStore interface {
	Update(ctx context.Context, e *domain.EmailRecord) error
}

// ContactStore is the slice of the contact repository the detector needs.
type ContactStore interface {
	Update(ctx context.Context, c *domain.Contact) error
}

// JobCanceller cancels a pending follow-up job.
type JobCanceller interface {
	Cancel(ctx context.Context, jobID int64) (bool, error)
}

// Detector checks sent emails for replies.
type Detector struct {
	searcher mailbox.Searcher
	emails   EmailStore
	contacts ContactStore
	jobs     JobCanceller
}

// New builds a detector.
func New(searcher mailbox.Searcher, emails EmailStore, contacts ContactStore, jobs JobCanceller) *Detector {
	return &Detector{searcher: searcher, emails: emails, contacts: contacts, jobs: jobs}
}

// Check reports whether the contact replied to the given email. A positive
// result marks the record REPLIED, resets the contact out of the pipeline,
// and cancels any scheduled follow-up job.
//
// Missing mailbox credentials and search failures are not errors: without
// a readable inbox we cannot see a reply, so the pipeline proceeds as if
// none arrived. Only persistence failures propagate.
func (d *Detector) Check(ctx context.Context, contact *domain.Contact, record *domain.EmailRecord) (bool, error) {
	if record.Status == domain.EmailReplied {
		return true, nil
	}
	if record.SentAt == nil || contact.Email == "" {
		return false, nil
	}

	msg, found, err := d.findReply(ctx, contact, record)
	if err != nil {
		if errors.Is(err, mailbox.ErrNoCredentials) {
			logger.Debug("reply check skipped, no mailbox credentials", "contact_id", contact.ID)
			return false, nil
		}
		logger.Warn("reply search failed, treating as no reply",
			"contact_id", contact.ID, "error", err.Error())
		return false, nil
	}
	if !found {
		return false, nil
	}

	repliedAt := msg.Date
	if repliedAt.IsZero() {
		repliedAt = time.Now().UTC()
	}
	record.Status = domain.EmailReplied
	record.RepliedAt = &repliedAt
	if err := d.emails.Update(ctx, record); err != nil {
		return true, fmt.Errorf("mark replied: %w", err)
	}

	contact.Status = domain.PipelineNotSent
	contact.AutoFollowUp = false
	contact.NextFollowUpAt = nil
	if msg.ThreadID != "" {
		contact.LastThreadID = msg.ThreadID
	}
	if err := d.contacts.Update(ctx, contact); err != nil {
		return true, fmt.Errorf("release contact: %w", err)
	}

	if record.ScheduledJobID != nil {
		if _, err := d.jobs.Cancel(ctx, *record.ScheduledJobID); err != nil {
			logger.Warn("cancel follow-up job failed", "job_id", *record.ScheduledJobID, "error", err.Error())
		}
	}

	logger.Info("reply detected", "contact_id", contact.ID, "email_record_id", record.ID,
		"thread_id", msg.ThreadID)
	return true, nil
}

// findReply searches the manager's mailbox for a message answering the
// record. The primary pass looks the outbound message id up directly and
// confirms candidates by threading headers. The fallback pass searches by
// the contact's address and accepts a subject match or, weakest, a
// candidate that at least carries threading headers. Messages without any
// threading signal and an unrelated subject are never taken as replies.
func (d *Detector) findReply(ctx context.Context, contact *domain.Contact, record *domain.EmailRecord) (mailbox.Message, bool, error) {
	since := record.SentAt.Add(-searchBuffer)

	if record.MessageID != "" {
		query := fmt.Sprintf("rfc822msgid:%s after:%d", record.MessageID, since.Unix())
		candidates, err := d.searcher.Search(ctx, contact.ManagerID, query, 20)
		if err != nil {
			return mailbox.Message{}, false, err
		}
		for i := range candidates {
			msg := candidates[i]
			if !msg.Date.IsZero() && msg.Date.Before(since) {
				continue
			}
			if referencesMessage(msg, record.MessageID) {
				return msg, true, nil
			}
		}
	}

	query := fmt.Sprintf("from:%s after:%d", contact.Email, since.Unix())
	candidates, err := d.searcher.Search(ctx, contact.ManagerID, query, 20)
	if err != nil {
		return mailbox.Message{}, false, err
	}

	var bySubject, byThread *mailbox.Message
	for i := range candidates {
		msg := candidates[i]
		if !msg.Date.IsZero() && msg.Date.Before(since) {
			continue
		}
		if record.MessageID != "" && referencesMessage(msg, record.MessageID) {
			return msg, true, nil
		}
		if bySubject == nil && subjectAnswers(msg.Subject, record.Subject) {
			bySubject = &candidates[i]
		}
		if byThread == nil && (msg.InReplyTo != "" || msg.References != "") {
			byThread = &candidates[i]
		}
	}
	if bySubject != nil {
		return *bySubject, true, nil
	}
	if byThread != nil {
		return *byThread, true, nil
	}
	return mailbox.Message{}, false, nil
}

func referencesMessage(msg mailbox.Message, messageID string) bool {
	needle := strings.Trim(messageID, "<>")
	return strings.Contains(msg.InReplyTo, needle) || strings.Contains(msg.References, needle)
}

func subjectAnswers(candidate, original string) bool {
	if original == "" {
		return false
	}
	c := strings.ToLower(strings.TrimSpace(candidate))
	o := strings.ToLower(strings.TrimSpace(original))
	for strings.HasPrefix(c, "re:") || strings.HasPrefix(c, "fwd:") {
		c = strings.TrimSpace(c[strings.Index(c, ":")+1:])
	}
	return c == o
}
