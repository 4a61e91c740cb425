package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/store"
	"github.com/ignite/outreach/internal/transport"
)

// errContactBusy retries the job when another handler holds the contact.
var errContactBusy = errors.New("worker: contact locked by another handler")

// HandleSend delivers the email record referenced by a send job.
//
// Malformed payloads and vanished records complete the job without error;
// retrying cannot fix either. Transient transport failures return an error
// so the queue retries; permanent ones mark the record FAILED and stop.
func (w *Worker) HandleSend(ctx context.Context, job *queue.Job) error {
	var p queue.SendPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.EmailRecordID == "" {
		logger.Warn("dropping malformed send job", "job_id", job.ID, "error", fmt.Sprint(err))
		return nil
	}

	return w.withContactLock(ctx, p.ContactID, func(ctx context.Context) error {
		return w.send(ctx, job, p)
	})
}

func (w *Worker) send(ctx context.Context, job *queue.Job, p queue.SendPayload) error {
	record, err := w.emails.Get(ctx, p.EmailRecordID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("send job references missing record", "job_id", job.ID,
			"email_record_id", p.EmailRecordID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	switch record.Status {
	case domain.EmailSent, domain.EmailOpened, domain.EmailReplied:
		// Retried job after a success that failed to ack, or a duplicate
		// enqueue. Nothing to deliver.
		logger.Debug("record already delivered", "email_record_id", record.ID,
			"status", string(record.Status))
		return nil
	}

	contact, err := w.contacts.Get(ctx, p.ContactID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load contact: %w", err)
	}

	record.Status = domain.EmailProcessing
	record.AttemptCount = job.Attempt
	if err := w.emails.Update(ctx, record); err != nil {
		logger.Warn("mark processing failed", "email_record_id", record.ID, "error", err.Error())
	}

	res := w.sender.Send(ctx, transport.Request{
		To:        record.ToEmail,
		FromName:  w.senderCfg.FromName,
		FromEmail: w.senderCfg.FromEmail,
		ReplyTo:   w.senderCfg.ReplyTo,
		Subject:   record.Subject,
		HTML:      record.BodyHTML,
		WarmupDay: w.warmupDay(),
	})

	if !res.Success {
		record.Status = domain.EmailFailed
		record.ErrorMessage = res.Err.Error()
		if err := w.emails.Update(ctx, record); err != nil {
			logger.Warn("mark failed failed", "email_record_id", record.ID, "error", err.Error())
		}
		if res.Permanent {
			logger.Warn("send failed permanently", "email_record_id", record.ID,
				"to", record.ToEmail, "error", res.Err.Error())
			return nil
		}
		return fmt.Errorf("send %s: %w", record.ID, res.Err)
	}

	now := time.Now().UTC()
	record.Status = domain.EmailSent
	record.SentAt = &now
	record.ProviderMessageID = res.ProviderID
	record.MessageID = res.MessageID
	record.ErrorMessage = ""
	if err := w.emails.Update(ctx, record); err != nil {
		// The mail is out; a stale record is a reporting problem, not a
		// reason to resend.
		logger.Error("persist sent record failed", "email_record_id", record.ID, "error", err.Error())
	}

	if contact != nil {
		w.advanceContact(ctx, contact, record, p)
	}

	logger.Info("email sent", "email_record_id", record.ID, "to", record.ToEmail,
		"template", record.TemplateName, "provider_id", res.ProviderID)
	return nil
}

// advanceContact moves the pipeline forward after a successful delivery
// and, for automation starts, schedules the first follow-up check.
func (w *Worker) advanceContact(ctx context.Context, contact *domain.Contact, record *domain.EmailRecord, p queue.SendPayload) {
	now := time.Now().UTC()
	contact.LastContactDate = &now

	if p.AdvanceStep > 0 {
		if status, ok := domain.PingStatusForStep(p.AdvanceStep); ok {
			contact.Status = status
		}
	}

	if p.StartAutomation {
		delay := w.stepDelay(1)
		jobID, err := w.jobs.Enqueue(ctx, queue.LaneFollowUp, queue.FollowUpPayload{
			ContactID:     contact.ID,
			EmailRecordID: record.ID,
			Step:          1,
		}, queue.Options{Delay: delay})
		if err != nil {
			logger.Error("schedule first follow-up failed", "contact_id", contact.ID, "error", err.Error())
		} else {
			contact.AutoFollowUp = true
			nextAt := now.Add(delay)
			contact.NextFollowUpAt = &nextAt
			record.ScheduledJobID = &jobID
			if err := w.emails.Update(ctx, record); err != nil {
				logger.Warn("persist scheduled job id failed", "email_record_id", record.ID, "error", err.Error())
			}
		}
	}

	if err := w.contacts.Update(ctx, contact); err != nil {
		logger.Error("advance contact failed", "contact_id", contact.ID, "error", err.Error())
	}
}
