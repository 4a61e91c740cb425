package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/store"
)

// HandleFollowUp runs a scheduled no-reply check: look for a reply first,
// and only escalate when none is found.
func (w *Worker) HandleFollowUp(ctx context.Context, job *queue.Job) error {
	var p queue.FollowUpPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.ContactID == "" {
		logger.Warn("dropping malformed follow-up job", "job_id", job.ID, "error", fmt.Sprint(err))
		return nil
	}

	return w.withContactLock(ctx, p.ContactID, func(ctx context.Context) error {
		return w.followUp(ctx, job, p)
	})
}

func (w *Worker) followUp(ctx context.Context, job *queue.Job, p queue.FollowUpPayload) error {
	contact, err := w.contacts.Get(ctx, p.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("follow-up for deleted contact", "job_id", job.ID, "contact_id", p.ContactID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}

	if p.EmailRecordID != "" {
		record, err := w.emails.Get(ctx, p.EmailRecordID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load record: %w", err)
		}
		if record != nil {
			replied, err := w.detector.Check(ctx, contact, record)
			if err != nil {
				return fmt.Errorf("reply check: %w", err)
			}
			if replied {
				logger.Info("follow-up stopped, contact replied",
					"contact_id", contact.ID, "step", p.Step)
				return nil
			}
		}
	}

	out, err := w.machine.HandleNoReply(ctx, contact, p)
	if err != nil {
		return err
	}
	logger.Debug("follow-up check done", "contact_id", contact.ID, "step", p.Step,
		"action", string(out.Action), "reason", out.Reason)
	return nil
}
