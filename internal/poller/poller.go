// Package poller sweeps for contacts whose follow-up is overdue. The job
// queue is the primary driver; the poller is a safety net for checks whose
// jobs were lost or cancelled out from under a still-active contact.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
)

const (
	singletonKey = "poller:leader"
	sweepLimit   = 100
	// overdueGrace keeps the poller from racing the queue: a contact is
	// only swept once its check is well past due, giving the scheduled
	// job every chance to run first.
	overdueGrace = 5 * time.Minute
)

// ContactSource lists contacts whose automation check is overdue.
type ContactSource interface {
	DueForFollowUp(ctx context.Context, now time.Time, limit int) ([]*domain.Contact, error)
}

// EmailSource finds the email record a check refers to.
type EmailSource interface {
	LatestForContact(ctx context.Context, contactID string) (*domain.EmailRecord, error)
}

// Poller periodically re-enqueues overdue follow-up checks.
type Poller struct {
	contacts ContactSource
	emails   EmailSource
	jobs     queue.Queue
	locks    distlock.Factory
	interval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a poller.
func New(contacts ContactSource, emails EmailSource, jobs queue.Queue,
	locks distlock.Factory, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{contacts: contacts, emails: emails, jobs: jobs, locks: locks, interval: interval}
}

// Start launches the sweep loop. Call Stop to halt it.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop halts the loop and waits for an in-flight sweep.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error("poller sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep runs one pass. Only one process sweeps at a time: a singleton lock
// elects the leader, and losing the election is a quiet no-op.
func (p *Poller) Sweep(ctx context.Context) error {
	leader := p.locks(singletonKey, p.interval)
	acquired, err := leader.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer leader.Release(ctx)

	cutoff := time.Now().UTC().Add(-overdueGrace)
	due, err := p.contacts.DueForFollowUp(ctx, cutoff, sweepLimit)
	if err != nil {
		return err
	}

	for _, contact := range due {
		if err := p.enqueueCheck(ctx, contact); err != nil {
			logger.Warn("poller enqueue failed", "contact_id", contact.ID, "error", err.Error())
		}
	}
	if len(due) > 0 {
		logger.Info("poller swept overdue contacts", "count", len(due))
	}
	return nil
}

func (p *Poller) enqueueCheck(ctx context.Context, contact *domain.Contact) error {
	step := domain.StepForPingStatus(contact.Status)
	if step == 0 {
		return nil
	}

	recordID := ""
	record, err := p.emails.LatestForContact(ctx, contact.ID)
	if err == nil && record != nil {
		recordID = record.ID
	}

	_, err = p.jobs.Enqueue(ctx, queue.LaneFollowUp, queue.FollowUpPayload{
		ContactID:     contact.ID,
		EmailRecordID: recordID,
		Step:          step,
	}, queue.Options{})
	return err
}
