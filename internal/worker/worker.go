// Package worker hosts the queue handlers that drive the outreach
// pipeline: delivering queued emails and running follow-up checks.
package worker

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/followup"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/replydetect"
	"github.com/ignite/outreach/internal/transport"
)

// contactLockTTL bounds how long a crashed handler can hold a contact.
const contactLockTTL = 2 * time.Minute

// ContactStore is the contact persistence the handlers need.
type ContactStore interface {
	Get(ctx context.Context, id string) (*domain.Contact, error)
	Update(ctx context.Context, c *domain.Contact) error
}

// EmailStore is the email-record persistence the handlers need.
type EmailStore interface {
	Get(ctx context.Context, id string) (*domain.EmailRecord, error)
	Update(ctx context.Context, e *domain.EmailRecord) error
}

// SenderConfig carries the envelope identity for outgoing mail.
type SenderConfig struct {
	FromName  string
	FromEmail string
	ReplyTo   string
}

// Worker wires the pipeline's queue handlers.
type Worker struct {
	contacts ContactStore
	emails   EmailStore
	sender   *transport.Sender
	machine  *followup.Machine
	detector *replydetect.Detector
	jobs     queue.Queue
	locks    distlock.Factory

	senderCfg SenderConfig
	// warmupDay reports the current warm-up day for policy decisions.
	warmupDay func() int
	// stepDelay returns the wait before the follow-up check for a step.
	stepDelay func(step int) time.Duration
}

// New builds a worker.
func New(contacts ContactStore, emails EmailStore, sender *transport.Sender,
	machine *followup.Machine, detector *replydetect.Detector,
	jobs queue.Queue, locks distlock.Factory, senderCfg SenderConfig,
	warmupDay func() int, stepDelay func(int) time.Duration) *Worker {
	return &Worker{
		contacts:  contacts,
		emails:    emails,
		sender:    sender,
		machine:   machine,
		detector:  detector,
		jobs:      jobs,
		locks:     locks,
		senderCfg: senderCfg,
		warmupDay: warmupDay,
		stepDelay: stepDelay,
	}
}

// Register attaches the handlers to their lanes.
func (w *Worker) Register(c *queue.Consumer, sendConcurrency, followUpConcurrency int) {
	c.Handle(queue.LaneSend, sendConcurrency, w.HandleSend)
	c.Handle(queue.LaneFollowUp, followUpConcurrency, w.HandleFollowUp)
}

// withContactLock runs fn while holding the contact's distributed lock.
// Send and follow-up handlers, and the poller, all serialize on it so a
// contact sees one state transition at a time.
func (w *Worker) withContactLock(ctx context.Context, contactID string, fn func(context.Context) error) error {
	lock := w.locks("contact:"+contactID, contactLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return errContactBusy
	}
	defer lock.Release(ctx)
	return fn(ctx)
}
