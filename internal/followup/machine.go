// Package followup advances contacts through the outreach escalation
// ladder: reminder after reminder until a reply arrives or the contact is
// rejected.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/store"
)

// maxStep is the final follow-up check; reaching it without a reply
// rejects the contact.
const maxStep = 3

// ContactStore is the contact persistence the machine needs.
type ContactStore interface {
	Get(ctx context.Context, id string) (*domain.Contact, error)
	Update(ctx context.Context, c *domain.Contact) error
}

// EmailStore is the email-record persistence the machine needs.
type EmailStore interface {
	Create(ctx context.Context, e *domain.EmailRecord) error
	Update(ctx context.Context, e *domain.EmailRecord) error
}

// TemplateStore looks up reminder templates by name.
type TemplateStore interface {
	FindAny(ctx context.Context, managerID string, names []string) (*domain.EmailTemplate, error)
}

// Machine runs the no-reply escalation for one contact at a time. Callers
// are responsible for holding the contact's lock; the machine itself only
// guards against stale state via status checks.
type Machine struct {
	contacts  ContactStore
	emails    EmailStore
	templates TemplateStore
	jobs      queue.Queue
	engine    *liquid.Engine

	// stepDelay returns the wait before the check for the given step.
	stepDelay func(step int) time.Duration
	// rescheduleDelay is the push-back when a template is missing.
	rescheduleDelay time.Duration
	maxReschedules  int
}

// NewMachine builds the state machine.
func NewMachine(contacts ContactStore, emails EmailStore, templates TemplateStore,
	jobs queue.Queue, stepDelay func(int) time.Duration,
	rescheduleDelay time.Duration, maxReschedules int) *Machine {
	if rescheduleDelay <= 0 {
		rescheduleDelay = 15 * time.Minute
	}
	if maxReschedules <= 0 {
		maxReschedules = 5
	}
	return &Machine{
		contacts:        contacts,
		emails:          emails,
		templates:       templates,
		jobs:            jobs,
		engine:          liquid.NewEngine(),
		stepDelay:       stepDelay,
		rescheduleDelay: rescheduleDelay,
		maxReschedules:  maxReschedules,
	}
}

// HandleNoReply runs the follow-up check for a contact that has not
// answered. Steps 1 and 2 queue the next reminder and schedule the
// following check; step 3 rejects the contact. The contact's email history
// is always preserved.
func (m *Machine) HandleNoReply(ctx context.Context, contact *domain.Contact, p queue.FollowUpPayload) (StepOutcome, error) {
	out := StepOutcome{ContactID: contact.ID, Step: p.Step}

	if p.Step < 1 || p.Step > maxStep {
		out.Action = ActionAborted
		out.Reason = fmt.Sprintf("step %d out of range", p.Step)
		logger.Warn("follow-up step out of range", "contact_id", contact.ID, "step", p.Step)
		return out, nil
	}

	// Eligibility guard. A reply, a manual stop, or a concurrent check
	// that already ran makes this job a no-op.
	if !contact.AutoFollowUp || !contact.Status.IsPing() {
		out.Action = ActionSkipped
		out.Reason = fmt.Sprintf("contact no longer eligible (status=%s auto=%v)",
			contact.Status, contact.AutoFollowUp)
		return out, nil
	}
	if got := domain.StepForPingStatus(contact.Status); got != p.Step {
		out.Action = ActionSkipped
		out.Reason = fmt.Sprintf("contact at step %d, check was for step %d", got, p.Step)
		return out, nil
	}

	if p.Step == maxStep {
		return m.reject(ctx, contact, out)
	}
	return m.sendReminder(ctx, contact, p, out)
}

// reject closes out a contact that never answered. Automation flags clear,
// follow-up count and email records stay for reporting.
func (m *Machine) reject(ctx context.Context, contact *domain.Contact, out StepOutcome) (StepOutcome, error) {
	contact.Status = domain.PipelineRejected
	contact.AutoFollowUp = false
	contact.NextFollowUpAt = nil
	if err := m.contacts.Update(ctx, contact); err != nil {
		return out, fmt.Errorf("reject contact %s: %w", contact.ID, err)
	}
	out.Action = ActionRejected
	logger.Info("contact rejected after final follow-up", "contact_id", contact.ID,
		"follow_ups_sent", contact.FollowUpCount)
	return out, nil
}

func (m *Machine) sendReminder(ctx context.Context, contact *domain.Contact, p queue.FollowUpPayload, out StepOutcome) (StepOutcome, error) {
	names := domain.ReminderTemplateNames(p.Step)
	tpl, err := m.templates.FindAny(ctx, contact.ManagerID, names)
	if errors.Is(err, store.ErrNotFound) {
		return m.reschedule(ctx, contact, p, out)
	}
	if err != nil {
		return out, fmt.Errorf("find reminder template: %w", err)
	}

	subject, body, err := m.render(tpl, contact)
	if err != nil {
		return out, fmt.Errorf("render template %q: %w", tpl.Name, err)
	}

	record := &domain.EmailRecord{
		ID:           uuid.NewString(),
		ContactID:    contact.ID,
		ManagerID:    contact.ManagerID,
		ToEmail:      contact.Email,
		Subject:      subject,
		BodyHTML:     body,
		TemplateName: tpl.Name,
		Status:       domain.EmailPending,
		IsAutomation: true,
	}
	if err := m.emails.Create(ctx, record); err != nil {
		return out, fmt.Errorf("create reminder record: %w", err)
	}

	nextStep := p.Step + 1
	sendJobID, err := m.jobs.Enqueue(ctx, queue.LaneSend, queue.SendPayload{
		EmailRecordID: record.ID,
		ContactID:     contact.ID,
		AdvanceStep:   nextStep,
	}, queue.Options{})
	if err != nil {
		return out, fmt.Errorf("enqueue reminder send: %w", err)
	}

	delay := m.stepDelay(nextStep)
	checkJobID, err := m.jobs.Enqueue(ctx, queue.LaneFollowUp, queue.FollowUpPayload{
		ContactID:     contact.ID,
		EmailRecordID: record.ID,
		Step:          nextStep,
	}, queue.Options{Delay: delay})
	if err != nil {
		return out, fmt.Errorf("schedule next check: %w", err)
	}

	record.Status = domain.EmailQueued
	record.ScheduledJobID = &checkJobID
	if err := m.emails.Update(ctx, record); err != nil {
		// The jobs are in; losing the back-reference only costs us
		// cancellation of the next check.
		logger.Warn("persist scheduled job id failed", "email_record_id", record.ID, "error", err.Error())
	}

	nextAt := time.Now().UTC().Add(delay)
	contact.FollowUpCount = p.Step
	contact.NextFollowUpAt = &nextAt
	if err := m.contacts.Update(ctx, contact); err != nil {
		return out, fmt.Errorf("advance contact %s: %w", contact.ID, err)
	}

	out.Action = ActionReminderQueued
	out.TemplateName = tpl.Name
	out.EmailRecordID = record.ID
	out.SendJobID = sendJobID
	out.NextCheckJobID = checkJobID
	logger.Info("reminder queued", "contact_id", contact.ID, "step", p.Step,
		"template", tpl.Name, "next_check_job", checkJobID)
	return out, nil
}

// reschedule pushes a check back when its template is missing, up to the
// budget; past it the contact is rejected so it cannot loop forever.
func (m *Machine) reschedule(ctx context.Context, contact *domain.Contact, p queue.FollowUpPayload, out StepOutcome) (StepOutcome, error) {
	if p.Reschedules >= m.maxReschedules {
		logger.Error("reminder template still missing, giving up",
			"contact_id", contact.ID, "step", p.Step, "reschedules", p.Reschedules)
		rejected, err := m.reject(ctx, contact, out)
		if err != nil {
			return rejected, err
		}
		rejected.Reason = ErrTemplateMissing.Error()
		return rejected, nil
	}

	jobID, err := m.jobs.Enqueue(ctx, queue.LaneFollowUp, queue.FollowUpPayload{
		ContactID:     contact.ID,
		EmailRecordID: p.EmailRecordID,
		Step:          p.Step,
		Reschedules:   p.Reschedules + 1,
	}, queue.Options{Delay: m.rescheduleDelay})
	if err != nil {
		return out, fmt.Errorf("reschedule check: %w", err)
	}

	nextAt := time.Now().UTC().Add(m.rescheduleDelay)
	contact.NextFollowUpAt = &nextAt
	if err := m.contacts.Update(ctx, contact); err != nil {
		return out, fmt.Errorf("update contact %s: %w", contact.ID, err)
	}

	out.Action = ActionRescheduled
	out.NextCheckJobID = jobID
	out.Reason = fmt.Sprintf("no template named %v", domain.ReminderTemplateNames(p.Step))
	logger.Warn("reminder template missing, check rescheduled",
		"contact_id", contact.ID, "step", p.Step, "attempt", p.Reschedules+1)
	return out, nil
}

func (m *Machine) render(tpl *domain.EmailTemplate, contact *domain.Contact) (subject, body string, err error) {
	bindings := map[string]any{
		"name":   contact.Name,
		"email":  contact.Email,
		"handle": contact.Handle,
	}
	subject, err = m.engine.ParseAndRenderString(tpl.Subject, bindings)
	if err != nil {
		return "", "", err
	}
	body, err = m.engine.ParseAndRenderString(tpl.BodyHTML, bindings)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}
