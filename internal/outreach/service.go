package outreach

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/store"
)

// ContactStore is the contact persistence the service needs.
type ContactStore interface {
	Get(ctx context.Context, id string) (*domain.Contact, error)
	Update(ctx context.Context, c *domain.Contact) error
}

// EmailStore is the email-record persistence the service needs.
type EmailStore interface {
	Create(ctx context.Context, e *domain.EmailRecord) error
	Update(ctx context.Context, e *domain.EmailRecord) error
	LatestForContact(ctx context.Context, contactID string) (*domain.EmailRecord, error)
}

// TemplateStore looks up templates by name.
type TemplateStore interface {
	GetByName(ctx context.Context, managerID, name string) (*domain.EmailTemplate, error)
}

// SendRequest describes one outbound email. Either TemplateName or an
// explicit Subject/BodyHTML pair must be set.
type SendRequest struct {
	ContactID    string
	TemplateName string
	Subject      string
	BodyHTML     string

	// StartAutomation enrolls the contact in the follow-up ladder once
	// the send succeeds.
	StartAutomation bool
}

// BulkRequest sends the same template to many contacts with staggered
// delivery.
type BulkRequest struct {
	ContactIDs      []string
	TemplateName    string
	StartAutomation bool
}

// BulkResult reports per-contact enqueue outcomes.
type BulkResult struct {
	Queued []string
	Failed map[string]error
}

// Service implements the outreach operations.
type Service struct {
	contacts  ContactStore
	emails    EmailStore
	templates TemplateStore
	jobs      queue.Queue
	engine    *liquid.Engine

	// bulkInterval and bulkJitter stagger bulk sends so a batch does not
	// hit the provider as a burst.
	bulkInterval time.Duration
	bulkJitter   time.Duration
}

// New builds the service.
func New(contacts ContactStore, emails EmailStore, templates TemplateStore,
	jobs queue.Queue, bulkInterval, bulkJitter time.Duration) *Service {
	return &Service{
		contacts:     contacts,
		emails:       emails,
		templates:    templates,
		jobs:         jobs,
		engine:       liquid.NewEngine(),
		bulkInterval: bulkInterval,
		bulkJitter:   bulkJitter,
	}
}

// SendEmail creates a pending record for the contact and queues its
// delivery. The returned record carries the queue linkage.
func (s *Service) SendEmail(ctx context.Context, req SendRequest) (*domain.EmailRecord, error) {
	return s.sendWithDelay(ctx, req, 0)
}

func (s *Service) sendWithDelay(ctx context.Context, req SendRequest, delay time.Duration) (*domain.EmailRecord, error) {
	contact, err := s.contacts.Get(ctx, req.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}

	subject, body, templateName := req.Subject, req.BodyHTML, ""
	if req.TemplateName != "" {
		tpl, err := s.templates.GetByName(ctx, contact.ManagerID, req.TemplateName)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, req.TemplateName)
		}
		if err != nil {
			return nil, err
		}
		subject, body, err = s.render(tpl, contact)
		if err != nil {
			return nil, fmt.Errorf("render template %q: %w", tpl.Name, err)
		}
		templateName = tpl.Name
	}
	if subject == "" && body == "" {
		return nil, ErrEmptyMessage
	}

	record := &domain.EmailRecord{
		ID:           uuid.NewString(),
		ContactID:    contact.ID,
		ManagerID:    contact.ManagerID,
		ToEmail:      contact.Email,
		Subject:      subject,
		BodyHTML:     body,
		TemplateName: templateName,
		Status:       domain.EmailPending,
	}
	if err := s.emails.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	// An initial send moves the contact into the pipeline on delivery,
	// whether or not automation follows. Extra sends to a contact already
	// being pinged leave the status alone.
	advance := 0
	if req.StartAutomation || contact.Status == domain.PipelineNotSent {
		advance = 1
	}
	_, err = s.jobs.Enqueue(ctx, queue.LaneSend, queue.SendPayload{
		EmailRecordID:   record.ID,
		ContactID:       contact.ID,
		AdvanceStep:     advance,
		StartAutomation: req.StartAutomation,
	}, queue.Options{Delay: delay})
	if err != nil {
		return nil, fmt.Errorf("enqueue send: %w", err)
	}

	record.Status = domain.EmailQueued
	if err := s.emails.Update(ctx, record); err != nil {
		logger.Warn("mark queued failed", "email_record_id", record.ID, "error", err.Error())
	}
	return record, nil
}

// BulkSendEmails queues the template for each contact with non-decreasing
// staggered delays. Failures for individual contacts do not stop the batch.
func (s *Service) BulkSendEmails(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	result := &BulkResult{Failed: make(map[string]error)}

	delay := time.Duration(0)
	for i, contactID := range req.ContactIDs {
		if i > 0 {
			delay += s.bulkInterval
			if s.bulkJitter > 0 {
				delay += time.Duration(rand.Int63n(int64(s.bulkJitter)))
			}
		}
		_, err := s.sendWithDelay(ctx, SendRequest{
			ContactID:       contactID,
			TemplateName:    req.TemplateName,
			StartAutomation: req.StartAutomation,
		}, delay)
		if err != nil {
			result.Failed[contactID] = err
			continue
		}
		result.Queued = append(result.Queued, contactID)
	}

	logger.Info("bulk send queued", "total", len(req.ContactIDs),
		"queued", len(result.Queued), "failed", len(result.Failed))
	return result, nil
}

// StopAutomation takes a contact off the follow-up ladder: the pending
// check job is cancelled and the automation flags clear. Pipeline status
// and email history stay as they are.
func (s *Service) StopAutomation(ctx context.Context, contactID string) error {
	contact, err := s.contacts.Get(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrContactNotFound
	}
	if err != nil {
		return err
	}

	record, err := s.emails.LatestForContact(ctx, contactID)
	if err == nil && record.ScheduledJobID != nil {
		cancelled, err := s.jobs.Cancel(ctx, *record.ScheduledJobID)
		if err != nil {
			logger.Warn("cancel follow-up job failed", "job_id", *record.ScheduledJobID, "error", err.Error())
		} else if cancelled {
			record.ScheduledJobID = nil
			if err := s.emails.Update(ctx, record); err != nil {
				logger.Warn("clear job reference failed", "email_record_id", record.ID, "error", err.Error())
			}
		}
	}

	contact.AutoFollowUp = false
	contact.NextFollowUpAt = nil
	if err := s.contacts.Update(ctx, contact); err != nil {
		return fmt.Errorf("stop automation for %s: %w", contactID, err)
	}
	logger.Info("automation stopped", "contact_id", contactID)
	return nil
}

// TriggerAutomationCheck enqueues an immediate follow-up check for the
// contact's current step, bypassing the scheduled delay.
func (s *Service) TriggerAutomationCheck(ctx context.Context, contactID string) (int64, error) {
	contact, err := s.contacts.Get(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrContactNotFound
	}
	if err != nil {
		return 0, err
	}

	step := domain.StepForPingStatus(contact.Status)
	if step == 0 {
		return 0, fmt.Errorf("contact %s is not awaiting a reply (status %s)", contactID, contact.Status)
	}

	recordID := ""
	if record, err := s.emails.LatestForContact(ctx, contactID); err == nil {
		recordID = record.ID
	}

	return s.jobs.Enqueue(ctx, queue.LaneFollowUp, queue.FollowUpPayload{
		ContactID:     contactID,
		EmailRecordID: recordID,
		Step:          step,
	}, queue.Options{})
}

func (s *Service) render(tpl *domain.EmailTemplate, contact *domain.Contact) (subject, body string, err error) {
	bindings := map[string]any{
		"name":   contact.Name,
		"email":  contact.Email,
		"handle": contact.Handle,
	}
	subject, err = s.engine.ParseAndRenderString(tpl.Subject, bindings)
	if err != nil {
		return "", "", err
	}
	body, err = s.engine.ParseAndRenderString(tpl.BodyHTML, bindings)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}
