// Package webhooks ingests delivery events from the transport provider and
// folds them back into email records and contact state.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/store"
)

// EmailStore is the record persistence the handler needs.
type EmailStore interface {
	FindByProviderMessageID(ctx context.Context, providerID string) (*domain.EmailRecord, error)
	Update(ctx context.Context, e *domain.EmailRecord) error
}

// ContactStore is the contact persistence the handler needs.
type ContactStore interface {
	Get(ctx context.Context, id string) (*domain.Contact, error)
	Update(ctx context.Context, c *domain.Contact) error
}

// Handler processes provider webhook posts.
type Handler struct {
	emails     EmailStore
	contacts   ContactStore
	signingKey string
}

// NewHandler builds a webhook handler.
func NewHandler(emails EmailStore, contacts ContactStore, signingKey string) *Handler {
	return &Handler{emails: emails, contacts: contacts, signingKey: signingKey}
}

// Routes mounts the webhook endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/mailgun", h.handleMailgun)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type mailgunEvent struct {
	Signature struct {
		Timestamp string `json:"timestamp"`
		Token     string `json:"token"`
		Signature string `json:"signature"`
	} `json:"signature"`
	EventData struct {
		Event     string `json:"event"`
		Recipient string `json:"recipient"`
		Severity  string `json:"severity"`
		Reason    string `json:"reason"`
		Message   struct {
			Headers struct {
				MessageID string `json:"message-id"`
			} `json:"headers"`
		} `json:"message"`
	} `json:"event-data"`
}

func (h *Handler) handleMailgun(w http.ResponseWriter, r *http.Request) {
	var ev mailgunEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		httputil.BadRequest(w, "bad payload")
		return
	}

	if !h.verifySignature(ev.Signature.Timestamp, ev.Signature.Token, ev.Signature.Signature) {
		logger.Warn("webhook signature rejected", "event", ev.EventData.Event)
		httputil.Unauthorized(w, "invalid signature")
		return
	}

	if err := h.apply(r.Context(), ev); err != nil {
		logger.Error("webhook apply failed", "event", ev.EventData.Event, "error", err.Error())
		httputil.InternalError(w)
		return
	}
	httputil.OK(w, map[string]string{"status": "ok"})
}

// verifySignature checks the Mailgun HMAC: hex(HMAC-SHA256(key, timestamp||token)).
func (h *Handler) verifySignature(timestamp, token, signature string) bool {
	if h.signingKey == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(h.signingKey))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) apply(ctx context.Context, ev mailgunEvent) error {
	event := ev.EventData.Event
	if event == "delivered" || event == "accepted" {
		// Our own send path already recorded the success.
		return nil
	}

	record, err := h.findRecord(ctx, ev.EventData.Message.Headers.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("webhook for unknown message",
			"event", event, "message_id", ev.EventData.Message.Headers.MessageID)
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch event {
	case "opened", "clicked":
		// Clicks imply opens; neither downgrades a reply.
		if record.Status == domain.EmailReplied || record.Status == domain.EmailOpened {
			return nil
		}
		record.Status = domain.EmailOpened
		record.OpenedAt = &now
		return h.emails.Update(ctx, record)

	case "failed", "bounced":
		record.Status = domain.EmailFailed
		record.ErrorMessage = ev.EventData.Reason
		if err := h.emails.Update(ctx, record); err != nil {
			return err
		}
		if ev.EventData.Severity == "permanent" {
			return h.releaseContact(ctx, record.ContactID, "")
		}
		return nil

	case "complained", "unsubscribed":
		// The recipient asked out: stop everything and close the pipeline.
		return h.releaseContact(ctx, record.ContactID, domain.PipelineRejected)

	default:
		logger.Debug("ignoring webhook event", "event", event)
		return nil
	}
}

// findRecord resolves the provider message id, trying the bare form the
// event carries and the bracketed form the send API returned.
func (h *Handler) findRecord(ctx context.Context, messageID string) (*domain.EmailRecord, error) {
	if messageID == "" {
		return nil, store.ErrNotFound
	}
	record, err := h.emails.FindByProviderMessageID(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return h.emails.FindByProviderMessageID(ctx, "<"+messageID+">")
	}
	return record, err
}

// releaseContact turns automation off and, when status is non-empty, moves
// the contact there.
func (h *Handler) releaseContact(ctx context.Context, contactID string, status domain.PipelineStatus) error {
	contact, err := h.contacts.Get(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	contact.AutoFollowUp = false
	contact.NextFollowUpAt = nil
	if status != "" {
		contact.Status = status
	}
	return h.contacts.Update(ctx, contact)
}
