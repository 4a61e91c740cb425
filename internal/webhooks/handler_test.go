package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/store"
)

const testKey = "whk-test-key"

type fakeEmails struct {
	byProviderID map[string]*domain.EmailRecord
	updated      *domain.EmailRecord
}

func (f *fakeEmails) FindByProviderMessageID(_ context.Context, id string) (*domain.EmailRecord, error) {
	if e, ok := f.byProviderID[id]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeEmails) Update(_ context.Context, e *domain.EmailRecord) error {
	f.updated = e
	return nil
}

type fakeContacts struct {
	byID    map[string]*domain.Contact
	updated *domain.Contact
}

func (f *fakeContacts) Get(_ context.Context, id string) (*domain.Contact, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeContacts) Update(_ context.Context, c *domain.Contact) error {
	f.updated = c
	return nil
}

func sign(timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(testKey))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

func eventBody(t *testing.T, event, messageID, severity string) []byte {
	t.Helper()
	ts := "1756700000"
	token := "tok123"
	payload := map[string]any{
		"signature": map[string]string{
			"timestamp": ts,
			"token":     token,
			"signature": sign(ts, token),
		},
		"event-data": map[string]any{
			"event":     event,
			"recipient": "ada@example.com",
			"severity":  severity,
			"reason":    "mailbox full",
			"message": map[string]any{
				"headers": map[string]string{"message-id": messageID},
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newServer(emails *fakeEmails, contacts *fakeContacts) *httptest.Server {
	h := NewHandler(emails, contacts, testKey)
	r := chi.NewRouter()
	h.Routes(r)
	return httptest.NewServer(r)
}

func post(t *testing.T, srv *httptest.Server, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/webhooks/mailgun", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func fixture() (*fakeEmails, *fakeContacts) {
	sentAt := time.Now().Add(-time.Hour)
	record := &domain.EmailRecord{
		ID: "e1", ContactID: "c1", Status: domain.EmailSent,
		ProviderMessageID: "<msg1@mg.example.com>", SentAt: &sentAt,
	}
	contact := &domain.Contact{
		ID: "c1", Status: domain.PipelinePing1, AutoFollowUp: true, NextFollowUpAt: &sentAt,
	}
	emails := &fakeEmails{byProviderID: map[string]*domain.EmailRecord{
		"<msg1@mg.example.com>": record,
	}}
	contacts := &fakeContacts{byID: map[string]*domain.Contact{"c1": contact}}
	return emails, contacts
}

func TestBadSignatureRejected(t *testing.T) {
	emails, contacts := fixture()
	srv := newServer(emails, contacts)
	defer srv.Close()

	body := eventBody(t, "opened", "msg1@mg.example.com", "")
	var payload map[string]any
	json.Unmarshal(body, &payload)
	payload["signature"].(map[string]any)["signature"] = "deadbeef"
	tampered, _ := json.Marshal(payload)

	resp := post(t, srv, tampered)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if emails.updated != nil {
		t.Error("record updated despite bad signature")
	}
}

func TestOpenedMarksRecord(t *testing.T) {
	emails, contacts := fixture()
	srv := newServer(emails, contacts)
	defer srv.Close()

	resp := post(t, srv, eventBody(t, "opened", "msg1@mg.example.com", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if emails.updated == nil || emails.updated.Status != domain.EmailOpened {
		t.Errorf("record = %+v", emails.updated)
	}
	if emails.updated.OpenedAt == nil {
		t.Error("OpenedAt not set")
	}
}

func TestOpenedDoesNotDowngradeReply(t *testing.T) {
	emails, contacts := fixture()
	emails.byProviderID["<msg1@mg.example.com>"].Status = domain.EmailReplied
	srv := newServer(emails, contacts)
	defer srv.Close()

	resp := post(t, srv, eventBody(t, "opened", "msg1@mg.example.com", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if emails.updated != nil {
		t.Error("replied record was modified")
	}
}

func TestDeliveredIsNoOp(t *testing.T) {
	emails, contacts := fixture()
	srv := newServer(emails, contacts)
	defer srv.Close()

	resp := post(t, srv, eventBody(t, "delivered", "msg1@mg.example.com", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if emails.updated != nil {
		t.Error("delivered event touched the record")
	}
}

func TestPermanentFailureReleasesContact(t *testing.T) {
	emails, contacts := fixture()
	srv := newServer(emails, contacts)
	defer srv.Close()

	resp := post(t, srv, eventBody(t, "failed", "msg1@mg.example.com", "permanent"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if emails.updated == nil || emails.updated.Status != domain.EmailFailed {
		t.Errorf("record = %+v", emails.updated)
	}
	if emails.updated.ErrorMessage != "mailbox full" {
		t.Errorf("ErrorMessage = %q", emails.updated.ErrorMessage)
	}
	if contacts.updated == nil || contacts.updated.AutoFollowUp {
		t.Errorf("contact = %+v", contacts.updated)
	}
	// A bounce is not a rejection; the pipeline status stays.
	if contacts.updated.Status != domain.PipelinePing1 {
		t.Errorf("Status = %s", contacts.updated.Status)
	}
}

func TestTemporaryFailureKeepsContact(t *testing.T) {
	emails, contacts := fixture()
	srv := newServer(emails, contacts)
	defer srv.Close()

	resp := post(t, srv, eventBody(t, "failed", "msg1@mg.example.com", "temporary"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if contacts.updated != nil {
		t.Error("temporary failure released the contact")
	}
}

func TestComplaintRejectsContact(t *testing.T) {
	emails, contacts := fixture()
	srv := newServer(emails, contacts)
	defer srv.Close()

	resp := post(t, srv, eventBody(t, "complained", "msg1@mg.example.com", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	c := contacts.updated
	if c == nil || c.Status != domain.PipelineRejected || c.AutoFollowUp || c.NextFollowUpAt != nil {
		t.Errorf("contact = %+v", c)
	}
}

func TestUnknownMessageAccepted(t *testing.T) {
	emails, contacts := fixture()
	srv := newServer(emails, contacts)
	defer srv.Close()

	resp := post(t, srv, eventBody(t, "opened", "who@nowhere", ""))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, unknown messages should ack", resp.StatusCode)
	}
}
