package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/followup"
	"github.com/ignite/outreach/internal/mailbox"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/replydetect"
	"github.com/ignite/outreach/internal/store"
	"github.com/ignite/outreach/internal/transport"
)

// --- fakes ---

type memStore struct {
	mu       sync.Mutex
	contacts map[string]*domain.Contact
	emails   map[string]*domain.EmailRecord
}

func newMemStore() *memStore {
	return &memStore{
		contacts: make(map[string]*domain.Contact),
		emails:   make(map[string]*domain.EmailRecord),
	}
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) Update(_ context.Context, c *domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
	return nil
}

type memEmails struct {
	ms *memStore
}

func (m memEmails) Get(_ context.Context, id string) (*domain.EmailRecord, error) {
	m.ms.mu.Lock()
	defer m.ms.mu.Unlock()
	e, ok := m.ms.emails[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m memEmails) Create(_ context.Context, e *domain.EmailRecord) error {
	m.ms.mu.Lock()
	defer m.ms.mu.Unlock()
	m.ms.emails[e.ID] = e
	return nil
}

func (m memEmails) Update(_ context.Context, e *domain.EmailRecord) error {
	m.ms.mu.Lock()
	defer m.ms.mu.Unlock()
	m.ms.emails[e.ID] = e
	return nil
}

type memQueue struct {
	mu     sync.Mutex
	nextID int64
	lanes  []string
	loads  [][]byte
	opts   []queue.Options
}

func (q *memQueue) Enqueue(_ context.Context, lane string, payload any, opts queue.Options) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, _ := json.Marshal(payload)
	q.lanes = append(q.lanes, lane)
	q.loads = append(q.loads, data)
	q.opts = append(q.opts, opts)
	q.nextID++
	return q.nextID, nil
}

func (q *memQueue) Cancel(context.Context, int64) (bool, error) { return true, nil }

type memLock struct {
	held map[string]bool
	mu   *sync.Mutex
	key  string
}

func (l memLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[l.key] {
		return false, nil
	}
	l.held[l.key] = true
	return true, nil
}

func (l memLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, l.key)
	return nil
}

func memLockFactory() (distlock.Factory, map[string]bool) {
	held := make(map[string]bool)
	var mu sync.Mutex
	return func(key string, _ time.Duration) distlock.DistLock {
		return memLock{held: held, mu: &mu, key: key}
	}, held
}

type stubMailer struct {
	result transport.Result
	calls  int
}

func (s *stubMailer) Send(context.Context, transport.Request) transport.Result {
	s.calls++
	return s.result
}

func (s *stubMailer) Name() string { return "stub" }

type stubResolver struct{}

func (stubResolver) LookupMX(context.Context, string) ([]*net.MX, error) {
	return []*net.MX{{Host: "mx.example.com"}}, nil
}

type stubSearcher struct {
	messages []mailbox.Message
	err      error
}

func (s stubSearcher) Search(context.Context, string, string, int) ([]mailbox.Message, error) {
	return s.messages, s.err
}

type stubTemplates struct {
	byName map[string]*domain.EmailTemplate
}

func (s stubTemplates) FindAny(_ context.Context, _ string, names []string) (*domain.EmailTemplate, error) {
	for _, n := range names {
		if t, ok := s.byName[n]; ok {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

// --- harness ---

type harness struct {
	worker *Worker
	ms     *memStore
	q      *memQueue
	mailer *stubMailer
	held   map[string]bool
}

func newHarness(t *testing.T, mailer *stubMailer, searcher mailbox.Searcher, templates followup.TemplateStore) *harness {
	t.Helper()
	ms := newMemStore()
	emails := memEmails{ms: ms}
	q := &memQueue{}
	locks, held := memLockFactory()

	sender := transport.NewSender(mailer, nil, stubResolver{}, &transport.Policy{})
	stepDelay := func(step int) time.Duration { return time.Duration(step) * time.Hour }
	machine := followup.NewMachine(ms, emails, templates, q, stepDelay, 10*time.Minute, 2)
	detector := replydetect.New(searcher, emails, ms, q)

	w := New(ms, emails, sender, machine, detector, q, locks,
		SenderConfig{FromName: "Outreach", FromEmail: "hello@mg.example.com", ReplyTo: "talent@example.com"},
		func() int { return 30 }, stepDelay)
	return &harness{worker: w, ms: ms, q: q, mailer: mailer, held: held}
}

func seedContactAndRecord(h *harness, status domain.PipelineStatus, emailStatus domain.EmailStatus) (*domain.Contact, *domain.EmailRecord) {
	sentAt := time.Now().Add(-2 * time.Hour)
	contact := &domain.Contact{
		ID: "c1", ManagerID: "m1", Name: "Ada", Email: "ada@example.com",
		Status: status, AutoFollowUp: status.IsPing(),
	}
	record := &domain.EmailRecord{
		ID: "e1", ContactID: "c1", ManagerID: "m1", ToEmail: "ada@example.com",
		Subject: "Partnership idea", BodyHTML: "<p>Hi</p>", Status: emailStatus,
		MessageID: "abc@mg.example.com",
	}
	if emailStatus == domain.EmailSent {
		record.SentAt = &sentAt
	}
	h.ms.contacts[contact.ID] = contact
	h.ms.emails[record.ID] = record
	return contact, record
}

func sendJob(t *testing.T, p queue.SendPayload) *queue.Job {
	t.Helper()
	data, _ := json.Marshal(p)
	return &queue.Job{ID: 1, Lane: queue.LaneSend, Payload: data, Attempt: 1}
}

func followUpJob(t *testing.T, p queue.FollowUpPayload) *queue.Job {
	t.Helper()
	data, _ := json.Marshal(p)
	return &queue.Job{ID: 2, Lane: queue.LaneFollowUp, Payload: data, Attempt: 1}
}

// --- send handler ---

func TestHandleSendDeliversAndStartsAutomation(t *testing.T) {
	mailer := &stubMailer{result: transport.Result{
		Success: true, ProviderID: "<id1@mg>", MessageID: "id1@mg",
	}}
	h := newHarness(t, mailer, stubSearcher{}, stubTemplates{})
	seedContactAndRecord(h, domain.PipelineNotSent, domain.EmailPending)

	err := h.worker.HandleSend(context.Background(), sendJob(t, queue.SendPayload{
		EmailRecordID: "e1", ContactID: "c1", AdvanceStep: 1, StartAutomation: true,
	}))
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}

	rec := h.ms.emails["e1"]
	if rec.Status != domain.EmailSent || rec.SentAt == nil {
		t.Errorf("record = %+v", rec)
	}
	if rec.ProviderMessageID != "<id1@mg>" || rec.MessageID != "id1@mg" {
		t.Errorf("ids = %q / %q", rec.ProviderMessageID, rec.MessageID)
	}

	contact := h.ms.contacts["c1"]
	if contact.Status != domain.PipelinePing1 {
		t.Errorf("Status = %s", contact.Status)
	}
	if !contact.AutoFollowUp || contact.NextFollowUpAt == nil || contact.LastContactDate == nil {
		t.Errorf("contact = %+v", contact)
	}

	if len(h.q.lanes) != 1 || h.q.lanes[0] != queue.LaneFollowUp {
		t.Fatalf("lanes = %v", h.q.lanes)
	}
	if h.q.opts[0].Delay != time.Hour {
		t.Errorf("first check delay = %v", h.q.opts[0].Delay)
	}
	if rec.ScheduledJobID == nil || *rec.ScheduledJobID != 1 {
		t.Errorf("ScheduledJobID = %v", rec.ScheduledJobID)
	}
}

func TestHandleSendMalformedPayloadDropped(t *testing.T) {
	mailer := &stubMailer{}
	h := newHarness(t, mailer, stubSearcher{}, stubTemplates{})

	job := &queue.Job{ID: 1, Lane: queue.LaneSend, Payload: []byte("{not json"), Attempt: 1}
	if err := h.worker.HandleSend(context.Background(), job); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if mailer.calls != 0 {
		t.Error("provider called for malformed payload")
	}
}

func TestHandleSendMissingRecordDropped(t *testing.T) {
	mailer := &stubMailer{}
	h := newHarness(t, mailer, stubSearcher{}, stubTemplates{})

	err := h.worker.HandleSend(context.Background(), sendJob(t, queue.SendPayload{
		EmailRecordID: "nope", ContactID: "c1",
	}))
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if mailer.calls != 0 {
		t.Error("provider called for missing record")
	}
}

func TestHandleSendAlreadySentIsIdempotent(t *testing.T) {
	mailer := &stubMailer{}
	h := newHarness(t, mailer, stubSearcher{}, stubTemplates{})
	seedContactAndRecord(h, domain.PipelinePing1, domain.EmailSent)

	err := h.worker.HandleSend(context.Background(), sendJob(t, queue.SendPayload{
		EmailRecordID: "e1", ContactID: "c1",
	}))
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if mailer.calls != 0 {
		t.Error("sent record delivered again")
	}
}

func TestHandleSendInvalidAddressFailsPermanently(t *testing.T) {
	mailer := &stubMailer{result: transport.Result{Success: true}}
	h := newHarness(t, mailer, stubSearcher{}, stubTemplates{})
	_, record := seedContactAndRecord(h, domain.PipelineNotSent, domain.EmailPending)
	record.ToEmail = "not-an-address"
	h.ms.emails[record.ID] = record

	err := h.worker.HandleSend(context.Background(), sendJob(t, queue.SendPayload{
		EmailRecordID: "e1", ContactID: "c1",
	}))
	if err != nil {
		t.Fatalf("permanent failure should not retry, got %v", err)
	}
	rec := h.ms.emails["e1"]
	if rec.Status != domain.EmailFailed || rec.ErrorMessage == "" {
		t.Errorf("record = %+v", rec)
	}
	if mailer.calls != 0 {
		t.Error("provider called with invalid address")
	}
}

func TestHandleSendTransientFailureRetries(t *testing.T) {
	mailer := &stubMailer{result: transport.Result{Err: errors.New("mailgun 503")}}
	h := newHarness(t, mailer, stubSearcher{}, stubTemplates{})
	seedContactAndRecord(h, domain.PipelineNotSent, domain.EmailPending)

	err := h.worker.HandleSend(context.Background(), sendJob(t, queue.SendPayload{
		EmailRecordID: "e1", ContactID: "c1",
	}))
	if err == nil {
		t.Fatal("transient failure must propagate for retry")
	}
	rec := h.ms.emails["e1"]
	if rec.Status != domain.EmailFailed || rec.ErrorMessage == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestHandleSendContactLocked(t *testing.T) {
	mailer := &stubMailer{result: transport.Result{Success: true}}
	h := newHarness(t, mailer, stubSearcher{}, stubTemplates{})
	seedContactAndRecord(h, domain.PipelineNotSent, domain.EmailPending)
	h.held["contact:c1"] = true

	err := h.worker.HandleSend(context.Background(), sendJob(t, queue.SendPayload{
		EmailRecordID: "e1", ContactID: "c1",
	}))
	if !errors.Is(err, errContactBusy) {
		t.Fatalf("err = %v, want errContactBusy", err)
	}
	if mailer.calls != 0 {
		t.Error("provider called while contact locked")
	}
}

// --- follow-up handler ---

func TestHandleFollowUpReplyShortCircuits(t *testing.T) {
	replyTime := time.Now().Add(-time.Hour)
	searcher := stubSearcher{messages: []mailbox.Message{{
		ID: "g1", ThreadID: "t1", From: "ada@example.com",
		InReplyTo: "<abc@mg.example.com>", Date: replyTime,
	}}}
	h := newHarness(t, &stubMailer{}, searcher, stubTemplates{})
	seedContactAndRecord(h, domain.PipelinePing1, domain.EmailSent)

	err := h.worker.HandleFollowUp(context.Background(), followUpJob(t, queue.FollowUpPayload{
		ContactID: "c1", EmailRecordID: "e1", Step: 1,
	}))
	if err != nil {
		t.Fatalf("HandleFollowUp: %v", err)
	}

	rec := h.ms.emails["e1"]
	if rec.Status != domain.EmailReplied {
		t.Errorf("record status = %s", rec.Status)
	}
	contact := h.ms.contacts["c1"]
	if contact.AutoFollowUp {
		t.Error("automation still on after reply")
	}
	if contact.Status != domain.PipelineNotSent {
		t.Errorf("contact status = %s, want %s", contact.Status, domain.PipelineNotSent)
	}
	if len(h.q.lanes) != 0 {
		t.Errorf("escalation ran despite reply: %v", h.q.lanes)
	}
}

func TestHandleFollowUpNoReplyEscalates(t *testing.T) {
	templates := stubTemplates{byName: map[string]*domain.EmailTemplate{
		domain.TemplateReminder24: {
			ID: "t1", ManagerID: "m1", Name: domain.TemplateReminder24,
			Subject: "Reminder", BodyHTML: "<p>Hi {{name}}</p>",
		},
	}}
	h := newHarness(t, &stubMailer{}, stubSearcher{}, templates)
	seedContactAndRecord(h, domain.PipelinePing1, domain.EmailSent)

	err := h.worker.HandleFollowUp(context.Background(), followUpJob(t, queue.FollowUpPayload{
		ContactID: "c1", EmailRecordID: "e1", Step: 1,
	}))
	if err != nil {
		t.Fatalf("HandleFollowUp: %v", err)
	}

	// Reminder send plus next check.
	if len(h.q.lanes) != 2 || h.q.lanes[0] != queue.LaneSend || h.q.lanes[1] != queue.LaneFollowUp {
		t.Fatalf("lanes = %v", h.q.lanes)
	}
	contact := h.ms.contacts["c1"]
	if contact.FollowUpCount != 1 {
		t.Errorf("FollowUpCount = %d", contact.FollowUpCount)
	}
}

func TestHandleFollowUpDeletedContactDropped(t *testing.T) {
	h := newHarness(t, &stubMailer{}, stubSearcher{}, stubTemplates{})

	err := h.worker.HandleFollowUp(context.Background(), followUpJob(t, queue.FollowUpPayload{
		ContactID: "gone", Step: 1,
	}))
	if err != nil {
		t.Fatalf("HandleFollowUp: %v", err)
	}
}

func TestHandleFollowUpMailboxErrorStillEscalates(t *testing.T) {
	searcher := stubSearcher{err: errors.New("gmail unavailable")}
	templates := stubTemplates{byName: map[string]*domain.EmailTemplate{
		domain.TemplateReminder24: {
			ID: "t1", ManagerID: "m1", Name: domain.TemplateReminder24,
			Subject: "Reminder", BodyHTML: "<p>Hi {{name}}</p>",
		},
	}}
	h := newHarness(t, &stubMailer{}, searcher, templates)
	seedContactAndRecord(h, domain.PipelinePing1, domain.EmailSent)

	err := h.worker.HandleFollowUp(context.Background(), followUpJob(t, queue.FollowUpPayload{
		ContactID: "c1", EmailRecordID: "e1", Step: 1,
	}))
	if err != nil {
		t.Fatalf("HandleFollowUp: %v", err)
	}

	// A mailbox outage cannot confirm a reply, so the chain proceeds.
	if len(h.q.lanes) != 2 || h.q.lanes[0] != queue.LaneSend || h.q.lanes[1] != queue.LaneFollowUp {
		t.Fatalf("lanes = %v", h.q.lanes)
	}
}
