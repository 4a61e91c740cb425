package domain

import "time"

// EmailStatus tracks the lifecycle of a single outbound message attempt.
//
// A record moves PENDING → QUEUED → PROCESSING → {SENT | FAILED}. SENT may
// later transition to OPENED or REPLIED via webhook events or reply
// detection. OPENED, REPLIED, and FAILED are terminal.
type EmailStatus string

const (
	EmailPending    EmailStatus = "PENDING"
	EmailQueued     EmailStatus = "QUEUED"
	EmailProcessing EmailStatus = "PROCESSING"
	EmailSent       EmailStatus = "SENT"
	EmailFailed     EmailStatus = "FAILED"
	EmailOpened     EmailStatus = "OPENED"
	EmailReplied    EmailStatus = "REPLIED"
)

// IsTerminal reports whether no further send attempts should touch a record
// in this status. SENT is included: a sent message is never re-sent, it can
// only be upgraded to OPENED/REPLIED.
func (s EmailStatus) IsTerminal() bool {
	switch s {
	case EmailSent, EmailFailed, EmailOpened, EmailReplied:
		return true
	}
	return false
}

// EmailRecord is one outbound message attempt to a contact.
type EmailRecord struct {
	ID           string      `json:"id" db:"id"`
	ContactID    string      `json:"contact_id" db:"contact_id"`
	ManagerID    string      `json:"manager_id" db:"manager_id"`
	ToEmail      string      `json:"to_email" db:"to_email"`
	Subject      string      `json:"subject" db:"subject"`
	BodyHTML     string      `json:"body_html" db:"body_html"`
	TemplateName string      `json:"template_name" db:"template_name"`
	Status       EmailStatus `json:"status" db:"status"`

	SentAt    *time.Time `json:"sent_at" db:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at" db:"opened_at"`
	RepliedAt *time.Time `json:"replied_at" db:"replied_at"`

	// ProviderMessageID is the id as returned by the transport provider.
	// MessageID is the normalized form (angle brackets stripped) used for
	// reply correlation against mailbox search results.
	ProviderMessageID string `json:"provider_message_id" db:"provider_message_id"`
	MessageID         string `json:"message_id" db:"message_id"`

	AttemptCount int    `json:"attempt_count" db:"attempt_count"`
	ErrorMessage string `json:"error_message" db:"error_message"`

	// ScheduledJobID is the queue-job id of the pending follow-up check for
	// this email. It is the sole cross-reference into the job queue and is
	// used for cancellation when a reply arrives or automation is stopped.
	ScheduledJobID *int64 `json:"scheduled_job_id" db:"scheduled_job_id"`

	IsAutomation bool `json:"is_automation" db:"is_automation"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
