package domain

import "time"

// PipelineStatus tracks where a contact sits in the outreach pipeline.
type PipelineStatus string

const (
	PipelineNotSent  PipelineStatus = "NOT_SENT"
	PipelinePing1    PipelineStatus = "PING_1"
	PipelinePing2    PipelineStatus = "PING_2"
	PipelinePing3    PipelineStatus = "PING_3"
	PipelineContract PipelineStatus = "CONTRACT"
	PipelineRejected PipelineStatus = "REJECTED"
)

// PingStatusForStep maps a follow-up step number (1-based) to the pipeline
// status a contact holds once that outreach attempt has been sent.
func PingStatusForStep(step int) (PipelineStatus, bool) {
	switch step {
	case 1:
		return PipelinePing1, true
	case 2:
		return PipelinePing2, true
	case 3:
		return PipelinePing3, true
	}
	return "", false
}

// StepForPingStatus is the inverse of PingStatusForStep. Returns 0 for
// non-ping statuses.
func StepForPingStatus(s PipelineStatus) int {
	switch s {
	case PipelinePing1:
		return 1
	case PipelinePing2:
		return 2
	case PipelinePing3:
		return 3
	}
	return 0
}

// IsPing reports whether the status represents an outreach attempt that is
// awaiting a reply.
func (s PipelineStatus) IsPing() bool {
	return s == PipelinePing1 || s == PipelinePing2 || s == PipelinePing3
}

// Contact is a single outreach target, owned by exactly one manager.
//
// Invariant: NextFollowUpAt is non-nil only while AutoFollowUp is true and
// Status is one of the PING_* states. The follow-up state machine and the
// contact store are jointly responsible for maintaining this.
type Contact struct {
	ID        string         `json:"id" db:"id"`
	ManagerID string         `json:"manager_id" db:"manager_id"`
	Name      string         `json:"name" db:"name"`
	Email     string         `json:"email" db:"email"`
	Handle    string         `json:"handle" db:"handle"`
	Status    PipelineStatus `json:"status" db:"status"`

	AutoFollowUp   bool       `json:"auto_follow_up" db:"auto_follow_up"`
	NextFollowUpAt *time.Time `json:"next_follow_up_at" db:"next_follow_up_at"`
	FollowUpCount  int        `json:"follow_up_count" db:"follow_up_count"`

	LastThreadID    string     `json:"last_thread_id" db:"last_thread_id"`
	LastContactDate *time.Time `json:"last_contact_date" db:"last_contact_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
