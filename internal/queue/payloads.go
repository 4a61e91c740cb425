package queue

// SendPayload is the body of a LaneSend job: deliver one pending email
// record.
type SendPayload struct {
	EmailRecordID string `json:"email_record_id"`
	ContactID     string `json:"contact_id"`

	// AdvanceStep moves the contact to PING_{AdvanceStep} once the send
	// succeeds. Zero leaves the pipeline status alone.
	AdvanceStep int `json:"advance_step,omitempty"`

	// StartAutomation schedules the first follow-up check after a
	// successful send.
	StartAutomation bool `json:"start_automation,omitempty"`
}

// FollowUpPayload is the body of a LaneFollowUp job: run the no-reply
// check for a contact at the given step.
type FollowUpPayload struct {
	ContactID     string `json:"contact_id"`
	EmailRecordID string `json:"email_record_id"`
	Step          int    `json:"step"`

	// Reschedules counts deferrals of this same check (missing template).
	Reschedules int `json:"reschedules,omitempty"`
}
