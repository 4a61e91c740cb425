package followup

// Action is what a follow-up check decided to do.
type Action string

const (
	// ActionSkipped means the contact was no longer eligible (replied,
	// automation stopped, or status moved on) and nothing happened.
	ActionSkipped Action = "skipped"
	// ActionAborted means the step number was out of range.
	ActionAborted Action = "aborted"
	// ActionReminderQueued means a reminder was created and queued and the
	// next check was scheduled.
	ActionReminderQueued Action = "reminder_queued"
	// ActionRejected means the contact exhausted all follow-ups.
	ActionRejected Action = "rejected"
	// ActionRescheduled means the check could not run (missing template)
	// and was pushed back.
	ActionRescheduled Action = "rescheduled"
)

// StepOutcome reports everything a follow-up check did, so callers and
// logs see one coherent result instead of scattered side effects.
type StepOutcome struct {
	ContactID string
	Step      int
	Action    Action

	// Set when Action == ActionReminderQueued.
	TemplateName   string
	EmailRecordID  string
	SendJobID      int64
	NextCheckJobID int64

	// Reason explains skips, aborts, and reschedules.
	Reason string
}
