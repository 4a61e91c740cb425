package domain

import "time"

// Reminder template names recognized by the follow-up state machine.
// Step 1's check sends the 24-hour reminder, step 2's check the 48-hour one.
// The 48-hour template historically exists under two names.
const (
	TemplateReminder24 = "24-Hour Reminder"
	TemplateReminder48 = "48-Hour Reminder"
	TemplateFollowUp48 = "48-Hour Follow-up"
)

// EmailTemplate is a reusable subject/body pair with {{variable}}
// placeholders, scoped to a manager and referenced by name.
type EmailTemplate struct {
	ID        string `json:"id" db:"id"`
	ManagerID string `json:"manager_id" db:"manager_id"`
	Name      string `json:"name" db:"name"`
	Subject   string `json:"subject" db:"subject"`
	BodyHTML  string `json:"body_html" db:"body_html"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReminderTemplateNames returns the accepted template names for the reminder
// sent by the follow-up check at the given step, or nil if the step sends
// nothing.
func ReminderTemplateNames(step int) []string {
	switch step {
	case 1:
		return []string{TemplateReminder24}
	case 2:
		return []string{TemplateReminder48, TemplateFollowUp48}
	}
	return nil
}
