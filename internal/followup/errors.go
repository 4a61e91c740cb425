package followup

import "errors"

var (
	// ErrTemplateMissing is returned when no reminder template exists for
	// a step after exhausting the reschedule budget.
	ErrTemplateMissing = errors.New("followup: reminder template missing")
)
