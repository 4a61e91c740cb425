package outreach

import "errors"

var (
	// ErrContactNotFound is returned when the target contact does not exist.
	ErrContactNotFound = errors.New("outreach: contact not found")
	// ErrTemplateNotFound is returned when a named template does not exist.
	ErrTemplateNotFound = errors.New("outreach: template not found")
	// ErrEmptyMessage is returned when a send has neither body nor template.
	ErrEmptyMessage = errors.New("outreach: empty subject and body")
)
