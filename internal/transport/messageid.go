package transport

import "strings"

// NormalizeMessageID strips the RFC 5322 angle brackets from a provider
// message id. Mailgun returns "<id@domain>"; reply correlation and record
// storage use the bare form.
func NormalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
