// Package transport sends outbound email through provider APIs. Mailgun is
// the primary provider; SES serves as fallback when configured.
package transport

import (
	"context"
	"time"
)

// Request is a single message to deliver.
type Request struct {
	To        string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	HTML      string
	Headers   map[string]string

	// WarmupDay is days since the warm-up start; sends inside the warm-up
	// window get tracking suppressed.
	WarmupDay int
}

// Result reports the outcome of a delivery attempt.
type Result struct {
	Success bool
	// ProviderID is the message id the provider returned.
	ProviderID string
	// MessageID is the normalized RFC 5322 id used for reply correlation.
	MessageID string
	Err       error
	// Permanent marks failures that retrying cannot fix (invalid address,
	// rejected domain). The caller should not re-enqueue these.
	Permanent bool
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, req Request) Result
	Name() string
}

// Sender wraps a primary mailer with an optional fallback. Address
// validation happens up front so hopeless sends never hit a provider.
type Sender struct {
	primary  Mailer
	fallback Mailer
	resolver MXResolver
	policy   *Policy
}

// NewSender builds the delivery chain. fallback and resolver may be nil.
func NewSender(primary, fallback Mailer, resolver MXResolver, policy *Policy) *Sender {
	if resolver == nil {
		resolver = netResolver{}
	}
	if policy == nil {
		policy = &Policy{}
	}
	return &Sender{primary: primary, fallback: fallback, resolver: resolver, policy: policy}
}

// Send validates the recipient, applies send policy, and delivers through
// the primary provider, falling back on transient primary failure.
func (s *Sender) Send(ctx context.Context, req Request) Result {
	if err := ValidateAddress(req.To); err != nil {
		return Result{Err: err, Permanent: true}
	}
	if err := s.checkMX(ctx, req.To); err != nil {
		return Result{Err: err, Permanent: true}
	}

	s.policy.Apply(&req)

	res := s.primary.Send(ctx, req)
	if res.Success || res.Permanent || s.fallback == nil {
		return res
	}
	return s.fallback.Send(ctx, req)
}

func (s *Sender) checkMX(ctx context.Context, to string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return CheckMX(ctx, s.resolver, to)
}
