package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"
)

// ErrInvalidAddress marks a recipient that fails syntactic validation.
var ErrInvalidAddress = errors.New("transport: invalid email address")

// ErrNoMX marks a recipient domain with no mail exchanger. Sends to such
// domains are hard failures.
var ErrNoMX = errors.New("transport: recipient domain has no MX records")

// MXResolver looks up mail exchangers. *net.Resolver satisfies it; tests
// inject fakes.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

type netResolver struct{}

func (netResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	return net.DefaultResolver.LookupMX(ctx, domain)
}

// ValidateAddress checks the recipient syntactically.
func ValidateAddress(addr string) error {
	if addr == "" {
		return ErrInvalidAddress
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// CheckMX verifies the recipient's domain accepts mail. Resolver errors
// other than "no host" are treated as transient and pass; only a definite
// absence of MX records fails.
func CheckMX(ctx context.Context, r MXResolver, addr string) error {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ErrInvalidAddress
	}
	domain := addr[at+1:]

	mxs, err := r.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return fmt.Errorf("%w: %s", ErrNoMX, domain)
		}
		// Resolver unavailable: let the provider decide.
		return nil
	}
	if len(mxs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoMX, domain)
	}
	return nil
}
