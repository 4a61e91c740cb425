package transport

import (
	"fmt"
	"strings"
)

// strictProviderDomains get tracking and list-management headers suppressed
// regardless of warm-up state. Their filters punish link rewriting.
var strictProviderDomains = map[string]bool{
	"icloud.com": true,
	"me.com":     true,
	"mac.com":    true,
}

// Policy adjusts outgoing requests for deliverability: open/click tracking
// is suppressed during warm-up and for strict providers, and a
// List-Unsubscribe header is added once past the warm-up threshold.
type Policy struct {
	// ThresholdDays is the warm-up window length in days.
	ThresholdDays int
	// UnsubscribeMailto receives unsubscribe requests (mailto target).
	UnsubscribeMailto string
	// UnsubscribeURL is the HTTPS unsubscribe endpoint, optional.
	UnsubscribeURL string
}

// Apply mutates the request's headers according to policy.
func (p *Policy) Apply(req *Request) {
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}

	warming := p.ThresholdDays > 0 && req.WarmupDay <= p.ThresholdDays
	strict := isStrictProvider(req.To)

	if warming || strict {
		req.Headers["o:tracking"] = "no"
		req.Headers["o:tracking-opens"] = "no"
		req.Headers["o:tracking-clicks"] = "no"
		return
	}

	req.Headers["o:tracking-opens"] = "yes"

	if p.UnsubscribeMailto != "" {
		unsub := fmt.Sprintf("<mailto:%s?subject=unsubscribe>", p.UnsubscribeMailto)
		if p.UnsubscribeURL != "" {
			unsub += fmt.Sprintf(", <%s>", p.UnsubscribeURL)
		}
		req.Headers["List-Unsubscribe"] = unsub
		req.Headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}
}

func isStrictProvider(addr string) bool {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return false
	}
	return strictProviderDomains[strings.ToLower(addr[at+1:])]
}
