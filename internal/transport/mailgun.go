package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/outreach/internal/pkg/httpretry"
)

// MailgunMailer delivers through the Mailgun HTTP API.
type MailgunMailer struct {
	apiKey  string
	domain  string
	baseURL string
	client  *httpretry.RetryClient
}

// NewMailgunMailer builds the primary mailer. baseURL defaults to the
// public US endpoint.
func NewMailgunMailer(apiKey, domain, baseURL string) *MailgunMailer {
	if baseURL == "" {
		baseURL = "https://api.mailgun.net/v3"
	}
	return &MailgunMailer{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpretry.NewRetryClient(nil, 3),
	}
}

func (m *MailgunMailer) Name() string { return "mailgun" }

type mailgunResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send posts the message as a multipart form to /{domain}/messages.
func (m *MailgunMailer) Send(ctx context.Context, req Request) Result {
	form := url.Values{}
	form.Set("from", fmt.Sprintf("%s <%s>", req.FromName, req.FromEmail))
	form.Set("to", req.To)
	form.Set("subject", req.Subject)
	form.Set("html", req.HTML)
	if req.ReplyTo != "" {
		form.Set("h:Reply-To", req.ReplyTo)
	}
	for k, v := range req.Headers {
		if strings.HasPrefix(k, "o:") {
			form.Set(k, v)
		} else {
			form.Set("h:"+k, v)
		}
	}

	endpoint := fmt.Sprintf("%s/%s/messages", m.baseURL, m.domain)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Result{Err: fmt.Errorf("build mailgun request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth("api", m.apiKey)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return Result{Err: fmt.Errorf("mailgun request: %w", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("mailgun returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		// 4xx other than rate limiting will not succeed on retry.
		permanent := resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusTooManyRequests
		return Result{Err: err, Permanent: permanent}
	}

	var parsed mailgunResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{Err: fmt.Errorf("parse mailgun response: %w", err)}
	}
	return Result{
		Success:    true,
		ProviderID: parsed.ID,
		MessageID:  NormalizeMessageID(parsed.ID),
	}
}
