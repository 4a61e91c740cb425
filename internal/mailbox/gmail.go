package mailbox

import (
	"context"
	"fmt"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ignite/outreach/internal/pkg/logger"
)

// Message is a mailbox message reduced to the headers reply detection
// cares about.
type Message struct {
	ID         string
	ThreadID   string
	From       string
	To         string
	Subject    string
	MessageID  string
	InReplyTo  string
	References string
	Date       time.Time
}

// Searcher runs queries against a user's mailbox. The Gmail implementation
// is GmailSearcher; tests inject fakes.
type Searcher interface {
	Search(ctx context.Context, userID, query string, limit int) ([]Message, error)
}

// GmailSearcher implements Searcher over the Gmail API.
type GmailSearcher struct {
	tokens *TokenManager
}

// NewGmailSearcher builds a searcher using the given token manager.
func NewGmailSearcher(tokens *TokenManager) *GmailSearcher {
	return &GmailSearcher{tokens: tokens}
}

// Search runs a Gmail query (e.g. rfc822msgid:... or from:...) and returns
// matching messages with their threading headers.
func (g *GmailSearcher) Search(ctx context.Context, userID, query string, limit int) ([]Message, error) {
	ts, err := g.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}

	if limit <= 0 {
		limit = 10
	}
	list, err := svc.Users.Messages.List("me").Q(query).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail search %q: %w", query, err)
	}

	var out []Message
	for _, ref := range list.Messages {
		full, err := svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Message-ID", "In-Reply-To", "References", "Date").
			Context(ctx).Do()
		if err != nil {
			logger.Warn("gmail message fetch failed", "message_id", ref.Id, "error", err.Error())
			continue
		}
		out = append(out, fromGmailMessage(full))
	}
	return out, nil
}

func fromGmailMessage(m *gmail.Message) Message {
	msg := Message{ID: m.Id, ThreadID: m.ThreadId}
	if m.Payload == nil {
		return msg
	}
	for _, h := range m.Payload.Headers {
		switch h.Name {
		case "From":
			msg.From = h.Value
		case "To":
			msg.To = h.Value
		case "Subject":
			msg.Subject = h.Value
		case "Message-ID", "Message-Id":
			msg.MessageID = h.Value
		case "In-Reply-To":
			msg.InReplyTo = h.Value
		case "References":
			msg.References = h.Value
		case "Date":
			if t, err := time.Parse(time.RFC1123Z, h.Value); err == nil {
				msg.Date = t
			} else if t, err := time.Parse("Mon, 2 Jan 2006 15:04:05 -0700", h.Value); err == nil {
				msg.Date = t
			}
		}
	}
	return msg
}
