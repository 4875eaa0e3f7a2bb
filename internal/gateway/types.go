// Package gateway mirrors simulated posts into chat platforms so a run can
// be watched live from Discord or Slack.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/timeutil"
)

// Mirror delivers posts to one chat platform.
type Mirror interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, p *Post) error
	Close() error
}

// Post is a simulated message as shown on a chat platform.
type Post struct {
	MessageID string    `json:"message_id"`
	AuthorID  string    `json:"author_id"`
	Type      string    `json:"type"`
	QuoteID   string    `json:"quote_id,omitempty"`
	Text      string    `json:"text"`
	SimTime   time.Time `json:"sim_time"`
}

// FromMessage converts a platform message.
func FromMessage(m platform.Message) *Post {
	return &Post{
		MessageID: m.ID,
		AuthorID:  m.AuthorID,
		Type:      m.Type,
		QuoteID:   m.QuoteID,
		Text:      m.Text,
		SimTime:   m.Timestamp,
	}
}

// Headline is the one-line attribution shown above the text.
func (p *Post) Headline() string {
	if p.QuoteID != "" {
		return fmt.Sprintf("@%s reposted #%s · %s", p.AuthorID, p.QuoteID, timeutil.Format(p.SimTime))
	}
	return fmt.Sprintf("@%s · %s", p.AuthorID, timeutil.Format(p.SimTime))
}
