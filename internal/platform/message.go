package platform

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/agora/internal/timeutil"
)

// Message types.
const (
	TypePost   = "post"
	TypeRepost = "repost"
)

// Attribution records who liked or reposted a message and when. It is
// written as a two-element [user, timestamp] array.
type Attribution struct {
	UserID    string
	Timestamp time.Time
}

func (a Attribution) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{a.UserID, timeutil.Format(a.Timestamp)})
}

func (a *Attribution) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode attribution: %w", err)
	}
	ts, err := timeutil.Parse(pair[1])
	if err != nil {
		return fmt.Errorf("decode attribution: %w", err)
	}
	*a = Attribution{UserID: pair[0], Timestamp: ts}
	return nil
}

// Message is a post or repost on the platform. A repost's QuoteID always
// names an origin message, never another repost.
type Message struct {
	ID         string
	Type       string
	Text       string
	AuthorID   string
	Timestamp  time.Time
	QuoteID    string
	Embedding  []float32
	LikedBy    []Attribution
	RepostedBy []Attribution
}

// OriginID is the id of the root message this one refers to.
func (m *Message) OriginID() string {
	if m.QuoteID != "" {
		return m.QuoteID
	}
	return m.ID
}

// IsOrigin reports whether m refers to no other message.
func (m *Message) IsOrigin() bool { return m.QuoteID == "" }

func (m *Message) clone() Message {
	c := *m
	c.LikedBy = append([]Attribution(nil), m.LikedBy...)
	c.RepostedBy = append([]Attribution(nil), m.RepostedBy...)
	return c
}

type wireMessage struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Text       string        `json:"text"`
	AuthorID   string        `json:"author_id"`
	Timestamp  string        `json:"timestamp"`
	QuoteID    *string       `json:"quote_id"`
	Embedding  []float32     `json:"embed"`
	LikedBy    []Attribution `json:"liked_by"`
	RepostedBy []Attribution `json:"reposted_by"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:         m.ID,
		Type:       m.Type,
		Text:       m.Text,
		AuthorID:   m.AuthorID,
		Timestamp:  timeutil.Format(m.Timestamp),
		Embedding:  m.Embedding,
		LikedBy:    nonNil(m.LikedBy),
		RepostedBy: nonNil(m.RepostedBy),
	}
	if m.QuoteID != "" {
		q := m.QuoteID
		w.QuoteID = &q
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := timeutil.Parse(w.Timestamp)
	if err != nil {
		return fmt.Errorf("decode message %s: %w", w.ID, err)
	}
	*m = Message{
		ID:         w.ID,
		Type:       w.Type,
		Text:       w.Text,
		AuthorID:   w.AuthorID,
		Timestamp:  ts,
		Embedding:  w.Embedding,
		LikedBy:    w.LikedBy,
		RepostedBy: w.RepostedBy,
	}
	if w.QuoteID != nil {
		m.QuoteID = *w.QuoteID
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
