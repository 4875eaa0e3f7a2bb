// Package act defines the typed events an agent emits and their
// first-person narration used as memory input.
package act

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/agora/internal/timeutil"
)

// Kind categorizes an act.
type Kind string

const (
	KindRead    Kind = "read"
	KindLike    Kind = "like"
	KindRetweet Kind = "retweet"
	KindRepost  Kind = "repost"
	KindShare   Kind = "share"
	KindPost    Kind = "post"
	KindQuote   Kind = "quote"
)

// IsRepost reports whether k is one of the repost aliases.
func (k Kind) IsRepost() bool {
	return k == KindRetweet || k == KindRepost || k == KindShare
}

// NoPost is the text a post act carries when the agent abstained.
const NoPost = "no post"

// Act is one event produced by the decision pipeline or read from history.
type Act struct {
	Kind      Kind
	Text      string
	QuoteText string
	Timestamp time.Time
}

// New builds an act.
func New(kind Kind, text string, ts time.Time) Act {
	return Act{Kind: kind, Text: text, Timestamp: ts}
}

type wireAct struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	QuoteText string `json:"quote_text,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON writes {"type","text","timestamp"} with a Layout timestamp.
func (a Act) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAct{
		Type:      string(a.Kind),
		Text:      a.Text,
		QuoteText: a.QuoteText,
		Timestamp: timeutil.Format(a.Timestamp),
	})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (a *Act) UnmarshalJSON(data []byte) error {
	var w wireAct
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := timeutil.Parse(w.Timestamp)
	if err != nil {
		return fmt.Errorf("decode act: %w", err)
	}
	*a = Act{Kind: Kind(w.Type), Text: w.Text, QuoteText: w.QuoteText, Timestamp: ts}
	return nil
}

func (a Act) String() string {
	return fmt.Sprintf("Act(%s, %q, %s)", a.Kind, a.Text, timeutil.Format(a.Timestamp))
}

// IsAbstain reports whether a post act records "no post".
func (a Act) IsAbstain() bool {
	return a.Kind == KindPost && strings.EqualFold(strings.TrimSpace(a.Text), NoPost)
}

// Narrate renders an act as the first-person sentence stored in memory.
// Unknown kinds narrate to "".
func Narrate(a Act) string {
	switch {
	case a.Kind == KindRead:
		return fmt.Sprintf(`I read a post: """%s"""`, a.Text)
	case a.Kind == KindLike:
		return fmt.Sprintf(`I like this post: """%s"""`, a.Text)
	case a.Kind.IsRepost():
		return fmt.Sprintf(`I retweet this post: """%s"""`, a.Text)
	case a.Kind == KindQuote:
		return fmt.Sprintf(`I read a post: """%s""" I retweet this post and give a little of my own thoughts: """%s""".`, a.Text, a.QuoteText)
	case a.Kind == KindPost:
		if a.IsAbstain() {
			return "I didn't write a post this time."
		}
		return fmt.Sprintf(`I write a post: """%s"""`, a.Text)
	}
	return ""
}

// NarrateDay renders a day's acts for reflection. An empty day yields a
// single "did nothing" line.
func NarrateDay(acts []Act) []string {
	if len(acts) == 0 {
		return []string{"Didn't do anything today."}
	}
	lines := make([]string, 0, len(acts))
	for _, a := range acts {
		if a.IsAbstain() {
			lines = append(lines, "I didn't write a post today.")
			continue
		}
		if s := Narrate(a); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// Reception renders what an agent remembers after reacting to a post:
// the read line plus one line per like or repost.
func Reception(text string, acts []Act) string {
	var b strings.Builder
	fmt.Fprintf(&b, `I read a post: """%s"""`, text)
	for _, a := range acts {
		switch {
		case a.Kind == KindLike:
			b.WriteString("\nI like this post very much.")
		case a.Kind.IsRepost():
			b.WriteString("\nI retweet this post.")
		}
	}
	return b.String()
}
