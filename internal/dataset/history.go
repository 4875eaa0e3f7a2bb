package dataset

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/timeutil"
)

// HistoryEntry is one past action of a user, derived from the dataset.
type HistoryEntry struct {
	UserID    string
	Type      string
	PostID    string
	Text      string
	Timestamp time.Time
	QuoteID   string
}

type wireHistory struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	PostID    string `json:"post_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	QuoteID   string `json:"quote_id,omitempty"`
}

func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireHistory{
		UserID:    h.UserID,
		Type:      h.Type,
		PostID:    h.PostID,
		Text:      h.Text,
		Timestamp: timeutil.Format(h.Timestamp),
		QuoteID:   h.QuoteID,
	})
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var w wireHistory
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := timeutil.Parse(w.Timestamp)
	if err != nil {
		return fmt.Errorf("history entry %s: %w", w.PostID, err)
	}
	*h = HistoryEntry{UserID: w.UserID, Type: w.Type, PostID: w.PostID, Text: w.Text, Timestamp: ts, QuoteID: w.QuoteID}
	return nil
}

// Act converts the entry to the act an agent replays into memory.
func (h HistoryEntry) Act() act.Act {
	kind := act.KindPost
	switch h.Type {
	case TypeRepost:
		kind = act.KindRepost
	case TypeLike:
		kind = act.KindLike
	}
	return act.New(kind, h.Text, h.Timestamp)
}

// MakeHistory derives every user's actions in [begin, end) and stores them
// under meta["history"]. Own posts keep their type, retweets become
// reposts, and likes take the liked post's timestamp.
func (d *Data) MakeHistory(begin, end time.Time) error {
	in := func(t time.Time) bool { return !t.Before(begin) && t.Before(end) }
	for _, u := range d.Users {
		var hist []HistoryEntry
		for _, pid := range u.Posts {
			p, err := d.Post(pid)
			if err != nil || !in(p.Timestamp) {
				continue
			}
			e := HistoryEntry{UserID: u.ID, Type: TypePost, PostID: p.ID, Text: p.Text, Timestamp: p.Timestamp}
			if p.IsRepost() {
				e.Type = TypeRepost
				e.QuoteID = p.QuoteID
			}
			hist = append(hist, e)
		}
		for _, pid := range u.Likes {
			p, err := d.Post(pid)
			if err != nil || !in(p.Timestamp) {
				continue
			}
			hist = append(hist, HistoryEntry{UserID: u.ID, Type: TypeLike, PostID: p.ID, Text: p.Text, Timestamp: p.Timestamp})
		}
		sort.SliceStable(hist, func(i, j int) bool { return hist[i].Timestamp.Before(hist[j].Timestamp) })
		if hist == nil {
			hist = []HistoryEntry{}
		}
		if err := d.SetMeta(MetaHistory, u.ID, hist); err != nil {
			return err
		}
	}
	return nil
}

// History returns the stored history of uid.
func (d *Data) History(uid string) ([]HistoryEntry, error) {
	var hist []HistoryEntry
	if err := d.Meta(MetaHistory, uid, &hist); err != nil {
		return nil, err
	}
	return hist, nil
}

// HistoryBetween returns the stored history of uid within [begin, end).
func (d *Data) HistoryBetween(uid string, begin, end time.Time) ([]HistoryEntry, error) {
	hist, err := d.History(uid)
	if err != nil {
		return nil, err
	}
	out := hist[:0:0]
	for _, h := range hist {
		if !h.Timestamp.Before(begin) && h.Timestamp.Before(end) {
			out = append(out, h)
		}
	}
	return out, nil
}

// Acts converts entries to acts.
func Acts(entries []HistoryEntry) []act.Act {
	out := make([]act.Act, len(entries))
	for i, h := range entries {
		out[i] = h.Act()
	}
	return out
}
