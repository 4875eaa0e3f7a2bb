// Package dataset loads the historical users and posts a simulation starts
// from, and caches derived per-user data in a free-form meta map.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nidhogg/agora/internal/timeutil"
)

var (
	ErrUserNotFound = errors.New("dataset: user not found")
	ErrPostNotFound = errors.New("dataset: post not found")
	ErrMetaNotFound = errors.New("dataset: meta not found")
)

// Meta keys written by the simulator.
const (
	MetaHistory = "history"
	MetaProfile = "user_profile"
)

// Post types.
const (
	TypePost    = "post"
	TypeRepost  = "repost"
	TypeRetweet = "retweet"
	TypeLike    = "like"
)

// User is a dataset account.
type User struct {
	ID        string         `json:"id"`
	Info      map[string]any `json:"info"`
	Posts     []string       `json:"posts"`
	Likes     []string       `json:"likes"`
	Following []string       `json:"following"`
	Followers []string       `json:"followers"`
}

// Post is a dataset post. QuoteID is "" when the post quotes nothing.
type Post struct {
	ID        string
	AuthorID  string
	QuoteID   string
	Timestamp time.Time
	Text      string
	Type      string
}

type wirePost struct {
	ID        string          `json:"id"`
	AuthorID  string          `json:"author_id"`
	QuoteID   json.RawMessage `json:"quote_id"`
	Timestamp string          `json:"timestamp"`
	Text      string          `json:"text"`
	Type      string          `json:"type"`
}

func (p Post) MarshalJSON() ([]byte, error) {
	q := json.RawMessage("null")
	if p.QuoteID != "" {
		b, _ := json.Marshal(p.QuoteID)
		q = b
	}
	return json.Marshal(wirePost{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		QuoteID:   q,
		Timestamp: timeutil.Format(p.Timestamp),
		Text:      p.Text,
		Type:      p.Type,
	})
}

func (p *Post) UnmarshalJSON(data []byte) error {
	var w wirePost
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := timeutil.Parse(w.Timestamp)
	if err != nil {
		return fmt.Errorf("post %s: %w", w.ID, err)
	}
	*p = Post{
		ID:        w.ID,
		AuthorID:  w.AuthorID,
		QuoteID:   decodeQuoteID(w.QuoteID),
		Timestamp: ts,
		Text:      w.Text,
		Type:      w.Type,
	}
	return nil
}

// decodeQuoteID accepts a string, a number or null; "-1" means none.
func decodeQuoteID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	var s string
	switch q := v.(type) {
	case string:
		s = q
	case float64:
		s = strconv.FormatFloat(q, 'f', -1, 64)
	}
	if s == "-1" {
		return ""
	}
	return s
}

// IsRepost reports whether the post re-shares another.
func (p Post) IsRepost() bool { return p.Type == TypeRepost || p.Type == TypeRetweet }

// Data is a loaded dataset. Posts are kept sorted by timestamp.
type Data struct {
	Users []User
	Posts []Post

	mu      sync.RWMutex
	meta    map[string]map[string]json.RawMessage
	userIdx map[string]int
	postIdx map[string]int
}

// New builds a dataset, sorting posts by timestamp.
func New(users []User, posts []Post) *Data {
	sorted := append([]Post(nil), posts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	d := &Data{
		Users:   users,
		Posts:   sorted,
		meta:    make(map[string]map[string]json.RawMessage),
		userIdx: make(map[string]int, len(users)),
		postIdx: make(map[string]int, len(sorted)),
	}
	for i, u := range users {
		d.userIdx[u.ID] = i
	}
	for i, p := range sorted {
		d.postIdx[p.ID] = i
	}
	return d
}

type wireData struct {
	Users []User                                `json:"users"`
	Posts []Post                                `json:"posts"`
	Meta  map[string]map[string]json.RawMessage `json:"meta"`
}

// Load reads a dataset file.
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var w wireData
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	d := New(w.Users, w.Posts)
	if w.Meta != nil {
		d.meta = w.Meta
	}
	return d, nil
}

// Save writes the dataset, meta included.
func (d *Data) Save(path string) error {
	d.mu.RLock()
	raw, err := json.MarshalIndent(wireData{Users: d.Users, Posts: d.Posts, Meta: d.meta}, "", "    ")
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return nil
}

// User returns the user with id.
func (d *Data) User(id string) (*User, error) {
	i, ok := d.userIdx[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return &d.Users[i], nil
}

// Post returns the post with id.
func (d *Data) Post(id string) (*Post, error) {
	i, ok := d.postIdx[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}
	return &d.Posts[i], nil
}

// FilterByTime returns a copy holding the posts in [begin, end) and user
// post and like lists trimmed to them. Meta is not copied.
func (d *Data) FilterByTime(begin, end time.Time) *Data {
	var posts []Post
	keep := make(map[string]bool)
	for _, p := range d.Posts {
		if !p.Timestamp.Before(begin) && p.Timestamp.Before(end) {
			posts = append(posts, p)
			keep[p.ID] = true
		}
	}
	users := make([]User, len(d.Users))
	for i, u := range d.Users {
		u.Posts = filterIDs(u.Posts, keep)
		u.Likes = filterIDs(u.Likes, keep)
		u.Following = append([]string(nil), u.Following...)
		u.Followers = append([]string(nil), u.Followers...)
		users[i] = u
	}
	return New(users, posts)
}

func filterIDs(ids []string, keep map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

// SetMeta stores v under meta[key][uid].
func (d *Data) SetMeta(key, uid string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode meta %s/%s: %w", key, uid, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.meta[key] == nil {
		d.meta[key] = make(map[string]json.RawMessage)
	}
	d.meta[key][uid] = raw
	return nil
}

// Meta decodes meta[key][uid] into out.
func (d *Data) Meta(key, uid string, out any) error {
	d.mu.RLock()
	raw, ok := d.meta[key][uid]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrMetaNotFound, key, uid)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode meta %s/%s: %w", key, uid, err)
	}
	return nil
}

// MetaOrDefault returns the string at meta[key][uid], or def.
func (d *Data) MetaOrDefault(key, uid, def string) string {
	var s string
	if err := d.Meta(key, uid, &s); err != nil {
		return def
	}
	return s
}

// HasMetaKey reports whether key exists in meta.
func (d *Data) HasMetaKey(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.meta[key]
	return ok
}
