// Package platform is the shared content store of a simulation: users,
// messages, the interaction lists and the act log, plus candidate
// distribution through the recommender.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/recommender"
	"github.com/nidhogg/agora/internal/timeutil"
)

var (
	ErrUserNotFound    = errors.New("platform: user not found")
	ErrMessageNotFound = errors.New("platform: message not found")
)

// Embedder turns message text into a vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) []float32
}

// LogEntry is one logged act. MessageID is "" when the act had no message.
type LogEntry struct {
	UserID    string
	MessageID string
	Act       act.Act
	Timestamp time.Time
}

type wireLogEntry struct {
	User      string  `json:"user"`
	Message   *string `json:"message"`
	Act       act.Act `json:"act"`
	Timestamp string  `json:"timestamp"`
}

func (e LogEntry) MarshalJSON() ([]byte, error) {
	w := wireLogEntry{User: e.UserID, Act: e.Act, Timestamp: timeutil.Format(e.Timestamp)}
	if e.MessageID != "" {
		id := e.MessageID
		w.Message = &id
	}
	return json.Marshal(w)
}

func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var w wireLogEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := timeutil.Parse(w.Timestamp)
	if err != nil {
		return fmt.Errorf("decode log entry: %w", err)
	}
	*e = LogEntry{UserID: w.User, Act: w.Act, Timestamp: ts}
	if w.Message != nil {
		e.MessageID = *w.Message
	}
	return nil
}

// Environment holds all cross-agent state. Every structural mutation runs
// under one write lock: id assignment, like and repost bookkeeping, and
// log appends.
type Environment struct {
	mu       sync.RWMutex
	users    []*User
	userIdx  map[string]*User
	messages []*Message
	msgIdx   map[string]*Message
	log      []LogEntry
	now      time.Time
	interval timeutil.Interval

	rec      *recommender.Recommender
	embedder Embedder
	observer *Observers
	logger   *zap.Logger
}

// NewEnvironment creates an empty environment. obs may be nil.
func NewEnvironment(rec *recommender.Recommender, emb Embedder, obs Observer, logger *zap.Logger) *Environment {
	fan, ok := obs.(*Observers)
	if !ok {
		fan = NewObservers(logger)
		if obs != nil {
			fan.Add(obs)
		}
	}
	return &Environment{
		userIdx:  make(map[string]*User),
		msgIdx:   make(map[string]*Message),
		rec:      rec,
		embedder: emb,
		observer: fan,
		logger:   logger,
	}
}

// AddUser registers u.
func (e *Environment) AddUser(u *User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = append(e.users, u)
	e.userIdx[u.ID] = u
}

// AddMessage appends m as is, keeping its id. When embed is set the
// embedding is computed before the lock is taken.
func (e *Environment) AddMessage(ctx context.Context, m *Message, embed bool) {
	if embed {
		m.Embedding = e.embedder.EmbedText(ctx, m.Text)
	}
	e.mu.Lock()
	e.messages = append(e.messages, m)
	e.msgIdx[m.ID] = m
	e.mu.Unlock()
}

// CreateMessage assigns the next dense id and appends a new message. A
// quoteID naming a repost is rewritten to that repost's origin.
func (e *Environment) CreateMessage(ctx context.Context, typ, text, authorID string, ts time.Time, quoteID string) (Message, error) {
	emb := e.embedder.EmbedText(ctx, text)

	e.mu.Lock()
	m, err := e.createLocked(typ, text, authorID, ts, quoteID, emb)
	e.mu.Unlock()
	if err != nil {
		return Message{}, err
	}
	e.observer.MessageCreated(ctx, m)
	return m, nil
}

func (e *Environment) createLocked(typ, text, authorID string, ts time.Time, quoteID string, emb []float32) (Message, error) {
	if quoteID != "" {
		q, ok := e.msgIdx[quoteID]
		if !ok {
			return Message{}, fmt.Errorf("create message: quote %w: %s", ErrMessageNotFound, quoteID)
		}
		quoteID = q.OriginID()
	}
	m := &Message{
		ID:        strconv.Itoa(len(e.messages)),
		Type:      typ,
		Text:      text,
		AuthorID:  authorID,
		Timestamp: ts,
		QuoteID:   quoteID,
		Embedding: emb,
	}
	e.messages = append(e.messages, m)
	e.msgIdx[m.ID] = m
	return m.clone(), nil
}

// Post creates a post authored by userID and records it on the user.
func (e *Environment) Post(ctx context.Context, userID, text string, ts time.Time) (Message, error) {
	emb := e.embedder.EmbedText(ctx, text)

	e.mu.Lock()
	u, ok := e.userIdx[userID]
	if !ok {
		e.mu.Unlock()
		return Message{}, fmt.Errorf("post: %w: %s", ErrUserNotFound, userID)
	}
	m, err := e.createLocked(TypePost, text, userID, ts, "", emb)
	if err == nil {
		u.Posts = append(u.Posts, m.ID)
	}
	e.mu.Unlock()
	if err != nil {
		return Message{}, err
	}
	e.observer.MessageCreated(ctx, m)
	return m, nil
}

// Repost records that userID reposted messageID at ts and creates the
// repost message, quoting the origin. An empty text copies the reposted
// message's text. The new message is returned.
func (e *Environment) Repost(ctx context.Context, userID, messageID, text string, ts time.Time) (Message, error) {
	e.mu.RLock()
	src, ok := e.msgIdx[messageID]
	if ok && text == "" {
		text = src.Text
	}
	e.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("repost: %w: %s", ErrMessageNotFound, messageID)
	}
	emb := e.embedder.EmbedText(ctx, text)

	e.mu.Lock()
	u, origin, err := e.lookupLocked(userID, messageID)
	var m Message
	if err == nil {
		origin.RepostedBy = append(origin.RepostedBy, Attribution{UserID: userID, Timestamp: ts})
		u.Reposts = append(u.Reposts, origin.ID)
		m, err = e.createLocked(TypeRepost, text, userID, ts, origin.ID, emb)
	}
	e.mu.Unlock()
	if err != nil {
		return Message{}, fmt.Errorf("repost: %w", err)
	}
	e.observer.MessageCreated(ctx, m)
	return m, nil
}

// Like records that userID liked the origin of messageID at ts and returns
// the origin message.
func (e *Environment) Like(userID, messageID string, ts time.Time) (Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, origin, err := e.lookupLocked(userID, messageID)
	if err != nil {
		return Message{}, fmt.Errorf("like: %w", err)
	}
	origin.LikedBy = append(origin.LikedBy, Attribution{UserID: userID, Timestamp: ts})
	u.Likes = append(u.Likes, origin.ID)
	return origin.clone(), nil
}

func (e *Environment) lookupLocked(userID, messageID string) (*User, *Message, error) {
	u, ok := e.userIdx[userID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	m, ok := e.msgIdx[messageID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	origin, ok := e.msgIdx[m.OriginID()]
	if !ok {
		return nil, nil, fmt.Errorf("%w: origin %s", ErrMessageNotFound, m.OriginID())
	}
	return u, origin, nil
}

// LogAct appends an act to the log. useActTime stamps the entry with the
// act's own time, as replay does; otherwise the current clock is used.
func (e *Environment) LogAct(ctx context.Context, userID, messageID string, a act.Act, useActTime bool) LogEntry {
	e.mu.Lock()
	ts := e.now
	if useActTime {
		ts = a.Timestamp
	}
	entry := LogEntry{UserID: userID, MessageID: messageID, Act: a, Timestamp: ts}
	e.log = append(e.log, entry)
	e.mu.Unlock()

	e.logger.Debug("log act",
		zap.String("user", userID),
		zap.String("kind", string(a.Kind)),
		zap.String("message", messageID))
	e.observer.ActLogged(ctx, entry)
	return entry
}

// AdvanceTime moves the clock to now. A zero iv keeps the current interval.
func (e *Environment) AdvanceTime(now time.Time, iv timeutil.Interval) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	if !iv.IsZero() {
		e.interval = iv
	}
}

// Now returns the simulated clock.
func (e *Environment) Now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now
}

// Interval returns the step interval.
func (e *Environment) Interval() timeutil.Interval {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.interval
}

// Distribute returns the candidates userID sees this step: every origin
// message by a followed author, plus up to k origins chosen by the
// recommender. windowEnd is the reference time for ranking decay;
// windowStart does not narrow the pool.
func (e *Environment) Distribute(userID string, windowStart, windowEnd time.Time, k int) ([]Message, error) {
	e.mu.RLock()
	u, ok := e.userIdx[userID]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("distribute: %w: %s", ErrUserNotFound, userID)
	}
	following := make(map[string]bool, len(u.Following))
	for _, id := range u.Following {
		following[id] = true
	}
	liked := make(map[string]bool, len(u.Likes))
	for _, id := range u.Likes {
		liked[id] = true
	}
	interacted := u.interacted()

	var followed []Message
	items := make([]recommender.Item, 0, len(e.messages))
	byID := make(map[string]*Message)
	for _, m := range e.messages {
		if !m.IsOrigin() {
			continue
		}
		byID[m.ID] = m
		items = append(items, recommender.Item{
			ID:        m.ID,
			OriginID:  m.ID,
			Timestamp: m.Timestamp,
			Embedding: m.Embedding,
			Likes:     len(m.LikedBy),
		})
		if following[m.AuthorID] {
			followed = append(followed, m.clone())
		}
	}
	e.mu.RUnlock()

	ranked := e.rec.Recommend(items, liked, interacted, k, windowEnd)

	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[string]bool, len(followed)+len(ranked))
	out := make([]Message, 0, len(followed)+len(ranked))
	for _, m := range followed {
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, it := range ranked {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, byID[it.ID].clone())
	}
	e.logger.Debug("distribute",
		zap.String("user", userID),
		zap.Int("followed", len(followed)),
		zap.Int("recommended", len(ranked)),
		zap.String("from", timeutil.Format(windowStart)),
		zap.String("to", timeutil.Format(windowEnd)))
	return out, nil
}

// User returns a copy of the user with id.
func (e *Environment) User(id string) (User, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.userIdx[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u.clone(), nil
}

// Users returns copies of all users in registration order.
func (e *Environment) Users() []User {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]User, len(e.users))
	for i, u := range e.users {
		out[i] = u.clone()
	}
	return out
}

// Message returns a copy of the message with id.
func (e *Environment) Message(id string) (Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.msgIdx[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return m.clone(), nil
}

// Messages returns copies of the last limit messages, newest last. A
// non-positive limit returns all.
func (e *Environment) Messages(limit int) []Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	src := e.messages
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]Message, len(src))
	for i, m := range src {
		out[i] = m.clone()
	}
	return out
}

// TopLiked returns up to n origin messages ordered by like count.
func (e *Environment) TopLiked(n int) []Message {
	e.mu.RLock()
	var out []Message
	for _, m := range e.messages {
		if m.IsOrigin() {
			out = append(out, m.clone())
		}
	}
	e.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].LikedBy) > len(out[j].LikedBy) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Log returns the last limit log entries, filtered to userID when it is
// non-empty. A non-positive limit returns all matches.
func (e *Environment) Log(userID string, limit int) []LogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []LogEntry
	for _, entry := range e.log {
		if userID == "" || entry.UserID == userID {
			out = append(out, entry)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats are environment counters.
type Stats struct {
	Users    int `json:"users"`
	Messages int `json:"messages"`
	Log      int `json:"log"`
}

// Stats returns current counters.
func (e *Environment) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Users: len(e.users), Messages: len(e.messages), Log: len(e.log)}
}
