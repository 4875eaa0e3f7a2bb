package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/agent"
	"github.com/nidhogg/agora/internal/memory"
	"github.com/nidhogg/agora/internal/recommender"
	"github.com/nidhogg/agora/internal/timeutil"
)

// CheckpointFile is the environment document inside a checkpoint directory.
const CheckpointFile = "model.json"

// Checkpoint is the on-disk form of an environment.
type Checkpoint struct {
	Env EnvState `json:"env"`
}

// EnvState is the "env" object of a checkpoint.
type EnvState struct {
	Users    []UserState `json:"users"`
	Messages []Message   `json:"messages"`
	Log      []LogEntry  `json:"log"`
	Now      string      `json:"now"`
	Interval string      `json:"intv"`
}

// UserState is one checkpointed user.
type UserState struct {
	ID        string         `json:"id"`
	Info      map[string]any `json:"info"`
	Agent     agent.Snapshot `json:"agent"`
	Following []string       `json:"following"`
	Followers []string       `json:"followers"`
	Posts     []string       `json:"posts"`
	Likes     []string       `json:"likes"`
	Reposts   []string       `json:"reposts"`
}

// CheckpointDir names the directory a checkpoint taken at now is saved to.
func CheckpointDir(root string, now time.Time) string {
	return filepath.Join(root, "model_"+now.Format("2006-01-02_15:04:05"))
}

// Save writes dir/model.json and the agents' memory into dir/memory.db.
// It must not run concurrently with a step.
func (e *Environment) Save(ctx context.Context, dir string) (string, error) {
	archive, err := memory.OpenArchive(dir)
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	defer archive.Close()

	e.mu.RLock()
	users := make([]*User, len(e.users))
	copy(users, e.users)
	e.mu.RUnlock()

	state := EnvState{Users: make([]UserState, 0, len(users))}
	for _, u := range users {
		snap, err := u.Agent.Snapshot(ctx, archive)
		if err != nil {
			return "", fmt.Errorf("save checkpoint: user %s: %w", u.ID, err)
		}
		e.mu.RLock()
		c := u.clone()
		e.mu.RUnlock()
		state.Users = append(state.Users, UserState{
			ID:        c.ID,
			Info:      c.Info,
			Agent:     snap,
			Following: nonNil(c.Following),
			Followers: nonNil(c.Followers),
			Posts:     nonNil(c.Posts),
			Likes:     nonNil(c.Likes),
			Reposts:   nonNil(c.Reposts),
		})
	}

	e.mu.RLock()
	state.Messages = make([]Message, len(e.messages))
	for i, m := range e.messages {
		state.Messages[i] = m.clone()
	}
	state.Log = nonNil(append([]LogEntry(nil), e.log...))
	state.Now = timeutil.Format(e.now)
	state.Interval = e.interval.String()
	now := e.now
	e.mu.RUnlock()

	raw, err := json.MarshalIndent(Checkpoint{Env: state}, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	path := filepath.Join(dir, CheckpointFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	e.logger.Info("checkpoint saved", zap.String("path", path), zap.Int("users", len(state.Users)))
	e.observer.CheckpointSaved(ctx, now, path)
	return path, nil
}

// ReadCheckpoint decodes a checkpoint document without rebuilding agents.
func ReadCheckpoint(path string) (Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// ErrCorruptCheckpoint marks a checkpoint whose messages or user lists
// break the id invariants.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// Verify checks that message ids are dense, that every quote names an
// earlier origin and that user like and repost lists hold origin ids only.
func (cp Checkpoint) Verify() error {
	origin := make(map[string]bool, len(cp.Env.Messages))
	for i, m := range cp.Env.Messages {
		if m.ID != strconv.Itoa(i) {
			return fmt.Errorf("%w: message %d has id %q", ErrCorruptCheckpoint, i, m.ID)
		}
		if m.QuoteID != "" && !origin[m.QuoteID] {
			return fmt.Errorf("%w: message %s quotes %s, which is not an earlier origin", ErrCorruptCheckpoint, m.ID, m.QuoteID)
		}
		origin[m.ID] = m.QuoteID == ""
	}
	for _, u := range cp.Env.Users {
		for _, list := range [][]string{u.Likes, u.Reposts} {
			for _, id := range list {
				if !origin[id] {
					return fmt.Errorf("%w: user %s references %s, which is not an origin", ErrCorruptCheckpoint, u.ID, id)
				}
			}
		}
	}
	return nil
}

// Load rebuilds an environment from a checkpoint at path. Agent memory is
// read from the memory.db next to it.
func Load(ctx context.Context, path string, deps agent.Deps, rec *recommender.Recommender, emb Embedder, obs Observer, logger *zap.Logger) (*Environment, error) {
	cp, err := ReadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := cp.Verify(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	archive, err := memory.OpenArchive(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	defer archive.Close()

	env := NewEnvironment(rec, emb, obs, logger)
	for _, us := range cp.Env.Users {
		a, err := agent.Load(ctx, us.ID, us.Agent, archive, deps)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		u := NewUser(us.ID, us.Info, a, us.Following, us.Followers)
		u.Posts = us.Posts
		u.Likes = us.Likes
		u.Reposts = us.Reposts
		env.AddUser(u)
	}
	for i := range cp.Env.Messages {
		m := cp.Env.Messages[i]
		env.AddMessage(ctx, &m, false)
	}
	env.log = cp.Env.Log

	now, err := timeutil.Parse(cp.Env.Now)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var iv timeutil.Interval
	if cp.Env.Interval != "" {
		if iv, err = timeutil.ParseInterval(cp.Env.Interval); err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
	}
	env.AdvanceTime(now, iv)
	logger.Info("checkpoint loaded",
		zap.String("path", path),
		zap.Int("users", len(cp.Env.Users)),
		zap.Int("messages", len(cp.Env.Messages)))
	return env, nil
}
