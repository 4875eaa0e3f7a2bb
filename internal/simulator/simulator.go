// Package simulator advances a platform environment through simulated
// time: it builds the initial state from a dataset, replays history into
// agent memory and then steps every active agent on a bounded worker pool.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/agent"
	"github.com/nidhogg/agora/internal/dataset"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/timeutil"
)

// Scheduling modes.
const (
	ModePlanned = "planned"
	ModeFixed   = "fixed"
)

// React strategies.
const (
	StrategyOne   = "one"
	StrategyBatch = "batch"
)

const (
	replayBatchSize = 20
	previousPosts   = 3
)

// Config drives a simulation run.
type Config struct {
	InitBegin    time.Time
	InitEnd      time.Time
	InitInterval timeutil.Interval // replay bucket and portrait interval
	SimBegin     time.Time
	SimEnd       time.Time
	Interval     timeutil.Interval // step length

	Mode       string
	Strategy   string
	Workers    int
	RecommendK int
	InitPosts  int
	ForcePost  bool

	SavePath string
	DataPath string // dataset file rewritten with cached meta; empty skips
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModePlanned
	}
	if c.Strategy == "" {
		c.Strategy = StrategyBatch
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.RecommendK <= 0 {
		c.RecommendK = 10
	}
	if c.InitPosts <= 0 {
		c.InitPosts = 200
	}
	return c
}

// AgentFactory builds the agent for a dataset user.
type AgentFactory func(id string, info map[string]any) agent.Agent

// Simulator owns one run.
type Simulator struct {
	cfg      Config
	data     *dataset.Data
	env      *platform.Environment
	newAgent AgentFactory
	pool     *ants.Pool
	logger   *zap.Logger

	prevMu sync.Mutex
	prev   map[string][]string
}

// New creates a simulator over env, which is either empty (call Init) or
// loaded from a checkpoint. History for the init window is derived from
// data immediately.
func New(cfg Config, data *dataset.Data, env *platform.Environment, newAgent AgentFactory, logger *zap.Logger) (*Simulator, error) {
	cfg = cfg.withDefaults()
	switch cfg.Mode {
	case ModePlanned, ModeFixed:
	default:
		return nil, fmt.Errorf("new simulator: unknown mode %q", cfg.Mode)
	}
	switch cfg.Strategy {
	case StrategyOne, StrategyBatch:
	default:
		return nil, fmt.Errorf("new simulator: unknown react strategy %q", cfg.Strategy)
	}
	if cfg.Interval.IsZero() {
		return nil, fmt.Errorf("new simulator: step interval must advance time")
	}
	if cfg.InitInterval.IsZero() {
		return nil, fmt.Errorf("new simulator: replay interval must advance time")
	}
	if err := data.MakeHistory(cfg.InitBegin, cfg.InitEnd); err != nil {
		return nil, fmt.Errorf("new simulator: %w", err)
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		logger.Error("worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Simulator{
		cfg:      cfg,
		data:     data,
		env:      env,
		newAgent: newAgent,
		pool:     pool,
		logger:   logger,
		prev:     make(map[string][]string),
	}, nil
}

// Env returns the environment being simulated.
func (s *Simulator) Env() *platform.Environment { return s.env }

// Close releases the worker pool.
func (s *Simulator) Close() { s.pool.Release() }

// Run steps from the environment clock until SimEnd, saving a checkpoint
// at every midnight. It stops between steps when ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	now := s.env.Now()
	if now.IsZero() {
		now = s.cfg.SimBegin
		s.env.AdvanceTime(now, s.cfg.Interval)
	}
	for now.Before(s.cfg.SimEnd) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Info("simulating", zap.String("at", timeutil.Format(now)))
		if err := s.Step(ctx, now); err != nil {
			return fmt.Errorf("step %s: %w", timeutil.Format(now), err)
		}
		now = s.cfg.Interval.AddTo(now)
		s.env.AdvanceTime(now, s.cfg.Interval)
		if timeutil.IsMidnight(now) {
			if _, err := s.env.Save(ctx, platform.CheckpointDir(s.cfg.SavePath, now)); err != nil {
				return err
			}
		}
	}
	s.logger.Info("simulation finished", zap.String("at", timeutil.Format(now)))
	return nil
}

// Step runs one tick at now. In planned mode a midnight tick first has
// every agent plan its day. The step returns once every dispatched task
// has finished.
func (s *Simulator) Step(ctx context.Context, now time.Time) error {
	users := s.env.Users()
	if s.cfg.Mode == ModePlanned && timeutil.IsMidnight(now) {
		if err := s.each(users, func(u platform.User) error {
			slots := u.Agent.MakePlan(ctx, now)
			s.logger.Debug("plan", zap.String("user", u.ID), zap.Strings("slots", slots))
			return nil
		}); err != nil {
			return err
		}
	}

	active := users[:0:0]
	for _, u := range users {
		if s.cfg.Mode == ModeFixed || u.Agent.ActiveAt(now) {
			active = append(active, u)
		}
	}
	s.logger.Debug("active users", zap.Int("active", len(active)), zap.Int("total", len(users)))
	return s.each(active, func(u platform.User) error {
		return s.simulateUser(ctx, u, now)
	})
}

// each runs fn for every user on the pool and returns the first error.
func (s *Simulator) each(users []platform.User, fn func(platform.User) error) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	for _, u := range users {
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			if err := fn(u); err != nil {
				record(fmt.Errorf("user %s: %w", u.ID, err))
			}
		}); err != nil {
			wg.Done()
			record(fmt.Errorf("submit user %s: %w", u.ID, err))
		}
	}
	wg.Wait()
	return firstErr
}

func (s *Simulator) simulateUser(ctx context.Context, u platform.User, now time.Time) error {
	msgs, err := s.env.Distribute(u.ID, s.cfg.Interval.SubFrom(now), now, s.cfg.RecommendK)
	if err != nil {
		return err
	}
	s.logger.Debug("read", zap.String("user", u.ID), zap.Int("messages", len(msgs)))

	switch s.cfg.Strategy {
	case StrategyOne:
		for _, m := range msgs {
			if err := s.apply(ctx, u.ID, m, u.Agent.React(ctx, m.Text, now), now); err != nil {
				return err
			}
		}
	case StrategyBatch:
		texts := make([]string, len(msgs))
		for i, m := range msgs {
			texts[i] = m.Text
		}
		reactions := u.Agent.ReactAll(ctx, texts, now)
		for i, m := range msgs {
			if err := s.apply(ctx, u.ID, m, reactions[i], now); err != nil {
				return err
			}
		}
	}

	previous, err := s.previousPosts(u.ID)
	if err != nil {
		return err
	}
	for _, a := range u.Agent.Generate(ctx, previous, now, s.cfg.ForcePost) {
		m, err := s.env.Post(ctx, u.ID, a.Text, now)
		if err != nil {
			return err
		}
		s.env.LogAct(ctx, u.ID, m.ID, a, false)
		s.logger.Info("post", zap.String("user", u.ID), zap.String("message", m.ID))
	}
	return nil
}

// apply records the likes and reposts in acts against m and logs every act.
func (s *Simulator) apply(ctx context.Context, userID string, m platform.Message, acts []act.Act, now time.Time) error {
	for _, a := range acts {
		switch {
		case a.Kind == act.KindLike:
			if _, err := s.env.Like(userID, m.ID, now); err != nil {
				return err
			}
		case a.Kind.IsRepost():
			if _, err := s.env.Repost(ctx, userID, m.ID, "", now); err != nil {
				return err
			}
		}
		s.env.LogAct(ctx, userID, m.ID, a, false)
	}
	return nil
}

// previousPosts returns the user's last historical posts before InitEnd.
func (s *Simulator) previousPosts(uid string) ([]string, error) {
	s.prevMu.Lock()
	defer s.prevMu.Unlock()
	if p, ok := s.prev[uid]; ok {
		return p, nil
	}
	hist, err := s.data.HistoryBetween(uid, time.Time{}, s.cfg.InitEnd)
	if err != nil {
		if errors.Is(err, dataset.ErrMetaNotFound) {
			s.prev[uid] = nil
			return nil, nil
		}
		return nil, err
	}
	var posts []string
	for _, h := range hist {
		if h.Type == dataset.TypePost {
			posts = append(posts, h.Text)
		}
	}
	if len(posts) > previousPosts {
		posts = posts[len(posts)-previousPosts:]
	}
	s.prev[uid] = posts
	return posts, nil
}

// InitDir is where the post-init checkpoint is written.
func (s *Simulator) InitDir() string { return filepath.Join(s.cfg.SavePath, "model_init") }
