//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/agent"
	"github.com/nidhogg/agora/internal/agenttest"
	"github.com/nidhogg/agora/internal/events"
	"github.com/nidhogg/agora/internal/graph"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/recommender"
	"github.com/nidhogg/agora/internal/store"
	"github.com/nidhogg/agora/internal/timeutil"
)

var simNow = timeutil.MustParse("2024-01-08 00:00:00")

// populate drives a small environment through every observer hook: three
// messages, a like, a repost and a checkpoint.
func populate(t *testing.T, ctx context.Context, env *platform.Environment) {
	t.Helper()
	env.AddUser(platform.NewUser("alice", nil, agent.NewNaiveAgent(nil), []string{"bob"}, nil))
	env.AddUser(platform.NewUser("bob", nil, agent.NewNaiveAgent(nil), nil, []string{"alice"}))

	m0, err := env.Post(ctx, "bob", "the first post", simNow)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	env.LogAct(ctx, "bob", m0.ID, act.New(act.KindPost, m0.Text, simNow), false)
	if _, err := env.Like("alice", m0.ID, simNow); err != nil {
		t.Fatalf("like: %v", err)
	}
	env.LogAct(ctx, "alice", m0.ID, act.New(act.KindLike, m0.Text, simNow), false)
	m1, err := env.Repost(ctx, "alice", m0.ID, "", simNow)
	if err != nil {
		t.Fatalf("repost: %v", err)
	}
	env.LogAct(ctx, "alice", m1.ID, act.New(act.KindRetweet, m0.Text, simNow), false)
	if _, err := env.Save(ctx, platform.CheckpointDir(t.TempDir(), simNow)); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func newEnv(obs ...platform.Observer) *platform.Environment {
	env := platform.NewEnvironment(recommender.New(recommender.Config{}), agenttest.NewEmbedder(8),
		platform.NewObservers(testLogger, obs...), testLogger)
	env.AdvanceTime(simNow, timeutil.MustParseInterval("1H"))
	return env
}

func TestStoreMirrorsRun(t *testing.T) {
	ctx := context.Background()
	runID := uuid.NewString()
	s, err := store.New(ctx, testPGDSN, runID, testLogger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx, filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrations are idempotent.
	if err := s.Migrate(ctx, filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.StartRun(ctx, store.Run{Command: "simulate", Mode: "fixed", Strategy: "batch", SimBegin: simNow, SimEnd: simNow.Add(24 * time.Hour)}); err != nil {
		t.Fatalf("start run: %v", err)
	}

	populate(t, ctx, newEnv(s))

	if err := s.FinishRun(ctx, store.StatusFinished); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	r, err := s.Run(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if r.Status != store.StatusFinished || r.FinishedAt == nil {
		t.Errorf("got run %+v, want finished", r)
	}
	counts, err := s.ActCounts(ctx, runID)
	if err != nil {
		t.Fatalf("act counts: %v", err)
	}
	if counts["post"] != 1 || counts["like"] != 1 || counts["retweet"] != 1 {
		t.Errorf("got act counts %v", counts)
	}
	cps, err := s.Checkpoints(ctx, runID)
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if len(cps) != 1 || !cps[0].SimTime.Equal(simNow) {
		t.Errorf("got checkpoints %+v", cps)
	}
	runs, err := s.Runs(ctx, 10)
	if err != nil || len(runs) == 0 {
		t.Errorf("got runs %v, err %v", runs, err)
	}
	if _, err := s.Run(ctx, "missing"); err != store.ErrRunNotFound {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

func TestGraphMirrorsInteractions(t *testing.T) {
	ctx := context.Background()
	g, err := graph.New(ctx, testNeo4jURI, "", "", uuid.NewString(), testLogger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer g.Close(ctx)

	env := newEnv(g)
	populate(t, ctx, env)
	if err := g.SyncUsers(ctx, env.Users()); err != nil {
		t.Fatalf("sync users: %v", err)
	}

	top, err := g.TopInfluencers(ctx, 5)
	if err != nil {
		t.Fatalf("influencers: %v", err)
	}
	if len(top) == 0 || top[0].UserID != "bob" || top[0].Likes != 1 || top[0].Reposts != 1 {
		t.Errorf("got %+v, want bob with one like and one repost", top)
	}
}

func TestBusStreamsEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bus, err := events.New(testRedisURL, "agora:test:"+uuid.NewString(), testLogger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bus.Close()

	populate(t, ctx, newEnv(bus))

	kinds := map[string]int{}
	ch := bus.Subscribe(ctx, "0")
	for total := 0; total < 6; total++ {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed after %d events", total)
			}
			kinds[ev.Kind]++
		case <-ctx.Done():
			t.Fatalf("timed out after %d events: %v", total, kinds)
		}
	}
	if kinds[events.KindMessage] != 2 || kinds[events.KindAct] != 3 || kinds[events.KindCheckpoint] != 1 {
		t.Errorf("got %v, want 2 messages, 3 acts, 1 checkpoint", kinds)
	}
}
