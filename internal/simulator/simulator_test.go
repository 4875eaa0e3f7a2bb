package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/agent"
	"github.com/nidhogg/agora/internal/agenttest"
	"github.com/nidhogg/agora/internal/dataset"
	"github.com/nidhogg/agora/internal/memory"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/recommender"
	"github.com/nidhogg/agora/internal/timeutil"
)

func ts(s string) time.Time { return timeutil.MustParse(s) }

func testData() *dataset.Data {
	users := []dataset.User{
		{ID: "u1", Info: map[string]any{"name": "Ann"}, Posts: []string{"p1", "p2"}, Likes: []string{"p3"}, Following: []string{"u2"}},
		{ID: "u2", Info: map[string]any{"name": "Bo"}, Posts: []string{"p3"}, Followers: []string{"u1"}},
	}
	posts := []dataset.Post{
		{ID: "p1", AuthorID: "u1", Timestamp: ts("2024-01-01 08:00:00"), Text: "morning all", Type: dataset.TypePost},
		{ID: "p3", AuthorID: "u2", Timestamp: ts("2024-01-02 09:00:00"), Text: "bo says hi", Type: dataset.TypePost},
		{ID: "p2", AuthorID: "u1", QuoteID: "p3", Timestamp: ts("2024-01-02 10:00:00"), Text: "bo says hi", Type: dataset.TypeRetweet},
	}
	return dataset.New(users, posts)
}

func testCompleter() *agenttest.Completer {
	return agenttest.NewCompleter().
		WithRule("When will you be on social media today?", `["10:00-11:00"]`).
		WithRule("A new post appears", `{"Like":"yes","Repost":"no"}`).
		WithRule("Do you want to post something?", `{"Post":"hello from sim"}`).
		WithRule("The user's recent activity", "You are a tester.").
		WithFallback("a memory")
}

type harness struct {
	sim       *Simulator
	data      *dataset.Data
	completer *agenttest.Completer
	deps      agent.Deps
	cfg       Config
}

func newHarness(t *testing.T, mode, strategy string) *harness {
	t.Helper()
	c := testCompleter()
	deps := agent.Deps{
		Completer: c,
		Embedder:  agenttest.NewEmbedder(16),
		Memory:    memory.DefaultOptions(""),
		Logger:    zap.NewNop(),
	}
	cfg := Config{
		InitBegin:    ts("2024-01-01 00:00:00"),
		InitEnd:      ts("2024-01-03 00:00:00"),
		InitInterval: timeutil.MustParseInterval("1d"),
		SimBegin:     ts("2024-01-03 00:00:00"),
		SimEnd:       ts("2024-01-04 00:00:00"),
		Interval:     timeutil.MustParseInterval("12H"),
		Mode:         mode,
		Strategy:     strategy,
		Workers:      4,
		SavePath:     t.TempDir(),
	}
	data := testData()
	env := platform.NewEnvironment(recommender.New(recommender.Config{}), deps.Embedder, nil, zap.NewNop())
	factory := func(id string, info map[string]any) agent.Agent { return agent.NewLLMAgent(id, info, deps) }
	sim, err := New(cfg, data, env, factory, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(sim.Close)
	return &harness{sim: sim, data: data, completer: c, deps: deps, cfg: cfg}
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	env := platform.NewEnvironment(recommender.New(recommender.Config{}), agenttest.NewEmbedder(4), nil, zap.NewNop())
	_, err := New(Config{Mode: "sometimes"}, testData(), env, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = New(Config{Strategy: "all"}, testData(), env, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_RejectsZeroIntervals(t *testing.T) {
	env := platform.NewEnvironment(recommender.New(recommender.Config{}), agenttest.NewEmbedder(4), nil, zap.NewNop())
	day := timeutil.MustParseInterval("1d")

	_, err := New(Config{Interval: timeutil.MustParseInterval("0H"), InitInterval: day}, testData(), env, nil, zap.NewNop())
	assert.ErrorContains(t, err, "step interval")
	_, err = New(Config{Interval: day}, testData(), env, nil, zap.NewNop())
	assert.ErrorContains(t, err, "replay interval")
}

func TestInit(t *testing.T) {
	h := newHarness(t, ModeFixed, StrategyBatch)
	ctx := context.Background()

	path, err := h.sim.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.cfg.SavePath, "model_init", platform.CheckpointFile), path)
	_, err = os.Stat(filepath.Join(h.cfg.SavePath, "model_init", memory.ArchiveFile))
	assert.NoError(t, err)

	env := h.sim.Env()
	assert.True(t, env.Now().Equal(h.cfg.SimBegin))

	// Three seeded posts, then the replayed post, post and repost.
	msgs := env.Messages(0)
	require.Len(t, msgs, 6)
	assert.Equal(t, platform.TypeRepost, msgs[5].Type)
	assert.Equal(t, "4", msgs[5].QuoteID)
	assert.Len(t, msgs[4].LikedBy, 1)
	assert.Len(t, msgs[4].RepostedBy, 1)

	log := env.Log("", 0)
	require.Len(t, log, 4)
	assert.True(t, log[0].Timestamp.Equal(ts("2024-01-01 08:00:00")), "replay logs carry act time")

	u1, err := env.User("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, u1.Posts)
	assert.Equal(t, []string{"4"}, u1.Likes)
	assert.Equal(t, []string{"4"}, u1.Reposts)
	assert.Equal(t, "You are a tester.", u1.Agent.Characteristics())
	assert.Equal(t, "You are a tester.", h.data.MetaOrDefault(dataset.MetaProfile, "u1", ""))

	llm := u1.Agent.(*agent.LLMAgent)
	// Two replayed days each add one batch record and one reflection.
	assert.Equal(t, 4, llm.Memory().Len())
}

func TestInit_ReusesCachedProfile(t *testing.T) {
	h := newHarness(t, ModeFixed, StrategyBatch)
	require.NoError(t, h.data.SetMeta(dataset.MetaProfile, "u1", "cached portrait"))
	require.NoError(t, h.data.SetMeta(dataset.MetaProfile, "u2", "cached portrait"))

	_, err := h.sim.Init(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.completer.CallsContaining("The user's recent activity"))
	u2, _ := h.sim.Env().User("u2")
	assert.Equal(t, "cached portrait", u2.Agent.Characteristics())
}

func TestStep_FixedBatch(t *testing.T) {
	h := newHarness(t, ModeFixed, StrategyBatch)
	ctx := context.Background()
	_, err := h.sim.Init(ctx)
	require.NoError(t, err)
	env := h.sim.Env()
	before := env.Stats()

	now := env.Now()
	require.NoError(t, h.sim.Step(ctx, now))

	after := env.Stats()
	assert.Equal(t, before.Messages+2, after.Messages, "each user posts once")

	for _, e := range env.Log("", 0)[before.Log:] {
		assert.True(t, e.Timestamp.Equal(now), "live logs carry the clock time")
	}
	u1, _ := env.User("u1")
	assert.Contains(t, u1.Likes, "1", "followed author's seeded post is liked")
	assert.Len(t, u1.Posts, 2)

	last, err := env.Message(u1.Posts[1])
	require.NoError(t, err)
	assert.Equal(t, "hello from sim", last.Text)
	assert.True(t, last.Timestamp.Equal(now))
}

func TestStep_OneAtATimeAppliesEachMessage(t *testing.T) {
	h := newHarness(t, ModeFixed, StrategyOne)
	ctx := context.Background()
	_, err := h.sim.Init(ctx)
	require.NoError(t, err)
	env := h.sim.Env()
	before := env.Stats().Log

	require.NoError(t, h.sim.Step(ctx, env.Now()))

	likes := 0
	reads := 0
	for _, e := range env.Log("u2", 0) {
		switch e.Act.Kind {
		case act.KindLike:
			likes++
		case act.KindRead:
			reads++
		}
	}
	assert.Positive(t, reads)
	assert.Equal(t, reads, likes, "every read message gets its own like")
	assert.Greater(t, env.Stats().Log, before)
}

func TestStep_PlannedMode(t *testing.T) {
	h := newHarness(t, ModePlanned, StrategyBatch)
	ctx := context.Background()
	_, err := h.sim.Init(ctx)
	require.NoError(t, err)
	env := h.sim.Env()
	base := env.Stats().Messages

	midnight := ts("2024-01-03 00:00:00")
	require.NoError(t, h.sim.Step(ctx, midnight))
	assert.Equal(t, 2, h.completer.CallsContaining("When will you be on social media today?"))
	assert.Equal(t, base, env.Stats().Messages, "no one is active at midnight")

	morning := ts("2024-01-03 10:30:00")
	env.AdvanceTime(morning, timeutil.Interval{})
	require.NoError(t, h.sim.Step(ctx, morning))
	assert.Equal(t, base+2, env.Stats().Messages)
}

func TestRun_CheckpointsAtMidnight(t *testing.T) {
	h := newHarness(t, ModeFixed, StrategyBatch)
	ctx := context.Background()
	_, err := h.sim.Init(ctx)
	require.NoError(t, err)

	require.NoError(t, h.sim.Run(ctx))
	env := h.sim.Env()
	assert.True(t, env.Now().Equal(h.cfg.SimEnd))

	path := filepath.Join(platform.CheckpointDir(h.cfg.SavePath, h.cfg.SimEnd), platform.CheckpointFile)
	cp, err := platform.ReadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-04 00:00:00", cp.Env.Now)
	assert.Len(t, cp.Env.Messages, env.Stats().Messages)

	loaded, err := platform.Load(ctx, path, h.deps, recommender.New(recommender.Config{}), h.deps.Embedder, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, env.Stats(), loaded.Stats())
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, ModeFixed, StrategyBatch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.sim.Run(ctx), context.Canceled)
}

func TestPreviousPosts(t *testing.T) {
	h := newHarness(t, ModeFixed, StrategyBatch)
	got, err := h.sim.previousPosts("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"morning all"}, got, "reposts are not style samples")
}
