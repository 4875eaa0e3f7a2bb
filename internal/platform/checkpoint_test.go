package platform

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/agent"
	"github.com/nidhogg/agora/internal/agenttest"
	"github.com/nidhogg/agora/internal/memory"
	"github.com/nidhogg/agora/internal/recommender"
	"github.com/nidhogg/agora/internal/timeutil"
)

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	deps := agent.Deps{
		Completer: agenttest.NewCompleter().WithFallback("I remember a cat."),
		Embedder:  agenttest.NewEmbedder(8),
		Memory:    memory.DefaultOptions(""),
		Logger:    zap.NewNop(),
	}
	env := newTestEnv(nil)
	llm := agent.NewLLMAgent("a", map[string]any{"name": "Ann"}, deps)
	llm.SetCharacteristics("curious")
	llm.Memory().AddObservation(ctx, "saw a cat", testNow.Add(-time.Hour))
	env.AddUser(NewUser("a", map[string]any{"name": "Ann"}, llm, []string{"b"}, nil))
	addNaive(env, "b")

	m0, _ := env.Post(ctx, "b", "cats", testNow)
	if _, err := env.Like("a", m0.ID, testNow); err != nil {
		t.Fatal(err)
	}
	m1, _ := env.Repost(ctx, "a", m0.ID, "", testNow)
	env.LogAct(ctx, "a", m1.ID, act.New(act.KindRetweet, "cats", testNow), false)

	dir := CheckpointDir(t.TempDir(), testNow)
	path, err := env.Save(ctx, dir)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "model_2024-03-01_12:00:00" {
		t.Errorf("unexpected checkpoint path %s", path)
	}

	back, err := Load(ctx, path, deps, recommender.New(recommender.Config{}), agenttest.NewEmbedder(8), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !back.Now().Equal(testNow) || back.Interval() != timeutil.MustParseInterval("1H") {
		t.Errorf("clock %s/%s did not round-trip", timeutil.Format(back.Now()), back.Interval())
	}
	if back.Stats() != env.Stats() {
		t.Errorf("got %+v, want %+v", back.Stats(), env.Stats())
	}

	want, got := env.Messages(0), back.Messages(0)
	for i := range want {
		w, g := want[i], got[i]
		if w.ID != g.ID || w.Type != g.Type || w.Text != g.Text || w.AuthorID != g.AuthorID || w.QuoteID != g.QuoteID || !w.Timestamp.Equal(g.Timestamp) {
			t.Errorf("message %d: got %+v, want %+v", i, g, w)
		}
		if len(w.LikedBy) != len(g.LikedBy) || len(w.RepostedBy) != len(g.RepostedBy) {
			t.Errorf("message %d attributions differ", i)
		}
		for j := range w.Embedding {
			if math.Abs(float64(w.Embedding[j]-g.Embedding[j])) > 1e-6 {
				t.Errorf("message %d embedding differs at %d", i, j)
			}
		}
	}

	u, err := back.User("a")
	if err != nil {
		t.Fatal(err)
	}
	if u.Agent.Type() != agent.TypeLLM || u.Agent.Characteristics() != "curious" {
		t.Errorf("agent %s %q did not round-trip", u.Agent.Type(), u.Agent.Characteristics())
	}
	if len(u.Likes) != 1 || len(u.Reposts) != 1 || len(u.Following) != 1 {
		t.Errorf("got %+v", u)
	}
	if u.Agent.(*agent.LLMAgent).Memory().Len() != 1 {
		t.Error("memory records did not round-trip")
	}
	b, _ := back.User("b")
	if b.Agent.Type() != agent.TypeNaive {
		t.Errorf("got %s, want NaiveAgent", b.Agent.Type())
	}

	log := back.Log("", 0)
	if len(log) != 1 || log[0].MessageID != m1.ID || log[0].Act.Kind != act.KindRetweet {
		t.Errorf("got log %+v", log)
	}
}

func TestReadCheckpointMissing(t *testing.T) {
	if _, err := ReadCheckpoint(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for a missing checkpoint")
	}
}

func TestCheckpointVerify(t *testing.T) {
	valid := func() Checkpoint {
		return Checkpoint{Env: EnvState{
			Messages: []Message{
				{ID: "0", Type: TypePost},
				{ID: "1", Type: TypeRepost, QuoteID: "0"},
			},
			Users: []UserState{{ID: "a", Likes: []string{"0"}, Reposts: []string{"0"}}},
		}}
	}
	if err := valid().Verify(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Checkpoint)
	}{
		{"gap in ids", func(cp *Checkpoint) { cp.Env.Messages[1].ID = "2" }},
		{"quote of repost", func(cp *Checkpoint) {
			cp.Env.Messages = append(cp.Env.Messages, Message{ID: "2", Type: TypeRepost, QuoteID: "1"})
		}},
		{"forward quote", func(cp *Checkpoint) { cp.Env.Messages[0].QuoteID = "1" }},
		{"like of repost", func(cp *Checkpoint) { cp.Env.Users[0].Likes = []string{"1"} }},
		{"unknown repost", func(cp *Checkpoint) { cp.Env.Users[0].Reposts = []string{"9"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := valid()
			tt.mutate(&cp)
			if err := cp.Verify(); !errors.Is(err, ErrCorruptCheckpoint) {
				t.Errorf("got %v, want ErrCorruptCheckpoint", err)
			}
		})
	}
}
