package platform

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/agent"
	"github.com/nidhogg/agora/internal/agenttest"
	"github.com/nidhogg/agora/internal/recommender"
	"github.com/nidhogg/agora/internal/timeutil"
)

var testNow = timeutil.MustParse("2024-03-01 12:00:00")

func newTestEnv(obs Observer) *Environment {
	env := NewEnvironment(recommender.New(recommender.Config{}), agenttest.NewEmbedder(8), obs, zap.NewNop())
	env.AdvanceTime(testNow, timeutil.MustParseInterval("1H"))
	return env
}

func addNaive(env *Environment, id string, following ...string) {
	env.AddUser(NewUser(id, map[string]any{"name": id}, agent.NewNaiveAgent(nil), following, nil))
}

func TestRepostChainQuotesOrigin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(nil)
	addNaive(env, "a")
	addNaive(env, "b")
	addNaive(env, "c")

	m0, err := env.Post(ctx, "a", "root", testNow)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	m1, err := env.Repost(ctx, "b", m0.ID, "", testNow)
	if err != nil {
		t.Fatalf("repost: %v", err)
	}
	m2, err := env.Repost(ctx, "c", m1.ID, "", testNow)
	if err != nil {
		t.Fatalf("repost of repost: %v", err)
	}
	if m2.QuoteID != m0.ID {
		t.Errorf("got quote %s, want %s", m2.QuoteID, m0.ID)
	}
	if m2.Text != "root" {
		t.Errorf("got text %q, want root", m2.Text)
	}

	for _, m := range env.Messages(0) {
		origin, err := env.Message(m.OriginID())
		if err != nil {
			t.Fatalf("origin of %s: %v", m.ID, err)
		}
		if origin.OriginID() != m.OriginID() {
			t.Errorf("origin of %s is not idempotent", m.ID)
		}
		if origin.QuoteID != "" {
			t.Errorf("origin %s quotes %s", origin.ID, origin.QuoteID)
		}
	}

	root, _ := env.Message(m0.ID)
	if len(root.RepostedBy) != 2 {
		t.Errorf("got %d repost attributions, want 2", len(root.RepostedBy))
	}
	c, _ := env.User("c")
	if len(c.Reposts) != 1 || c.Reposts[0] != m0.ID {
		t.Errorf("got reposts %v, want [%s]", c.Reposts, m0.ID)
	}
}

func TestConcurrentCreateAssignsDenseIDs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(nil)
	addNaive(env, "a")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := env.Post(ctx, "a", "post "+strconv.Itoa(i), testNow); err != nil {
				t.Errorf("post: %v", err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, m := range env.Messages(0) {
		if m.ID != strconv.Itoa(i) {
			t.Errorf("message %d has id %s", i, m.ID)
		}
		seen[m.ID] = true
	}
	if len(seen) != n {
		t.Errorf("got %d unique ids, want %d", len(seen), n)
	}
	u, _ := env.User("a")
	if len(u.Posts) != n {
		t.Errorf("got %d posts on user, want %d", len(u.Posts), n)
	}
}

func TestLikeRecordsOrigin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(nil)
	addNaive(env, "a")
	addNaive(env, "b")
	m0, _ := env.Post(ctx, "a", "root", testNow)
	m1, _ := env.Repost(ctx, "a", m0.ID, "", testNow)

	origin, err := env.Like("b", m1.ID, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if origin.ID != m0.ID || len(origin.LikedBy) != 1 || origin.LikedBy[0].UserID != "b" {
		t.Errorf("got %+v", origin)
	}
	b, _ := env.User("b")
	if len(b.Likes) != 1 || b.Likes[0] != m0.ID {
		t.Errorf("got likes %v", b.Likes)
	}

	if _, err := env.Like("b", "999", testNow); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("got %v, want ErrMessageNotFound", err)
	}
	if _, err := env.Like("zz", m0.ID, testNow); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("got %v, want ErrUserNotFound", err)
	}
}

func TestDistribute(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(nil)
	addNaive(env, "reader", "friend")
	addNaive(env, "loner")
	addNaive(env, "friend")
	addNaive(env, "stranger")

	for i := 0; i < 3; i++ {
		if _, err := env.Post(ctx, "friend", "friend post "+strconv.Itoa(i), testNow.Add(-time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		m, _ := env.Post(ctx, "stranger", "stranger post "+strconv.Itoa(i), testNow.Add(-time.Duration(i)*time.Hour))
		if _, err := env.Repost(ctx, "stranger", m.ID, "", testNow); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("followed authors always included", func(t *testing.T) {
		got, err := env.Distribute("reader", testNow.Add(-time.Hour), testNow, 4)
		if err != nil {
			t.Fatal(err)
		}
		friend := 0
		seen := make(map[string]bool)
		for _, m := range got {
			if seen[m.ID] {
				t.Errorf("duplicate message %s", m.ID)
			}
			seen[m.ID] = true
			if !m.IsOrigin() {
				t.Errorf("distributed repost %s", m.ID)
			}
			if m.AuthorID == "friend" {
				friend++
			}
		}
		if friend != 3 {
			t.Errorf("got %d followed posts, want 3", friend)
		}
	})

	t.Run("no likes and no follows gets popularity half", func(t *testing.T) {
		got, err := env.Distribute("loner", testNow.Add(-time.Hour), testNow, 6)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 0 || len(got) > 3 {
			t.Errorf("got %d candidates, want 1..3", len(got))
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, err := env.Distribute("nobody", testNow, testNow, 4); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("got %v, want ErrUserNotFound", err)
		}
	})
}

func TestLogActTimestamps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(nil)
	past := testNow.Add(-48 * time.Hour)

	live := env.LogAct(ctx, "a", "1", act.New(act.KindLike, "x", past), false)
	replayed := env.LogAct(ctx, "a", "", act.New(act.KindPost, "y", past), true)
	if !live.Timestamp.Equal(testNow) {
		t.Errorf("live entry at %s, want clock time", timeutil.Format(live.Timestamp))
	}
	if !replayed.Timestamp.Equal(past) {
		t.Errorf("replayed entry at %s, want act time", timeutil.Format(replayed.Timestamp))
	}
	if got := env.Log("a", 1); len(got) != 1 || got[0].Act.Kind != act.KindPost {
		t.Errorf("got %v", got)
	}
	if env.Stats().Log != 2 {
		t.Errorf("got %d entries, want 2", env.Stats().Log)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	messages []string
	acts     int
	fail     bool
}

func (r *recordingObserver) MessageCreated(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m.ID)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingObserver) ActLogged(context.Context, LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acts++
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingObserver) CheckpointSaved(context.Context, time.Time, string) error { return nil }

func TestObserversFanOut(t *testing.T) {
	ctx := context.Background()
	broken := &recordingObserver{fail: true}
	healthy := &recordingObserver{}
	env := newTestEnv(NewObservers(zap.NewNop(), broken, healthy))
	addNaive(env, "a")

	m, err := env.Post(ctx, "a", "hello", testNow)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	env.LogAct(ctx, "a", m.ID, act.New(act.KindPost, "hello", testNow), false)

	if len(healthy.messages) != 1 || healthy.acts != 1 {
		t.Errorf("healthy observer got %d messages, %d acts", len(healthy.messages), healthy.acts)
	}
	if len(broken.messages) != 1 {
		t.Errorf("broken observer got %d messages", len(broken.messages))
	}
}
