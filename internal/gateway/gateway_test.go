package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/timeutil"
)

type fakeMirror struct {
	name       string
	connectErr error
	sendErr    error

	mu   sync.Mutex
	sent []*Post
}

func (f *fakeMirror) Platform() string              { return f.name }
func (f *fakeMirror) Connect(context.Context) error { return f.connectErr }
func (f *fakeMirror) Close() error                  { return nil }
func (f *fakeMirror) Send(_ context.Context, p *Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

func TestBroadcaster(t *testing.T) {
	ctx := context.Background()
	since := timeutil.MustParse("2024-01-03 00:00:00")
	b := NewBroadcaster(since, zap.NewNop())

	ok := &fakeMirror{name: "ok"}
	failing := &fakeMirror{name: "failing", sendErr: errors.New("boom")}
	down := &fakeMirror{name: "down", connectErr: errors.New("refused")}
	for _, m := range []Mirror{ok, failing} {
		if err := b.Register(ctx, m); err != nil {
			t.Fatalf("register %s: %v", m.Platform(), err)
		}
	}
	if err := b.Register(ctx, down); err == nil {
		t.Error("expected connect error")
	}
	if b.Len() != 2 {
		t.Fatalf("got %d mirrors, want 2", b.Len())
	}

	b.Start(ctx)
	replayed := platform.Message{ID: "0", Type: platform.TypePost, AuthorID: "u1", Text: "old", Timestamp: timeutil.MustParse("2024-01-02 10:00:00")}
	live := platform.Message{ID: "1", Type: platform.TypeRepost, AuthorID: "u2", QuoteID: "0", Text: "old", Timestamp: timeutil.MustParse("2024-01-03 01:00:00")}
	for _, m := range []platform.Message{replayed, live} {
		if err := b.MessageCreated(ctx, m); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(ok.sent) != 1 || ok.sent[0].MessageID != "1" {
		t.Fatalf("got %v, want only message 1", ok.sent)
	}
	h := b.History(0)
	if len(h) != 1 || len(h[0].Targets) != 1 || h[0].Targets[0] != "ok" {
		t.Errorf("got history %+v, want one record targeting ok", h)
	}
}

func TestBroadcaster_NoMirrors(t *testing.T) {
	b := NewBroadcaster(timeutil.MustParse("2024-01-01 00:00:00"), zap.NewNop())
	b.Start(context.Background())
	_ = b.MessageCreated(context.Background(), platform.Message{ID: "0", Timestamp: timeutil.MustParse("2024-02-01 00:00:00")})
	_ = b.Close()
	if len(b.History(10)) != 0 {
		t.Error("nothing should be delivered without mirrors")
	}
}

func TestBroadcaster_HistoryIsCapped(t *testing.T) {
	b := NewBroadcaster(timeutil.MustParse("2024-01-01 00:00:00"), zap.NewNop())
	for i := 0; i < historyLimit+5; i++ {
		b.deliver(context.Background(), &Post{MessageID: strconv.Itoa(i)})
	}
	h := b.History(0)
	if len(h) != historyLimit {
		t.Fatalf("got %d records, want %d", len(h), historyLimit)
	}
	if h[0].Post.MessageID != "5" || h[len(h)-1].Post.MessageID != strconv.Itoa(historyLimit+4) {
		t.Errorf("got oldest %s newest %s", h[0].Post.MessageID, h[len(h)-1].Post.MessageID)
	}
}

func TestHeadline(t *testing.T) {
	ts := timeutil.MustParse("2024-01-03 01:00:00")
	post := &Post{MessageID: "1", AuthorID: "u1", SimTime: ts}
	if got := post.Headline(); got != "@u1 · 2024-01-03 01:00:00" {
		t.Errorf("got %q", got)
	}
	repost := &Post{MessageID: "2", AuthorID: "u2", QuoteID: "1", SimTime: ts}
	if got := repost.Headline(); got != "@u2 reposted #1 · 2024-01-03 01:00:00" {
		t.Errorf("got %q", got)
	}
	if e := discordEmbed(repost); e.Title != "Repost of #1" || e.Author.Name != "@u2" {
		t.Errorf("got embed %+v", e)
	}
}

func TestSlackMirror(t *testing.T) {
	var mu sync.Mutex
	var posted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/auth.test"):
			_, _ = w.Write([]byte(`{"ok":true,"team":"sim","user":"agora"}`))
		case strings.HasSuffix(r.URL.Path, "/chat.postMessage"):
			_ = r.ParseForm()
			mu.Lock()
			posted = append(posted, r.Form.Get("channel")+"|"+r.Form.Get("username")+"|"+r.Form.Get("text"))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewSlackMirror("xoxb-test", "C1", zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	p := &Post{MessageID: "1", AuthorID: "u1", Text: "hello", SimTime: timeutil.MustParse("2024-01-03 01:00:00")}
	if err := m.Send(ctx, p); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(posted) != 1 || !strings.HasPrefix(posted[0], "C1|u1|") || !strings.Contains(posted[0], "hello") {
		t.Errorf("got %v", posted)
	}
}
