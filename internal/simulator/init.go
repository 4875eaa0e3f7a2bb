package simulator

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/dataset"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/timeutil"
)

type characterSetter interface {
	SetCharacteristics(string)
}

// Init builds the environment from the dataset: users, the most recent
// posts, profiles and replayed history. It writes the model_init
// checkpoint and returns its path.
func (s *Simulator) Init(ctx context.Context) (string, error) {
	for _, du := range s.data.Users {
		s.env.AddUser(platform.NewUser(du.ID, du.Info, s.newAgent(du.ID, du.Info), du.Following, du.Followers))
	}
	s.logger.Info("users registered", zap.Int("users", len(s.data.Users)))

	posts := s.data.Posts
	if len(posts) > s.cfg.InitPosts {
		posts = posts[len(posts)-s.cfg.InitPosts:]
	}
	for _, p := range posts {
		if _, err := s.env.CreateMessage(ctx, platform.TypePost, p.Text, p.AuthorID, p.Timestamp, ""); err != nil {
			return "", fmt.Errorf("init messages: %w", err)
		}
	}
	s.env.AdvanceTime(s.cfg.SimBegin, s.cfg.Interval)

	if err := s.Profiles(ctx); err != nil {
		return "", err
	}
	if err := s.saveData(); err != nil {
		return "", err
	}
	if err := s.Replay(ctx); err != nil {
		return "", err
	}
	if err := s.saveData(); err != nil {
		return "", err
	}

	path, err := s.env.Save(ctx, s.InitDir())
	if err != nil {
		return "", err
	}
	s.logger.Info("environment initialized", zap.String("checkpoint", path))
	return path, nil
}

func (s *Simulator) saveData() error {
	if s.cfg.DataPath == "" {
		return nil
	}
	return s.data.Save(s.cfg.DataPath)
}

// Profiles gives every agent its characteristics, reusing the portrait
// cached in dataset meta and caching fresh ones.
func (s *Simulator) Profiles(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, u := range s.env.Users() {
		g.Go(func() error {
			if cached := s.data.MetaOrDefault(dataset.MetaProfile, u.ID, ""); cached != "" {
				if cs, ok := u.Agent.(characterSetter); ok {
					cs.SetCharacteristics(cached)
				}
				return nil
			}
			hist, err := s.data.HistoryBetween(u.ID, s.cfg.InitBegin, s.cfg.InitEnd)
			if err != nil {
				return fmt.Errorf("profile %s: %w", u.ID, err)
			}
			portrait := u.Agent.Portrait(ctx, dataset.Acts(hist), s.cfg.InitBegin, s.cfg.InitEnd, s.cfg.InitInterval)
			if portrait == "" {
				return nil
			}
			return s.data.SetMeta(dataset.MetaProfile, u.ID, portrait)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("generate profiles: %w", err)
	}
	s.logger.Info("profiles ready")
	return nil
}

// Replay rebuilds platform and memory state from the init window. Message
// replay runs first and sequentially since it assigns ids and resolves
// quotes; memory replay then runs per user in parallel.
func (s *Simulator) Replay(ctx context.Context) error {
	if err := s.replayMessages(ctx); err != nil {
		return fmt.Errorf("replay messages: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, u := range s.env.Users() {
		g.Go(func() error { return s.replayMemory(gctx, u) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("replay memory: %w", err)
	}
	s.logger.Info("history replayed")
	return nil
}

func (s *Simulator) replayMessages(ctx context.Context) error {
	users := s.env.Users()
	pid2mid := make(map[string]string)

	for _, bucket := range timeutil.Buckets(s.cfg.InitBegin, s.cfg.InitEnd, s.cfg.InitInterval) {
		var step []dataset.HistoryEntry
		for _, u := range users {
			hist, err := s.data.HistoryBetween(u.ID, bucket[0], bucket[1])
			if err != nil {
				return err
			}
			step = append(step, hist...)
		}
		sort.SliceStable(step, func(i, j int) bool {
			if !step[i].Timestamp.Equal(step[j].Timestamp) {
				return step[i].Timestamp.Before(step[j].Timestamp)
			}
			// A like shares its post's timestamp; the post must exist first.
			return step[i].Type != dataset.TypeLike && step[j].Type == dataset.TypeLike
		})

		for _, h := range step {
			switch h.Type {
			case dataset.TypePost:
				if err := s.replayPost(ctx, h, pid2mid); err != nil {
					return err
				}
			case dataset.TypeRepost, dataset.TypeRetweet:
				quoted, ok := pid2mid[h.QuoteID]
				if h.QuoteID == "" || !ok {
					// The reposted message predates the window.
					if err := s.replayPost(ctx, h, pid2mid); err != nil {
						return err
					}
					continue
				}
				m, err := s.env.Repost(ctx, h.UserID, quoted, h.Text, h.Timestamp)
				if err != nil {
					return err
				}
				pid2mid[h.PostID] = m.ID
				s.env.LogAct(ctx, h.UserID, m.ID, act.New(act.KindRepost, m.Text, h.Timestamp), true)
			case dataset.TypeLike:
				mid, ok := pid2mid[h.PostID]
				if !ok {
					continue
				}
				origin, err := s.env.Like(h.UserID, mid, h.Timestamp)
				if err != nil {
					return err
				}
				s.env.LogAct(ctx, h.UserID, origin.ID, act.New(act.KindLike, origin.Text, h.Timestamp), true)
			}
		}
	}
	return nil
}

func (s *Simulator) replayPost(ctx context.Context, h dataset.HistoryEntry, pid2mid map[string]string) error {
	m, err := s.env.Post(ctx, h.UserID, h.Text, h.Timestamp)
	if err != nil {
		return err
	}
	pid2mid[h.PostID] = m.ID
	s.env.LogAct(ctx, h.UserID, m.ID, act.New(act.KindPost, m.Text, h.Timestamp), true)
	return nil
}

// replayMemory feeds each bucket of the user's history into memory in
// batches, then reflects on the bucket.
func (s *Simulator) replayMemory(ctx context.Context, u platform.User) error {
	for _, bucket := range timeutil.Buckets(s.cfg.InitBegin, s.cfg.InitEnd, s.cfg.InitInterval) {
		hist, err := s.data.HistoryBetween(u.ID, bucket[0], bucket[1])
		if err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
		if len(hist) == 0 {
			continue
		}
		acts := dataset.Acts(hist)
		for i := 0; i < len(acts); i += replayBatchSize {
			batch := acts[i:min(i+replayBatchSize, len(acts))]
			u.Agent.ReplayBatch(ctx, batch, batch[len(batch)-1].Timestamp)
		}
		u.Agent.DailyReflect(ctx, acts, hist[len(hist)-1].Timestamp)
	}
	return nil
}
