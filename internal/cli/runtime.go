package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/agent"
	"github.com/nidhogg/agora/internal/config"
	"github.com/nidhogg/agora/internal/embedding"
	"github.com/nidhogg/agora/internal/events"
	"github.com/nidhogg/agora/internal/gateway"
	"github.com/nidhogg/agora/internal/graph"
	"github.com/nidhogg/agora/internal/memory"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/provider"
	"github.com/nidhogg/agora/internal/recommender"
	"github.com/nidhogg/agora/internal/simulator"
	"github.com/nidhogg/agora/internal/store"
	"github.com/nidhogg/agora/internal/vectorstore"
)

// runtime is everything one command invocation shares: config, the
// generation and embedding services and the optional sinks.
type runtime struct {
	cfg    *config.Config
	window config.Window
	runID  string
	logger *zap.Logger

	gen      *provider.Generator
	calls    *provider.CallLog
	embedder *embedding.Embedder
	rec      *recommender.Recommender

	observers *platform.Observers
	store     *store.Store
	graph     *graph.Graph
	bus       *events.Bus
	index     *vectorstore.MessageIndex
	mirrors   *gateway.Broadcaster
	async     []*platform.AsyncObserver
}

const sinkTimeout = 10 * time.Second

// attach adds a database sink to the fan-out behind its own delivery
// queue, so a stalled sink cannot hold up a step.
func (rt *runtime) attach(name string, obs platform.Observer) {
	a := platform.NewAsyncObserver(name, obs, 0, sinkTimeout, rt.logger)
	rt.async = append(rt.async, a)
	rt.observers.Add(a)
}

func newRuntime(ctx context.Context, command string) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	w, err := cfg.Window()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, window: w, runID: uuid.NewString(), logger: logger}
	logger.Info("starting agora",
		zap.String("command", command),
		zap.String("run", rt.runID),
		zap.String("config", getConfigPath()))

	router := provider.NewRouter(logger)
	for _, pc := range cfg.LLM.Providers {
		switch pc.Type {
		case "openai", "vllm", "":
			router.Register(provider.NewOpenAIProvider(pc, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.LLM.Default != "" {
		router.SetDefault(cfg.LLM.Default)
	}
	if cfg.LLM.SFT != "" {
		router.Bind(provider.RouteSFT, cfg.LLM.SFT)
	}
	if len(cfg.LLM.Fallbacks) > 0 {
		router.SetFallbacks(provider.RouteDefault, cfg.LLM.Fallbacks)
	}
	if cfg.LLM.CallLog != "" {
		if rt.calls, err = provider.OpenCallLog(cfg.LLM.CallLog); err != nil {
			return nil, err
		}
	}
	rt.gen = provider.NewGenerator(router, provider.GeneratorConfig{
		Model:     cfg.LLM.Model,
		FTModel:   cfg.LLM.FTModel,
		UseSFT:    cfg.LLM.UseSFT,
		Retries:   cfg.LLM.Retries,
		Backoff:   cfg.LLM.Backoff,
		QPS:       cfg.LLM.QPS,
		Burst:     cfg.LLM.Burst,
		MaxTokens: cfg.LLM.MaxTokens,
	}, rt.calls, logger)
	rt.embedder = embedding.NewEmbedder(embedding.New(cfg.Embedding), cfg.Embedding.Retries, time.Second, logger)
	rt.rec = recommender.New(recommender.Config{
		DecayFactor:   cfg.Ranking.DecayFactor,
		AffinityLikes: cfg.Ranking.AffinityLikes,
	})

	rt.observers = platform.NewObservers(logger)
	rt.openSinks(ctx, command)
	return rt, nil
}

// openSinks connects every configured sink. A sink that cannot be reached
// is skipped with a warning.
func (rt *runtime) openSinks(ctx context.Context, command string) {
	cfg, logger := rt.cfg, rt.logger

	if cfg.Database.Postgres.DSN != "" {
		s, err := store.New(ctx, cfg.Database.Postgres.DSN, rt.runID, logger)
		switch {
		case err != nil:
			logger.Warn("PostgreSQL unavailable, running without run persistence", zap.Error(err))
		default:
			if err := s.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
				logger.Warn("migration failed, running without run persistence", zap.Error(err))
				s.Close()
				break
			}
			if err := s.StartRun(ctx, store.Run{
				Command:  command,
				Mode:     cfg.Mode,
				Strategy: cfg.ReactStrategy,
				SimBegin: rt.window.SimBegin,
				SimEnd:   rt.window.SimEnd,
			}); err != nil {
				logger.Warn("record run failed", zap.Error(err))
			}
			rt.store = s
			rt.attach("postgres", s)
		}
	}

	if cfg.Database.Neo4j.URI != "" {
		g, err := graph.New(ctx, cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, rt.runID, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, running without interaction graph", zap.Error(err))
		} else {
			rt.graph = g
			rt.attach("neo4j", g)
		}
	}

	if cfg.Database.Redis.URL != "" {
		b, err := events.New(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(err))
		} else {
			rt.bus = b
			rt.attach("redis", b)
		}
	}

	if cfg.Database.Qdrant.Host != "" {
		x, err := vectorstore.New(vectorstore.Config{
			Host:       cfg.Database.Qdrant.Host,
			Port:       cfg.Database.Qdrant.Port,
			Collection: cfg.Database.Qdrant.Collection,
			RunID:      rt.runID,
		}, logger)
		if err != nil {
			logger.Warn("Qdrant unavailable, running without vector index", zap.Error(err))
		} else {
			rt.index = x
			rt.attach("qdrant", x)
		}
	}

	b := gateway.NewBroadcaster(rt.window.SimBegin, logger)
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		_ = b.Register(ctx, gateway.NewDiscordMirror(cfg.Gateway.Discord.BotToken, cfg.Gateway.Discord.ChannelID, logger))
	}
	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		_ = b.Register(ctx, gateway.NewSlackMirror(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.Channel, logger))
	}
	if b.Len() > 0 {
		b.Start(ctx)
		rt.mirrors = b
		rt.observers.Add(b)
	}

	logger.Info("sinks ready", zap.Int("observers", rt.observers.Len()))
}

// backfill mirrors messages that were loaded from a checkpoint into the
// run-scoped sinks of this invocation. Chat mirrors are left out.
func (rt *runtime) backfill(ctx context.Context, env *platform.Environment) {
	sinks := platform.NewObservers(rt.logger)
	if rt.store != nil {
		sinks.Add(rt.store)
	}
	if rt.graph != nil {
		sinks.Add(rt.graph)
	}
	if rt.index != nil {
		sinks.Add(rt.index)
	}
	if sinks.Len() == 0 {
		return
	}
	rt.syncGraph(ctx, env)
	msgs := env.Messages(0)
	for _, m := range msgs {
		mctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		_ = sinks.MessageCreated(mctx, m)
		cancel()
	}
	rt.logger.Info("sinks backfilled", zap.Int("messages", len(msgs)))
}

func (rt *runtime) deps() agent.Deps {
	return agent.Deps{
		Completer: rt.gen,
		Embedder:  rt.embedder,
		Memory: memory.Options{
			K:                   rt.cfg.Memory.K,
			DecayRate:           rt.cfg.Memory.DecayRate,
			ImportanceWeight:    rt.cfg.Memory.ImportanceWeight,
			SkipEmptyReflection: rt.cfg.Memory.SkipEmptyReflection,
			Seed:                rt.cfg.Seed,
		},
		FineTuned: rt.cfg.LLM.UseSFT,
		Logger:    rt.logger,
	}
}

func (rt *runtime) factory() (simulator.AgentFactory, error) {
	switch agentFlag {
	case "llm", "":
		deps := rt.deps()
		return func(id string, info map[string]any) agent.Agent {
			return agent.NewLLMAgent(id, info, deps)
		}, nil
	case "naive":
		return func(_ string, info map[string]any) agent.Agent {
			return agent.NewNaiveAgent(info)
		}, nil
	}
	return nil, fmt.Errorf("unknown agent kind %q", agentFlag)
}

func (rt *runtime) simConfig() simulator.Config {
	return simulator.Config{
		InitBegin:    rt.window.InitBegin,
		InitEnd:      rt.window.InitEnd,
		InitInterval: rt.window.InitInterval,
		SimBegin:     rt.window.SimBegin,
		SimEnd:       rt.window.SimEnd,
		Interval:     rt.window.Interval,
		Mode:         rt.cfg.Mode,
		Strategy:     rt.cfg.ReactStrategy,
		Workers:      rt.cfg.MaxWorkers,
		RecommendK:   rt.cfg.RecommendK,
		InitPosts:    rt.cfg.InitPosts,
		ForcePost:    rt.cfg.ForcePost,
		SavePath:     rt.cfg.SavePath,
		DataPath:     rt.cfg.DataPath,
	}
}

// close records the run outcome and releases every sink.
func (rt *runtime) close(runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if rt.mirrors != nil {
		_ = rt.mirrors.Close()
	}
	for _, a := range rt.async {
		a.Close()
		if n := a.Dropped(); n > 0 {
			rt.logger.Warn("sink events dropped", zap.String("sink", a.Name()), zap.Int("events", n))
		}
	}
	if rt.store != nil {
		status := store.StatusFinished
		if runErr != nil {
			status = store.StatusFailed
		}
		if err := rt.store.FinishRun(ctx, status); err != nil {
			rt.logger.Warn("record run outcome failed", zap.Error(err))
		}
		rt.store.Close()
	}
	if rt.graph != nil {
		_ = rt.graph.Close(ctx)
	}
	if rt.bus != nil {
		_ = rt.bus.Close()
	}
	if rt.index != nil {
		_ = rt.index.Close()
	}
	if rt.calls != nil {
		_ = rt.calls.Close()
	}
	_ = rt.logger.Sync()
}
