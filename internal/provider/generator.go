package provider

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultSystemPrompt is used when a request carries no system prompt.
const DefaultSystemPrompt = "You are a helpful assistant."

// Request is a single generation call.
type Request struct {
	System    string
	Prompt    string
	FineTuned bool // route to the fine-tuned model
}

// Completer turns a prompt into text. Implementations never return an
// error: permanent failure yields "".
type Completer interface {
	Complete(ctx context.Context, req Request) string
}

// GeneratorConfig tunes retries, pacing and model selection.
type GeneratorConfig struct {
	Model     string
	FTModel   string
	UseSFT    bool // route every call to FTModel
	Retries   int
	Backoff   time.Duration
	QPS       float64
	Burst     int
	MaxTokens int
}

// Generator is the Completer used by agents. It retries transport failures
// with a fixed backoff, paces calls with a token bucket and logs every
// attempt to an optional CallLog.
type Generator struct {
	router  *Router
	cfg     GeneratorConfig
	limiter *rate.Limiter
	calls   *CallLog
	logger  *zap.Logger
}

// NewGenerator creates a generator over router. calls may be nil.
func NewGenerator(router *Router, cfg GeneratorConfig, calls *CallLog, logger *zap.Logger) *Generator {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.FTModel == "" {
		cfg.FTModel = RouteSFT
	}
	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	return &Generator{router: router, cfg: cfg, limiter: limiter, calls: calls, logger: logger}
}

// Complete runs req, returning the cleaned response or "" after the retry
// budget is exhausted or ctx is done.
func (g *Generator) Complete(ctx context.Context, req Request) string {
	system := req.System
	if system == "" {
		system = DefaultSystemPrompt
	}
	route, model := RouteDefault, g.cfg.Model
	if req.FineTuned || g.cfg.UseSFT {
		route, model = RouteSFT, g.cfg.FTModel
	}
	chat := &ChatRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens: g.cfg.MaxTokens,
	}
	taskID := uuid.NewString()

	for attempt := 1; attempt <= g.cfg.Retries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return ""
			}
		}
		start := time.Now()
		resp, err := g.router.Route(ctx, route, chat)
		call := Call{
			Time:       start,
			TaskID:     taskID,
			Model:      model,
			System:     system,
			Prompt:     req.Prompt,
			DurationMS: time.Since(start).Milliseconds(),
			Attempt:    attempt,
		}
		if err == nil {
			call.Response = resp.Content
			g.calls.Record(call)
			return StripThinking(resp.Content)
		}
		call.Error = err.Error()
		g.calls.Record(call)
		g.logger.Warn("generation attempt failed",
			zap.String("task", taskID), zap.Int("attempt", attempt), zap.Error(err))

		if attempt == g.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(g.cfg.Backoff):
		}
	}
	g.logger.Error("generation failed permanently", zap.String("task", taskID), zap.String("model", model))
	return ""
}

// StripThinking drops reasoning emitted before the last </think> tag.
func StripThinking(s string) string {
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	}
	return strings.TrimSpace(s)
}
