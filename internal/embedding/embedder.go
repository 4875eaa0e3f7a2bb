package embedding

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Embedder wraps a Provider with the simulation's failure policy: empty
// input and exhausted retries both yield a zero vector instead of an error.
type Embedder struct {
	provider Provider
	retries  int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewEmbedder wraps p. retries <= 0 defaults to 3.
func NewEmbedder(p Provider, retries int, backoff time.Duration, logger *zap.Logger) *Embedder {
	if retries <= 0 {
		retries = 3
	}
	return &Embedder{provider: p, retries: retries, backoff: backoff, logger: logger}
}

// Dimension reports the provider's vector length.
func (e *Embedder) Dimension() int { return e.provider.Dimension() }

// EmbedText embeds one text.
func (e *Embedder) EmbedText(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		e.logger.Error("embedding empty text, using zero vector")
		return make([]float32, e.provider.Dimension())
	}
	vecs := e.embed(ctx, []string{text})
	return vecs[0]
}

// EmbedTexts embeds texts in one provider call. The result always has
// len(texts) entries.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	out := make([][]float32, len(texts))
	var idx []int
	var batch []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			e.logger.Error("embedding empty text, using zero vector", zap.Int("index", i))
			out[i] = make([]float32, e.provider.Dimension())
			continue
		}
		idx = append(idx, i)
		batch = append(batch, t)
	}
	if len(batch) == 0 {
		return out
	}
	for j, v := range e.embed(ctx, batch) {
		out[idx[j]] = v
	}
	return out
}

func (e *Embedder) embed(ctx context.Context, texts []string) [][]float32 {
	for attempt := 1; attempt <= e.retries; attempt++ {
		vecs, err := e.provider.Embed(ctx, texts)
		if err == nil && len(vecs) == len(texts) {
			return vecs
		}
		e.logger.Warn("embedding attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == e.retries {
			break
		}
		select {
		case <-ctx.Done():
			return e.zeros(len(texts))
		case <-time.After(e.backoff):
		}
	}
	e.logger.Error("embedding failed, using zero vectors", zap.Int("texts", len(texts)))
	return e.zeros(len(texts))
}

func (e *Embedder) zeros(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, e.provider.Dimension())
	}
	return out
}
