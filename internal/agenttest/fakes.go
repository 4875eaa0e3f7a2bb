// Package agenttest provides deterministic stand-ins for the generation and
// embedding services.
package agenttest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/nidhogg/agora/internal/provider"
)

type rule struct {
	contains string
	reply    string
}

// Completer is a scripted provider.Completer. Replies are chosen by the
// first matching rule, then the queued script, then the fallback.
type Completer struct {
	mu       sync.Mutex
	rules    []rule
	script   []string
	fallback string
	fn       func(provider.Request) string

	Calls []provider.Request
}

// NewCompleter creates a completer whose fallback reply is "".
func NewCompleter() *Completer {
	return &Completer{}
}

// WithRule replies with reply whenever the prompt contains substr.
func (c *Completer) WithRule(substr, reply string) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule{contains: substr, reply: reply})
	return c
}

// WithScript queues replies returned in order for calls no rule matches.
func (c *Completer) WithScript(replies ...string) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, replies...)
	return c
}

// WithFallback sets the reply once rules and script are exhausted.
func (c *Completer) WithFallback(reply string) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = reply
	return c
}

// WithFunc answers every unmatched call with fn.
func (c *Completer) WithFunc(fn func(provider.Request) string) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
	return c
}

// Complete implements provider.Completer.
func (c *Completer) Complete(_ context.Context, req provider.Request) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, req)

	for _, r := range c.rules {
		if strings.Contains(req.Prompt, r.contains) {
			return r.reply
		}
	}
	if len(c.script) > 0 {
		reply := c.script[0]
		c.script = c.script[1:]
		return reply
	}
	if c.fn != nil {
		return c.fn(req)
	}
	return c.fallback
}

// CallCount reports how many calls were made.
func (c *Completer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// CallsContaining counts calls whose prompt contains substr.
func (c *Completer) CallsContaining(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.Calls {
		if strings.Contains(r.Prompt, substr) {
			n++
		}
	}
	return n
}

// Embedder hashes words into a fixed number of buckets, so texts sharing
// words have a positive cosine similarity.
type Embedder struct {
	Dim int
}

// NewEmbedder creates an embedder of dimension dim.
func NewEmbedder(dim int) *Embedder { return &Embedder{Dim: dim} }

// Dimension implements embedding.Provider.
func (e *Embedder) Dimension() int { return e.Dim }

// EmbedText returns the bag-of-words vector of text.
func (e *Embedder) EmbedText(_ context.Context, text string) []float32 {
	v := make([]float32, e.Dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, `.,!?"'`)))
		v[h.Sum32()%uint32(e.Dim)]++
	}
	return v
}

// Embed implements embedding.Provider.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.EmbedText(ctx, t)
	}
	return out, nil
}
