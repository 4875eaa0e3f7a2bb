package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/provider"
)

// Embedder maps text to a vector. Failures are absorbed by the
// implementation.
type Embedder interface {
	EmbedText(ctx context.Context, text string) []float32
}

// Options configures a Module.
type Options struct {
	Index               string // owning user id, the archive key
	K                   int
	DecayRate           float64
	ImportanceWeight    float64
	SkipEmptyReflection bool
	Seed                int64 // record id entropy; 0 seeds from the wall clock
}

// DefaultOptions returns k=5 and a 1e-6 hourly decay.
func DefaultOptions(index string) Options {
	return Options{Index: index, K: 5, DecayRate: 1e-6}
}

// Module is one agent's memory. It is owned by a single agent and is not
// safe for concurrent use.
type Module struct {
	opts      Options
	completer provider.Completer
	embedder  Embedder
	retriever *Retriever
	entropy   *rand.Rand
	logger    *zap.Logger
}

// New creates an empty module.
func New(c provider.Completer, e Embedder, opts Options, logger *zap.Logger) *Module {
	if opts.K <= 0 {
		opts.K = 5
	}
	return &Module{
		opts:      opts,
		completer: c,
		embedder:  e,
		retriever: NewRetriever(opts.DecayRate, opts.K, opts.ImportanceWeight),
		entropy:   rand.New(rand.NewSource(entropySeed(opts))),
		logger:    logger.With(zap.String("memory", opts.Index)),
	}
}

// Index reports the owning user id.
func (m *Module) Index() string { return m.opts.Index }

// Len reports the number of stored records.
func (m *Module) Len() int { return m.retriever.Len() }

// Records returns all records in insertion order.
func (m *Module) Records() []Record { return m.retriever.Records() }

func entropySeed(opts Options) int64 {
	if opts.Seed == 0 {
		return time.Now().UnixNano()
	}
	h := fnv.New64a()
	h.Write([]byte(opts.Index))
	return opts.Seed ^ int64(h.Sum64())
}

// AddObservation summarizes one raw behavior text and stores the summary.
func (m *Module) AddObservation(ctx context.Context, text string, now time.Time) string {
	summary := m.completer.Complete(ctx, provider.Request{
		Prompt: provider.Render(promptObservation, map[string]string{
			"timestamp": now.Format("2006-01-02"),
			"behavior":  text,
		}),
	})
	m.store(ctx, summary, now)
	return summary
}

// AddObservations summarizes texts with a single call and stores one record.
func (m *Module) AddObservations(ctx context.Context, texts []string, now time.Time) string {
	if len(texts) == 0 {
		return ""
	}
	lines := make([]string, len(texts))
	for i, t := range texts {
		lines[i] = fmt.Sprintf("%d. %s", i, t)
	}
	summary := m.completer.Complete(ctx, provider.Request{
		Prompt: provider.Render(promptObservations, map[string]string{
			"timestamp": now.Format("2006-01-02"),
			"behavior":  strings.Join(lines, "\n"),
		}),
	})
	m.store(ctx, summary, now)
	return summary
}

// DailyReflect narrates a day's acts, asks for a reflection and stores it.
// With SkipEmptyReflection set, a day without acts stores nothing.
func (m *Module) DailyReflect(ctx context.Context, acts []act.Act, now time.Time) string {
	if len(acts) == 0 && m.opts.SkipEmptyReflection {
		return ""
	}
	reflection := m.completer.Complete(ctx, provider.Request{
		Prompt: provider.Render(promptDailyReflection, map[string]string{
			"timestamp": now.Format("2006-01-02"),
			"behavior":  strings.Join(act.NarrateDay(acts), "\n"),
		}),
	})
	m.store(ctx, reflection, now)
	return reflection
}

// Retrieve returns the texts of the best records for query at now.
func (m *Module) Retrieve(ctx context.Context, query string, now time.Time) []string {
	if m.retriever.Len() == 0 {
		return nil
	}
	recs := m.retriever.Search(m.embedder.EmbedText(ctx, query), now)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Text
	}
	return out
}

func (m *Module) store(ctx context.Context, text string, now time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		m.logger.Warn("empty summary, observation dropped")
		return
	}
	m.retriever.Add(Record{
		ID:             ulid.MustNew(ulid.Timestamp(now), m.entropy).String(),
		Text:           text,
		CreatedAt:      now,
		LastAccessedAt: now,
		Embedding:      m.embedder.EmbedText(ctx, text),
	})
}

// Snapshot describes where Save put the records.
func (m *Module) Snapshot(path string) Snapshot {
	return Snapshot{Path: path, Index: m.opts.Index, DecayRate: m.opts.DecayRate, K: m.opts.K}
}

// Save writes all records to a under the module's index.
func (m *Module) Save(ctx context.Context, a *Archive) (Snapshot, error) {
	if err := a.Save(ctx, m.opts.Index, m.retriever.Records()); err != nil {
		return Snapshot{}, fmt.Errorf("save memory %s: %w", m.opts.Index, err)
	}
	return m.Snapshot(a.Dir()), nil
}

// Load rebuilds a module from snap, reading records from a. opts supplies
// everything snap does not carry.
func Load(ctx context.Context, snap Snapshot, a *Archive, c provider.Completer, e Embedder, opts Options, logger *zap.Logger) (*Module, error) {
	opts.Index = snap.Index
	opts.DecayRate = snap.DecayRate
	opts.K = snap.K
	m := New(c, e, opts, logger)
	recs, err := a.Load(ctx, snap.Index)
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", snap.Index, err)
	}
	for _, r := range recs {
		m.retriever.Add(r)
	}
	return m, nil
}
