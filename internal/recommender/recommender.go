// Package recommender ranks candidate messages for a user. Half of the
// slate comes from similarity to the user's recent likes, half from
// decayed popularity.
package recommender

import (
	"math"
	"sort"
	"time"

	"github.com/nidhogg/agora/internal/vecmath"
)

// Item is a candidate message as seen by the ranker.
type Item struct {
	ID        string
	OriginID  string
	Timestamp time.Time
	Embedding []float32
	Likes     int
}

// Config tunes ranking.
type Config struct {
	DecayFactor       float64 // per-hour age discount, default 0.96
	AffinityLikes     int     // liked messages averaged into the interest vector, default 5
	InteractedPenalty float64 // multiplier for already-interacted origins, default 0.5
}

func (c Config) withDefaults() Config {
	if c.DecayFactor <= 0 {
		c.DecayFactor = 0.96
	}
	if c.AffinityLikes <= 0 {
		c.AffinityLikes = 5
	}
	if c.InteractedPenalty <= 0 {
		c.InteractedPenalty = 0.5
	}
	return c
}

// Recommender is stateless and safe for concurrent use.
type Recommender struct {
	cfg Config
}

// New creates a recommender.
func New(cfg Config) *Recommender {
	return &Recommender{cfg: cfg.withDefaults()}
}

// Recommend returns at most topK items: up to topK/2 by affinity to the
// liked candidates, then up to topK/2 of the rest by popularity. Unused
// affinity budget does not roll over.
func (r *Recommender) Recommend(candidates []Item, liked, interacted map[string]bool, topK int, now time.Time) []Item {
	half := topK / 2
	if half <= 0 || len(candidates) == 0 {
		return nil
	}

	affinity := r.byAffinity(candidates, liked, interacted, half, now)
	picked := make(map[string]bool, len(affinity))
	for _, it := range affinity {
		picked[it.ID] = true
	}

	rest := make([]Item, 0, len(candidates))
	for _, it := range candidates {
		if !picked[it.ID] {
			rest = append(rest, it)
		}
	}
	popular := r.top(rest, half, func(it Item) float64 {
		return float64(it.Likes) * r.Decay(it.Timestamp, now) * r.penalty(it, interacted)
	})

	seen := make(map[string]bool, len(affinity)+len(popular))
	out := make([]Item, 0, len(affinity)+len(popular))
	for _, it := range append(affinity, popular...) {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

func (r *Recommender) byAffinity(candidates []Item, liked, interacted map[string]bool, n int, now time.Time) []Item {
	var favs []Item
	for _, it := range candidates {
		if liked[it.ID] {
			favs = append(favs, it)
		}
	}
	if len(favs) == 0 {
		return nil
	}
	sort.SliceStable(favs, func(i, j int) bool { return favs[i].Timestamp.After(favs[j].Timestamp) })
	if len(favs) > r.cfg.AffinityLikes {
		favs = favs[:r.cfg.AffinityLikes]
	}
	vecs := make([][]float32, len(favs))
	for i, f := range favs {
		vecs[i] = f.Embedding
	}
	interest := vecmath.Mean(vecs)

	return r.top(candidates, n, func(it Item) float64 {
		return vecmath.Cosine(interest, it.Embedding) * r.Decay(it.Timestamp, now) * r.penalty(it, interacted)
	})
}

func (r *Recommender) top(items []Item, n int, score func(Item) float64) []Item {
	type scored struct {
		it Item
		s  float64
	}
	ranked := make([]scored, len(items))
	for i, it := range items {
		ranked[i] = scored{it: it, s: score(it)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].s > ranked[j].s })
	n = min(n, len(ranked))
	out := make([]Item, n)
	for i := range n {
		out[i] = ranked[i].it
	}
	return out
}

func (r *Recommender) penalty(it Item, interacted map[string]bool) float64 {
	if interacted[it.OriginID] {
		return r.cfg.InteractedPenalty
	}
	return 1
}

// Decay discounts a message by its age at now. Messages at or after now
// are not discounted.
func (r *Recommender) Decay(ts, now time.Time) float64 {
	if !ts.Before(now) {
		return 1
	}
	return math.Pow(r.cfg.DecayFactor, now.Sub(ts).Hours())
}
