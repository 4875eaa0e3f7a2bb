package memory

import (
	"math"
	"sort"
	"time"

	"github.com/nidhogg/agora/internal/vecmath"
)

// Retriever ranks records by
//
//	(1-decayRate)^hoursSinceLastAccess + cosine(query, record) + weight*importance
//
// and marks the returned records as accessed.
type Retriever struct {
	decayRate        float64
	k                int
	importanceWeight float64
	records          []*Record
}

// NewRetriever creates an empty retriever.
func NewRetriever(decayRate float64, k int, importanceWeight float64) *Retriever {
	if k <= 0 {
		k = 5
	}
	return &Retriever{decayRate: decayRate, k: k, importanceWeight: importanceWeight}
}

// Add appends a record. CreatedAt doubles as the first access time when
// LastAccessedAt is unset.
func (r *Retriever) Add(rec Record) {
	if rec.LastAccessedAt.IsZero() {
		rec.LastAccessedAt = rec.CreatedAt
	}
	r.records = append(r.records, &rec)
}

// Len reports the number of records.
func (r *Retriever) Len() int { return len(r.records) }

// Records returns copies of all records in insertion order.
func (r *Retriever) Records() []Record {
	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

// Search returns up to k records for query, best first. Ties keep
// insertion order.
func (r *Retriever) Search(query []float32, now time.Time) []Record {
	if len(r.records) == 0 {
		return nil
	}
	type scored struct {
		rec   *Record
		score float64
	}
	ranked := make([]scored, len(r.records))
	for i, rec := range r.records {
		ranked[i] = scored{rec: rec, score: r.score(rec, query, now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := min(r.k, len(ranked))
	out := make([]Record, n)
	for i := range n {
		ranked[i].rec.LastAccessedAt = now
		out[i] = *ranked[i].rec
	}
	return out
}

func (r *Retriever) score(rec *Record, query []float32, now time.Time) float64 {
	hours := now.Sub(rec.LastAccessedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := math.Pow(1-r.decayRate, hours)
	return recency + vecmath.Cosine(query, rec.Embedding) + r.importanceWeight*rec.Importance
}
