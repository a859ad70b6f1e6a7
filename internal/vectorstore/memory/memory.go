package memory

import (
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"docqa/internal/domain"
)

// MismatchScore is assigned to a segment whose vector length differs from
// the query's. It is below every valid cosine value so such segments always
// rank last.
const MismatchScore = -2.0

// Index is an in-memory vector index using brute-force cosine similarity.
// It holds the segments of a single document.
type Index struct {
	mu        sync.RWMutex
	dimension int
	segments  []domain.Segment
	logger    zerolog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithDimension sets the dimensionality the embedding model is expected to
// produce. Segments that disagree are still stored but logged on Add.
func WithDimension(dimension int) Option {
	return func(ix *Index) { ix.dimension = dimension }
}

// WithLogger sets the logger used to report dimension anomalies.
func WithLogger(logger zerolog.Logger) Option {
	return func(ix *Index) { ix.logger = logger }
}

func NewIndex(opts ...Option) *Index {
	ix := &Index{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Add appends segments to the index. They become searchable immediately.
func (ix *Index) Add(segments ...domain.Segment) {
	if len(segments) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, s := range segments {
		if ix.dimension > 0 && len(s.Vector) != ix.dimension {
			ix.logger.Warn().
				Int("segment_id", s.ID).
				Int("dimension", len(s.Vector)).
				Int("expected", ix.dimension).
				Msg("segment vector has unexpected dimension")
		}
	}
	ix.segments = append(ix.segments, segments...)
}

// Search returns up to k segments ordered by descending similarity to query.
func (ix *Index) Search(query []float32, k int) []domain.Segment {
	scored := ix.SearchScored(query, k)
	out := make([]domain.Segment, len(scored))
	for i, s := range scored {
		out[i] = s.Segment
	}
	return out
}

// SearchScored is Search with the similarity of each result attached.
// Ties keep insertion order.
func (ix *Index) SearchScored(query []float32, k int) []domain.ScoredSegment {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if k <= 0 || len(ix.segments) == 0 {
		return []domain.ScoredSegment{}
	}
	scored := make([]domain.ScoredSegment, len(ix.segments))
	mismatches := 0
	for i, s := range ix.segments {
		score, ok := cosine(query, s.Vector)
		if !ok {
			mismatches++
			ix.logger.Warn().
				Int("segment_id", s.ID).
				Int("segment_dimension", len(s.Vector)).
				Int("query_dimension", len(query)).
				Msg("dimension mismatch during search")
		}
		scored[i] = domain.ScoredSegment{Segment: s, Score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > len(scored) {
		k = len(scored)
	}
	if mismatches > 0 {
		ix.logger.Debug().Int("mismatches", mismatches).Int("segments", len(scored)).Msg("search completed with anomalies")
	}
	return scored[:k]
}

// Reset drops every stored segment.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.segments = nil
}

// IsReady reports whether at least one segment is stored.
func (ix *Index) IsReady() bool {
	return ix.Len() > 0
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.segments)
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Vectors of different length
// score MismatchScore and a zero-magnitude vector scores 0.
func CosineSimilarity(a, b []float32) float64 {
	score, _ := cosine(a, b)
	return score
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return MismatchScore, false
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, true
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
