package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"docqa/internal/domain"
)

// DefaultSeparator is placed between retrieved segments in the context block.
const DefaultSeparator = "\n\n---\n\n"

// Assembler turns a question into a context block built from the segments
// most similar to it.
type Assembler struct {
	embedder  domain.Embedder
	index     domain.Index
	topK      int
	separator string
	logger    zerolog.Logger
}

func NewAssembler(embedder domain.Embedder, index domain.Index, topK int, separator string, logger zerolog.Logger) *Assembler {
	if topK <= 0 {
		topK = 5
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Assembler{
		embedder:  embedder,
		index:     index,
		topK:      topK,
		separator: separator,
		logger:    logger.With().Str("component", "retrieval").Logger(),
	}
}

// Retrieve embeds question as a query and returns the best matching
// segments, best first. An empty index yields no segments and no embedding call.
func (a *Assembler) Retrieve(ctx context.Context, question string) ([]domain.ScoredSegment, error) {
	if !a.index.IsReady() {
		return []domain.ScoredSegment{}, nil
	}
	vec, err := a.embedder.EmbedOne(ctx, question, domain.TaskRetrievalQuery)
	if err != nil {
		return nil, domain.NewEmbeddingError("embed query", err)
	}
	results := a.index.SearchScored(vec, a.topK)
	if len(results) > 0 {
		a.logger.Debug().
			Int("results", len(results)).
			Float64("best_score", results[0].Score).
			Msg("retrieved context")
	}
	return results, nil
}

// AnswerContext returns the text of the top segments for question joined by
// the separator in ranked order. It returns "" when nothing is indexed.
func (a *Assembler) AnswerContext(ctx context.Context, question string) (string, error) {
	results, err := a.Retrieve(ctx, question)
	if err != nil {
		return "", err
	}
	return Join(results, a.separator), nil
}

// Join concatenates segment texts with sep, preserving order.
func Join(results []domain.ScoredSegment, sep string) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Segment.Text
	}
	return strings.Join(texts, sep)
}
