package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"docqa/internal/domain"
)

// ExtractionShare is the part of the 0-100 progress scale reserved for text
// extraction, which runs before ingestion.
const ExtractionShare = 15

// Config tunes batching and pacing.
type Config struct {
	BatchSize int
	// BatchDelay is the pause between consecutive batches. Zero disables it.
	BatchDelay time.Duration
}

// Orchestrator embeds chunks batch by batch and feeds the results into an
// index. Batches run strictly one after another.
type Orchestrator struct {
	embedder domain.Embedder
	index    domain.Index
	cfg      Config
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(embedder domain.Embedder, index domain.Index, cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger.With().Str("component", "ingest").Logger(),
		sleep:    sleepContext,
	}
}

// Ingest embeds chunks and adds them to the index as each batch completes,
// so a partially ingested document is already searchable. On failure the
// remaining batches are skipped and committed segments are kept.
func (o *Orchestrator) Ingest(ctx context.Context, chunks []string, onProgress domain.ProgressFunc) error {
	if o.cfg.BatchSize <= 0 {
		return domain.InvalidInputf("batch size must be positive, got %d", o.cfg.BatchSize)
	}
	if o.cfg.BatchDelay < 0 {
		return domain.InvalidInputf("batch delay must not be negative, got %s", o.cfg.BatchDelay)
	}
	report := func(p domain.Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	total := len(chunks)
	if total == 0 {
		report(domain.Progress{Percentage: 100, Message: "Nothing to embed"})
		return nil
	}

	batches := (total + o.cfg.BatchSize - 1) / o.cfg.BatchSize
	o.logger.Info().
		Int("chunks", total).
		Int("batches", batches).
		Int("batch_size", o.cfg.BatchSize).
		Dur("batch_delay", o.cfg.BatchDelay).
		Msg("starting ingestion")

	for n, offset := 0, 0; offset < total; n, offset = n+1, offset+o.cfg.BatchSize {
		if n > 0 && o.cfg.BatchDelay > 0 {
			if err := o.sleep(ctx, o.cfg.BatchDelay); err != nil {
				return domain.NewEmbeddingError("ingest", fmt.Errorf("waiting before batch %d: %w", n+1, err))
			}
		}
		if err := ctx.Err(); err != nil {
			return domain.NewEmbeddingError("ingest", fmt.Errorf("batch %d: %w", n+1, err))
		}

		end := offset + o.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := chunks[offset:end]

		vectors, err := o.embedder.EmbedMany(ctx, batch, domain.TaskRetrievalDocument)
		if err != nil {
			o.logger.Error().Err(err).Int("batch", n+1).Int("offset", offset).Msg("batch embedding failed")
			return domain.NewEmbeddingError("ingest", fmt.Errorf("batch %d of %d: %w", n+1, batches, err))
		}
		if err := ctx.Err(); err != nil {
			return domain.NewEmbeddingError("ingest", fmt.Errorf("batch %d: %w", n+1, err))
		}
		if len(vectors) != len(batch) {
			err := fmt.Errorf("batch %d of %d: got %d vectors for %d texts", n+1, batches, len(vectors), len(batch))
			o.logger.Error().Err(err).Msg("batch embedding returned wrong vector count")
			return domain.NewEmbeddingError("ingest", err)
		}

		segments := make([]domain.Segment, len(batch))
		for i, text := range batch {
			segments[i] = domain.Segment{ID: offset + i, Text: text, Vector: vectors[i]}
		}
		o.index.Add(segments...)

		report(domain.Progress{
			Percentage: Percentage(end, total),
			Message:    fmt.Sprintf("Embedding segments (%d/%d)", end, total),
		})
		o.logger.Debug().Int("batch", n+1).Int("processed", end).Int("total", total).Msg("batch committed")
	}

	o.logger.Info().Int("segments", o.index.Len()).Msg("ingestion complete")
	return nil
}

// Percentage maps processed/total onto the embedding share of the scale.
func Percentage(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return ExtractionShare + int(math.Round(float64(100-ExtractionShare)*float64(processed)/float64(total)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
