package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/vectorstore/memory"
)

type fakeEmbedder struct {
	calls    [][]string
	tasks    []domain.TaskType
	failOn   int // 1-based call number, 0 = never
	failWith error
	short    int // 1-based call number that returns one vector too few
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 2 }

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string, task domain.TaskType) ([]float32, error) {
	out, err := f.EmbedMany(ctx, []string{text}, task)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedMany(_ context.Context, texts []string, task domain.TaskType) ([][]float32, error) {
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.tasks = append(f.tasks, task)
	n := len(f.calls)
	if n == f.failOn {
		return nil, f.failWith
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	if n == f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func chunksN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("chunk-%d", i)
	}
	return out
}

func newTestOrchestrator(emb domain.Embedder, ix domain.Index, cfg Config) (*Orchestrator, *[]time.Duration) {
	o := NewOrchestrator(emb, ix, cfg, zerolog.Nop())
	var slept []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return o, &slept
}

func TestIngestBatching(t *testing.T) {
	tests := []struct {
		name      string
		chunks    int
		batchSize int
		calls     int
	}{
		{name: "exact multiple", chunks: 10, batchSize: 5, calls: 2},
		{name: "remainder batch", chunks: 11, batchSize: 5, calls: 3},
		{name: "batch larger than input", chunks: 3, batchSize: 100, calls: 1},
		{name: "batch of one", chunks: 4, batchSize: 1, calls: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &fakeEmbedder{}
			ix := memory.NewIndex()
			o, slept := newTestOrchestrator(emb, ix, Config{BatchSize: tt.batchSize, BatchDelay: time.Second})

			var progress []domain.Progress
			err := o.Ingest(context.Background(), chunksN(tt.chunks), func(p domain.Progress) { progress = append(progress, p) })
			require.NoError(t, err)

			require.Len(t, emb.calls, tt.calls)
			for _, c := range emb.calls {
				assert.LessOrEqual(t, len(c), tt.batchSize)
			}
			for _, task := range emb.tasks {
				assert.Equal(t, domain.TaskRetrievalDocument, task)
			}
			assert.Len(t, *slept, tt.calls-1)
			assert.Equal(t, tt.chunks, ix.Len())

			require.Len(t, progress, tt.calls)
			for i := 1; i < len(progress); i++ {
				assert.GreaterOrEqual(t, progress[i].Percentage, progress[i-1].Percentage)
			}
			assert.Equal(t, 100, progress[len(progress)-1].Percentage)
		})
	}
}

func TestIngestAssignsContiguousIDs(t *testing.T) {
	emb := &fakeEmbedder{}
	ix := memory.NewIndex()
	o, _ := newTestOrchestrator(emb, ix, Config{BatchSize: 3})

	chunks := chunksN(7)
	require.NoError(t, o.Ingest(context.Background(), chunks, nil))

	got := ix.Search([]float32{1, 1}, 100)
	require.Len(t, got, 7)
	seen := map[int]string{}
	for _, s := range got {
		seen[s.ID] = s.Text
	}
	for i, c := range chunks {
		assert.Equal(t, c, seen[i])
	}
}

func TestIngestNoChunks(t *testing.T) {
	emb := &fakeEmbedder{}
	o, slept := newTestOrchestrator(emb, memory.NewIndex(), Config{BatchSize: 5, BatchDelay: time.Second})

	var progress []domain.Progress
	require.NoError(t, o.Ingest(context.Background(), nil, func(p domain.Progress) { progress = append(progress, p) }))

	assert.Empty(t, emb.calls)
	assert.Empty(t, *slept)
	require.Len(t, progress, 1)
	assert.Equal(t, 100, progress[0].Percentage)
}

func TestIngestShortVectorResponse(t *testing.T) {
	emb := &fakeEmbedder{short: 2}
	ix := memory.NewIndex()
	o, _ := newTestOrchestrator(emb, ix, Config{BatchSize: 4})

	err := o.Ingest(context.Background(), chunksN(10), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
	assert.NotErrorIs(t, err, domain.ErrQuotaExceeded)

	assert.Len(t, emb.calls, 2, "remaining batches must be skipped")
	assert.Equal(t, 4, ix.Len(), "only the first batch is committed")
}

func TestIngestAdapterFailureClassification(t *testing.T) {
	t.Run("plain failure", func(t *testing.T) {
		emb := &fakeEmbedder{failOn: 1, failWith: errors.New("connection reset")}
		ix := memory.NewIndex()
		o, _ := newTestOrchestrator(emb, ix, Config{BatchSize: 2})

		err := o.Ingest(context.Background(), chunksN(4), nil)
		assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
		assert.NotErrorIs(t, err, domain.ErrQuotaExceeded)
		assert.False(t, ix.IsReady())
	})
	t.Run("quota", func(t *testing.T) {
		emb := &fakeEmbedder{failOn: 2, failWith: domain.NewQuotaError("google", errors.New("429 Too Many Requests"))}
		ix := memory.NewIndex()
		o, _ := newTestOrchestrator(emb, ix, Config{BatchSize: 2})

		err := o.Ingest(context.Background(), chunksN(6), nil)
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
		assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
		assert.Equal(t, 2, ix.Len())
	})
}

func TestIngestInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{{BatchSize: 0}, {BatchSize: -1}, {BatchSize: 2, BatchDelay: -time.Second}} {
		emb := &fakeEmbedder{}
		o, _ := newTestOrchestrator(emb, memory.NewIndex(), cfg)
		err := o.Ingest(context.Background(), chunksN(3), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Empty(t, emb.calls)
	}
}

func TestIngestCancelledBetweenBatches(t *testing.T) {
	emb := &fakeEmbedder{}
	ix := memory.NewIndex()
	o := NewOrchestrator(emb, ix, Config{BatchSize: 2, BatchDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- o.Ingest(ctx, chunksN(6), func(domain.Progress) { cancel() })
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not observe cancellation")
	}
	assert.Equal(t, 2, ix.Len())
}

func TestIngestZeroDelayDoesNotSleep(t *testing.T) {
	emb := &fakeEmbedder{}
	o, slept := newTestOrchestrator(emb, memory.NewIndex(), Config{BatchSize: 1})
	require.NoError(t, o.Ingest(context.Background(), chunksN(5), nil))
	assert.Empty(t, *slept)
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 15, Percentage(0, 10))
	assert.Equal(t, 100, Percentage(10, 10))
	assert.Equal(t, 58, Percentage(1, 2))
	assert.Equal(t, 43, Percentage(1, 3))
	assert.Equal(t, 100, Percentage(0, 0))
}
