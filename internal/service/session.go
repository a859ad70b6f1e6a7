package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/extract"
	"docqa/internal/ingest"
	"docqa/internal/summarizer"
)

// Options are the tunables of a Session.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	BatchDelay   time.Duration
	TopK         int
	Separator    string
}

// Session holds the single active document: its index, the pipeline that
// fills it and the conversation about it.
type Session struct {
	window       *chunker.Window
	index        domain.Index
	orchestrator *ingest.Orchestrator
	assembler    *Assembler
	generator    domain.Generator
	summarizer   *summarizer.Frequency
	logger       zerolog.Logger

	mu         sync.Mutex
	documentID string
	document   string
	summary    string
	history    []domain.ChatMessage
	loadCancel context.CancelFunc
	loadDone   chan struct{}
}

// NewSession wires a session around an explicitly owned index.
func NewSession(embedder domain.Embedder, generator domain.Generator, index domain.Index, opts Options, logger zerolog.Logger) (*Session, error) {
	window, err := chunker.NewWindow(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		return nil, domain.InvalidInputf("batch size must be positive, got %d", opts.BatchSize)
	}
	logger = logger.With().Str("embedder", embedder.Name()).Str("generator", generator.Name()).Logger()
	return &Session{
		window:       window,
		index:        index,
		orchestrator: ingest.NewOrchestrator(embedder, index, ingest.Config{BatchSize: opts.BatchSize, BatchDelay: opts.BatchDelay}, logger),
		assembler:    NewAssembler(embedder, index, opts.TopK, opts.Separator, logger),
		generator:    generator,
		summarizer:   summarizer.NewFrequency(200),
		logger:       logger.With().Str("component", "session").Logger(),
	}, nil
}

// Load replaces the active document with the file at path. Any ingestion
// still running is cancelled first. Progress covers extraction (0-15) and
// embedding (15-100).
func (s *Session) Load(ctx context.Context, path string, onProgress domain.ProgressFunc) error {
	report := progressReporter(onProgress)
	report(domain.Progress{Percentage: 0, Message: "Reading " + filepath.Base(path)})
	text, err := extract.File(path)
	if err != nil {
		return err
	}
	return s.load(ctx, filepath.Base(path), text, report)
}

// LoadText is Load for text that is already in memory.
func (s *Session) LoadText(ctx context.Context, name, text string, onProgress domain.ProgressFunc) error {
	report := progressReporter(onProgress)
	report(domain.Progress{Percentage: 0, Message: "Reading " + name})
	return s.load(ctx, name, text, report)
}

func (s *Session) load(ctx context.Context, name, text string, report domain.ProgressFunc) error {
	ctx, done := s.beginLoad(ctx, name)
	defer done()

	report(domain.Progress{Percentage: 10, Message: fmt.Sprintf("Extracted %d characters", utf8.RuneCountInString(text))})
	summary := s.summarizer.Summarize(text, summarizer.DefaultSentences)
	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()
	chunks := s.window.Split(text)
	report(domain.Progress{Percentage: ingest.ExtractionShare, Message: fmt.Sprintf("Split into %d segments", len(chunks))})

	s.logger.Info().
		Str("document", name).
		Str("document_id", s.DocumentID()).
		Int("segments", len(chunks)).
		Msg("loading document")

	if err := s.orchestrator.Ingest(ctx, chunks, report); err != nil {
		s.logger.Error().Err(err).Int("indexed", s.index.Len()).Msg("document ingestion stopped")
		return err
	}
	report(domain.Progress{Percentage: 100, Message: fmt.Sprintf("Ready: %d segments indexed", s.index.Len())})
	return nil
}

// beginLoad aborts any running load, clears the document state and
// registers a new cancellable load.
func (s *Session) beginLoad(ctx context.Context, name string) (context.Context, func()) {
	s.abortLoad()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.index.Reset()
	s.history = nil
	s.documentID = uuid.NewString()
	s.document = name
	s.summary = ""
	s.loadCancel = cancel
	s.loadDone = done
	s.mu.Unlock()

	return ctx, func() {
		cancel()
		close(done)
		s.mu.Lock()
		if s.loadDone == done {
			s.loadCancel, s.loadDone = nil, nil
		}
		s.mu.Unlock()
	}
}

// abortLoad cancels a running load and waits for it to stop so that no
// late batch lands in the index after a reset.
func (s *Session) abortLoad() {
	s.mu.Lock()
	cancel, done := s.loadCancel, s.loadDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reset abandons the current document, including a load in progress.
func (s *Session) Reset() {
	s.abortLoad()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Reset()
	s.history = nil
	s.documentID = ""
	s.document = ""
	s.summary = ""
}

// Ready reports whether at least one segment of the document is searchable.
func (s *Session) Ready() bool { return s.index.IsReady() }

// Segments returns the number of indexed segments.
func (s *Session) Segments() int { return s.index.Len() }

// Document returns the display name of the active document.
func (s *Session) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

// Summary returns a short extractive overview of the active document.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// DocumentID identifies the current load in logs.
func (s *Session) DocumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentID
}

// History returns a copy of the conversation so far.
func (s *Session) History() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.history...)
}

// Sources returns the segments that would be used as context for question.
func (s *Session) Sources(ctx context.Context, question string) ([]domain.ScoredSegment, error) {
	return s.assembler.Retrieve(ctx, question)
}

// Ask retrieves context for question and starts generating an answer. The
// question is recorded immediately; the answer is recorded once the stream
// has been read to io.EOF.
func (s *Session) Ask(ctx context.Context, question string) (domain.Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.InvalidInputf("question is empty")
	}
	contextText, err := s.assembler.AnswerContext(ctx, question)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	history := append([]domain.ChatMessage(nil), s.history...)
	docID := s.documentID
	s.mu.Unlock()

	stream, err := s.generator.Generate(ctx, domain.GenerateRequest{Context: contextText, Question: question, History: history})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	s.mu.Lock()
	s.history = append(s.history, domain.ChatMessage{Role: domain.RoleUser, Content: question})
	s.mu.Unlock()

	s.logger.Info().Str("document_id", docID).Int("context_chars", len(contextText)).Msg("answering question")
	return &recordingStream{inner: stream, onDone: func(answer string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.documentID != docID {
			return
		}
		s.history = append(s.history, domain.ChatMessage{Role: domain.RoleAssistant, Content: answer})
	}}, nil
}

// recordingStream accumulates fragments and hands the full answer to onDone
// when the inner stream ends.
type recordingStream struct {
	inner  domain.Stream
	answer strings.Builder
	onDone func(string)
	done   bool
}

func (r *recordingStream) Recv() (string, error) {
	frag, err := r.inner.Recv()
	if errors.Is(err, io.EOF) {
		if !r.done {
			r.done = true
			r.onDone(r.answer.String())
		}
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	r.answer.WriteString(frag)
	return frag, nil
}

func (r *recordingStream) Close() error { return r.inner.Close() }

// Drain reads stream to the end, passing each fragment to fn, and returns
// the full answer.
func Drain(stream domain.Stream, fn func(string)) (string, error) {
	defer stream.Close()
	var b strings.Builder
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
		if fn != nil {
			fn(frag)
		}
	}
}

func progressReporter(onProgress domain.ProgressFunc) domain.ProgressFunc {
	last := 0
	return func(p domain.Progress) {
		if p.Percentage < last {
			p.Percentage = last
		}
		last = p.Percentage
		if onProgress != nil {
			onProgress(p)
		}
	}
}
