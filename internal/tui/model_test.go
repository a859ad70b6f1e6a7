package tui

import (
	"context"
	"errors"
	"io"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

type fakePort struct {
	segments int
	resets   int
	asked    []string
	askErr   error
	frags    []string
}

func (f *fakePort) Load(_ context.Context, _ string, onProgress domain.ProgressFunc) error {
	onProgress(domain.Progress{Percentage: 50, Message: "Embedding segments (1/2)"})
	f.segments = 2
	return nil
}

func (f *fakePort) Ask(_ context.Context, q string) (domain.Stream, error) {
	f.asked = append(f.asked, q)
	if f.askErr != nil {
		return nil, f.askErr
	}
	return &fakeStream{frags: f.frags}, nil
}

func (f *fakePort) Sources(context.Context, string) ([]domain.ScoredSegment, error) {
	return []domain.ScoredSegment{{Segment: domain.Segment{ID: 3, Text: "Gophers dig. They eat roots."}, Score: 0.9}}, nil
}

func (f *fakePort) Reset()           { f.resets++; f.segments = 0 }
func (f *fakePort) Ready() bool      { return f.segments > 0 }
func (f *fakePort) Segments() int    { return f.segments }
func (f *fakePort) Document() string { return "doc.md" }
func (f *fakePort) Summary() string  { return "Gophers dig." }

type fakeStream struct{ frags []string }

func (s *fakeStream) Recv() (string, error) {
	if len(s.frags) == 0 {
		return "", io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *fakeStream) Close() error { return nil }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func readyModel(t *testing.T, port *fakePort) Model {
	t.Helper()
	m := New(context.Background(), port, "doc.md")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	port.segments = 2
	m, _ = update(t, m, loadDoneMsg{seq: 0})
	require.Equal(t, phaseChat, m.phase)
	return m
}

func TestOfferKeepsLatestProgress(t *testing.T) {
	ch := make(chan domain.Progress, 1)
	offer(ch, domain.Progress{Percentage: 20})
	offer(ch, domain.Progress{Percentage: 40})
	offer(ch, domain.Progress{Percentage: 60})
	assert.Equal(t, 60, (<-ch).Percentage)
}

func TestLoadProgressAndCompletion(t *testing.T) {
	port := &fakePort{}
	m := New(context.Background(), port, "doc.md")

	ch := make(chan domain.Progress, 1)
	m, cmd := update(t, m, progressMsg{seq: 0, p: domain.Progress{Percentage: 43, Message: "Embedding segments (1/3)"}, ch: ch})
	assert.Equal(t, 43, m.progress.Percentage)
	assert.Equal(t, "Embedding segments (1/3)", m.status)
	require.NotNil(t, cmd)

	close(ch)
	assert.Nil(t, cmd(), "closed progress channel ends the relay")

	port.segments = 4
	m, _ = update(t, m, loadDoneMsg{seq: 0})
	assert.Equal(t, phaseChat, m.phase)
	assert.Equal(t, "Ready: 4 segments from doc.md", m.status)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	assert.Contains(t, m.View(), "Gophers dig.")
}

func TestLoadCmdRelaysProgress(t *testing.T) {
	port := &fakePort{}
	m := New(context.Background(), port, "doc.md")

	batch, ok := m.loadCmd(0, "doc.md")().(tea.BatchMsg)
	require.True(t, ok)
	require.Len(t, batch, 2)

	done := batch[0]()
	assert.Equal(t, loadDoneMsg{seq: 0}, done)

	p, ok := batch[1]().(progressMsg)
	require.True(t, ok)
	assert.Equal(t, 50, p.p.Percentage)
}

func TestStaleLoadIgnored(t *testing.T) {
	m := readyModel(t, &fakePort{})
	m.loadSeq = 2
	m.phase = phaseLoading

	m, _ = update(t, m, loadDoneMsg{seq: 1, err: errors.New("cancelled")})
	assert.Equal(t, phaseLoading, m.phase)
}

func TestLoadQuotaFailureShowsHint(t *testing.T) {
	port := &fakePort{}
	m := New(context.Background(), port, "doc.md")
	m, _ = update(t, m, loadDoneMsg{seq: 0, err: domain.NewQuotaError("google", errors.New("429"))})
	assert.Equal(t, phaseChat, m.phase)
	assert.Contains(t, m.status, "try again")
}

func TestAskStreamsIntoTranscript(t *testing.T) {
	port := &fakePort{frags: []string{"Gophers ", "eat roots."}}
	m := readyModel(t, port)

	m.input.SetValue("what do gophers eat?")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.streaming)
	require.Len(t, m.transcript, 2)
	assert.Equal(t, "", m.input.Value())

	msg := m.askCmd("what do gophers eat?")()
	started, ok := msg.(streamStartedMsg)
	require.True(t, ok)
	assert.Equal(t, []string{"what do gophers eat?"}, port.asked)

	cmd = recvCmd(started.stream)
	for {
		msg := cmd()
		m, cmd = update(t, m, msg)
		if _, end := msg.(streamEndMsg); end {
			break
		}
	}
	assert.False(t, m.streaming)
	assert.Equal(t, "Gophers eat roots.", m.transcript[1].text)
	assert.False(t, m.transcript[1].failed)
}

func TestAskFailureMarksEntry(t *testing.T) {
	port := &fakePort{askErr: domain.NewEmbeddingError("embed query", errors.New("timeout"))}
	m := readyModel(t, port)

	m.input.SetValue("anything")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, m.askCmd("anything")())

	require.Len(t, m.transcript, 2)
	assert.True(t, m.transcript[1].failed)
	assert.Contains(t, m.transcript[1].text, "Embedding failed")
	assert.False(t, m.streaming)
}

func TestSourcesView(t *testing.T) {
	m := readyModel(t, &fakePort{})
	m.lastQuestion = "what do they eat"

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, phaseSources, m.phase)
	require.Len(t, m.sources, 1)
	assert.Contains(t, m.renderCurrentSource(), "segment #3")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, phaseChat, m.phase)
}

func TestResetCommand(t *testing.T) {
	port := &fakePort{}
	m := readyModel(t, port)
	m.transcript = []entry{{role: domain.RoleUser, text: "hi"}}

	m.input.SetValue("/reset")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())

	assert.Equal(t, 1, port.resets)
	assert.Empty(t, m.transcript)
	assert.Equal(t, 1, m.loadSeq)
}

func TestBestSentence(t *testing.T) {
	sentences := []string{"Gophers dig tunnels.", " They eat roots and bulbs.", " Owls hunt them."}
	assert.Equal(t, 1, bestSentence(sentences, "what do they eat"))
	assert.Equal(t, -1, bestSentence(sentences, "?!"))
	assert.Equal(t, 0, bestSentence(sentences, "nothing matches"))
}

func TestHighlightBestSentenceKeepsText(t *testing.T) {
	assert.Equal(t, "", highlightBestSentence("", "q"))
	out := highlightBestSentence("Gophers dig. They eat roots.", "roots")
	assert.Contains(t, out, "Gophers dig.")
	assert.Contains(t, out, "roots")
}

func TestHighlightBestSentenceKeepsUnterminatedTail(t *testing.T) {
	out := highlightBestSentence("Gophers burrow. They eat roots and tub", "roots")
	assert.Contains(t, out, "Gophers burrow.")
	assert.Contains(t, out, "They eat roots and tub")

	out = highlightBestSentence("no terminator at all", "terminator")
	assert.Contains(t, out, "no terminator at all")
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", " Two?", " thr"}, splitSentences("One. Two? thr"))
	assert.Equal(t, []string{"One.", " Two!"}, splitSentences("One. Two! "))
	assert.Equal(t, []string{"mid sentence"}, splitSentences("mid sentence"))
}
