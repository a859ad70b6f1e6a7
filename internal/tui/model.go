package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
)

// SessionPort is the TUI-facing subset of the document session.
type SessionPort interface {
	Load(ctx context.Context, path string, onProgress domain.ProgressFunc) error
	Ask(ctx context.Context, question string) (domain.Stream, error)
	Sources(ctx context.Context, question string) ([]domain.ScoredSegment, error)
	Reset()
	Ready() bool
	Segments() int
	Document() string
	Summary() string
}

type phase int

const (
	phaseLoading phase = iota
	phaseChat
	phaseSources
)

type entry struct {
	role    domain.Role
	text    string
	failed  bool
	partial bool
}

type (
	progressMsg struct {
		seq int
		p   domain.Progress
		ch  <-chan domain.Progress
	}
	loadDoneMsg struct {
		seq int
		err error
	}
	streamStartedMsg struct{ stream domain.Stream }
	fragmentMsg      struct {
		stream domain.Stream
		text   string
	}
	streamEndMsg struct{ err error }
	sourcesMsg   struct {
		question string
		results  []domain.ScoredSegment
		err      error
	}
	resetDoneMsg struct{}
)

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx  context.Context
	port SessionPort
	path string

	phase    phase
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	bar      progress.Model

	loadSeq  int
	progress domain.Progress

	transcript   []entry
	streaming    bool
	lastQuestion string
	sources      []domain.ScoredSegment
	cursor       int
	status       string
	ready        bool
}

// New creates a model that starts by loading the document at path.
func New(ctx context.Context, port SessionPort, path string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the document, or /sources, /load <file>, /reset"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:      ctx,
		port:     port,
		path:     path,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		status:   "Loading " + path,
	}
}

// Init starts the initial load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.loadCmd(m.loadSeq, m.path))
}

// loadCmd runs Load in the background and relays its progress through a
// one-slot channel that always holds the latest value, so a slow UI never
// blocks ingestion.
func (m Model) loadCmd(seq int, path string) tea.Cmd {
	ch := make(chan domain.Progress, 1)
	port, ctx := m.port, m.ctx
	run := func() tea.Msg {
		err := port.Load(ctx, path, func(p domain.Progress) { offer(ch, p) })
		close(ch)
		return loadDoneMsg{seq: seq, err: err}
	}
	return tea.Batch(run, waitProgress(seq, ch))
}

func offer(ch chan domain.Progress, p domain.Progress) {
	for {
		select {
		case ch <- p:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func waitProgress(seq int, ch <-chan domain.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return progressMsg{seq: seq, p: p, ch: ch}
	}
}

func (m Model) askCmd(question string) tea.Cmd {
	port, ctx := m.port, m.ctx
	return func() tea.Msg {
		stream, err := port.Ask(ctx, question)
		if err != nil {
			return streamEndMsg{err: err}
		}
		return streamStartedMsg{stream: stream}
	}
}

func recvCmd(stream domain.Stream) tea.Cmd {
	return func() tea.Msg {
		frag, err := stream.Recv()
		if err != nil {
			_ = stream.Close()
			if errors.Is(err, io.EOF) {
				return streamEndMsg{}
			}
			return streamEndMsg{err: err}
		}
		return fragmentMsg{stream: stream, text: frag}
	}
}

func (m Model) sourcesCmd(question string) tea.Cmd {
	port, ctx := m.port, m.ctx
	return func() tea.Msg {
		res, err := port.Sources(ctx, question)
		return sourcesMsg{question: question, results: res, err: err}
	}
}

func (m Model) resetCmd() tea.Cmd {
	port := m.port
	return func() tea.Msg {
		port.Reset()
		return resetDoneMsg{}
	}
}

// Update handles key, window and pipeline events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := boxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 3 + 1 + ih + 1 // header and summary, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.bar.Width = max(10, min(60, msg.Width-10))
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.phase != phaseLoading && !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		if msg.seq != m.loadSeq {
			return m, nil
		}
		m.progress = msg.p
		m.status = msg.p.Message
		return m, waitProgress(msg.seq, msg.ch)

	case loadDoneMsg:
		if msg.seq != m.loadSeq {
			return m, nil
		}
		m.phase = phaseChat
		switch {
		case msg.err == nil:
			m.progress = domain.Progress{Percentage: 100}
			m.status = fmt.Sprintf("Ready: %d segments from %s", m.port.Segments(), m.port.Document())
		case m.port.Ready():
			m.status = fmt.Sprintf("Indexed %d segments before stopping. %s", m.port.Segments(), domain.UserMessage(msg.err))
		default:
			m.status = domain.UserMessage(msg.err)
		}
		m.refresh()
		return m, nil

	case streamStartedMsg:
		return m, recvCmd(msg.stream)

	case fragmentMsg:
		if n := len(m.transcript); n > 0 {
			m.transcript[n-1].text += msg.text
		}
		m.refresh()
		return m, recvCmd(msg.stream)

	case streamEndMsg:
		m.streaming = false
		if n := len(m.transcript); n > 0 {
			m.transcript[n-1].partial = false
			if msg.err != nil {
				m.transcript[n-1].failed = true
				if m.transcript[n-1].text == "" {
					m.transcript[n-1].text = domain.UserMessage(msg.err)
				}
			}
		}
		if msg.err != nil {
			m.status = domain.UserMessage(msg.err)
		} else {
			m.status = "Ctrl+S shows the sources of the last answer."
		}
		m.refresh()
		return m, nil

	case sourcesMsg:
		if msg.err != nil {
			m.status = domain.UserMessage(msg.err)
			return m, nil
		}
		m.phase = phaseSources
		m.sources = msg.results
		m.cursor = 0
		m.status = fmt.Sprintf("Sources for %q (up/down to browse, esc to return)", msg.question)
		m.refresh()
		return m, nil

	case resetDoneMsg:
		m.transcript = nil
		m.sources = nil
		m.lastQuestion = ""
		m.progress = domain.Progress{}
		m.status = "Document cleared. Use /load <file> to open another."
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if m.phase == phaseSources {
			return m.updateSources(msg)
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "ctrl+s":
			if m.lastQuestion != "" && !m.streaming {
				return m, m.sourcesCmd(m.lastQuestion)
			}
			return m, nil
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateSources(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.phase = phaseChat
		m.status = "Back to chat."
	case "down":
		if len(m.sources) > 0 {
			m.cursor = (m.cursor + 1) % len(m.sources)
		}
	case "up":
		if len(m.sources) > 0 {
			m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
		}
	}
	m.refresh()
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.streaming {
		return m, nil
	}
	m.input.Reset()

	switch {
	case text == "/reset":
		m.loadSeq++
		m.phase = phaseChat
		m.status = "Clearing document..."
		return m, m.resetCmd()
	case text == "/sources":
		if m.lastQuestion == "" {
			m.status = "Ask a question first."
			return m, nil
		}
		return m, m.sourcesCmd(m.lastQuestion)
	case strings.HasPrefix(text, "/load"):
		path := strings.TrimSpace(strings.TrimPrefix(text, "/load"))
		if path == "" {
			m.status = "Usage: /load <file>"
			return m, nil
		}
		m.loadSeq++
		m.path = path
		m.phase = phaseLoading
		m.progress = domain.Progress{}
		m.transcript = nil
		m.lastQuestion = ""
		m.status = "Loading " + path
		return m, tea.Batch(m.spinner.Tick, m.loadCmd(m.loadSeq, path))
	}

	if m.phase == phaseLoading {
		m.status = "Still loading; wait for the document to be ready."
		return m, nil
	}
	m.lastQuestion = text
	m.streaming = true
	m.transcript = append(m.transcript,
		entry{role: domain.RoleUser, text: text},
		entry{role: domain.RoleAssistant, partial: true},
	)
	m.status = "Thinking..."
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.askCmd(text))
}

func (m *Model) refresh() {
	switch m.phase {
	case phaseSources:
		m.viewport.SetContent(m.renderCurrentSource())
		m.viewport.GotoTop()
	default:
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
	}
}

// View renders the header, the active pane, the input box and the status line.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}
	header := headerStyle.Render("docqa")
	doc := m.port.Document()
	if doc == "" {
		doc = m.path
	}
	if summary := m.port.Summary(); summary != "" && m.phase != phaseLoading {
		doc += ": " + summary
	}
	sub := dimStyle.Width(max(20, m.viewport.Width)).MaxHeight(2).Render(doc)

	var body string
	if m.phase == phaseLoading {
		body = boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			m.spinner.View()+" "+m.progress.Message,
			"",
			m.bar.ViewAs(float64(m.progress.Percentage)/100),
		))
	} else {
		body = boxStyle.Render(m.viewport.View())
	}

	status := statusStyle.Render(m.status)
	if m.streaming {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + sub + "\n" + body + "\n" + inputBoxStyle.Render(m.input.View()) + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		if m.port.Ready() {
			return dimStyle.Render("Document ready. Ask a question below.")
		}
		return dimStyle.Render("No document loaded.")
	}
	width := max(10, m.viewport.Width-2)
	var b strings.Builder
	for i, e := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label := userStyle.Render("You")
		if e.role == domain.RoleAssistant {
			label = assistantStyle.Render("Assistant")
		}
		text := e.text
		if e.partial && text == "" {
			text = "..."
		}
		style := lipgloss.NewStyle().Width(width)
		if e.failed {
			style = style.Foreground(lipgloss.Color("9"))
		}
		b.WriteString(label + "\n" + style.Render(text))
	}
	return b.String()
}

func (m Model) renderCurrentSource() string {
	if len(m.sources) == 0 {
		return "No sources: the document has no indexed segments."
	}
	r := m.sources[m.cursor]
	title := fmt.Sprintf("Source %d/%d  segment #%d  score=%.3f", m.cursor+1, len(m.sources), r.Segment.ID, r.Score)
	body := highlightBestSentence(r.Segment.Text, m.lastQuestion)
	return title + "\n\n" + lipgloss.NewStyle().Width(max(10, m.viewport.Width-2)).Render(body)
}

var (
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasises the sentence of text sharing the most
// words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := splitSentences(text)
	best := bestSentence(sentences, query)
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == best {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

// splitSentences splits text on sentence terminators. Text after the last
// terminator is kept as a final sentence, since segments are cut at fixed
// widths and usually end mid-sentence.
func splitSentences(text string) []string {
	var sentences []string
	end := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[loc[0]:loc[1]])
		end = loc[1]
	}
	if tail := text[end:]; strings.TrimSpace(tail) != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// bestSentence returns the index of the first sentence with the highest
// word overlap, or -1 when query has no words.
func bestSentence(sentences []string, query string) int {
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return -1
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	return bestIdx
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
