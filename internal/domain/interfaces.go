package domain

import "context"

// TaskType tells the embedding model whether a text is being indexed or used
// as a query, so it can place both in an asymmetric vector space.
type TaskType string

const (
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
)

// Segment is one embedded slice of the active document.
type Segment struct {
	ID     int
	Text   string
	Vector []float32
}

// ScoredSegment pairs a segment with its similarity to a query.
type ScoredSegment struct {
	Segment Segment
	Score   float64
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single turn of the conversation about the document.
type ChatMessage struct {
	Role    Role
	Content string
}

// Progress is a snapshot of ingestion progress on a 0-100 scale.
type Progress struct {
	Percentage int
	Message    string
}

// ProgressFunc receives progress snapshots. It must not block for long.
type ProgressFunc func(Progress)

// Embedder converts text into vectors via an external model.
// EmbedMany returns one vector per input, in input order.
type Embedder interface {
	Name() string
	Dimension() int
	EmbedOne(ctx context.Context, text string, task TaskType) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
}

// Index stores the segments of the active document and answers
// nearest-neighbour queries.
type Index interface {
	Add(segments ...Segment)
	Search(query []float32, k int) []Segment
	SearchScored(query []float32, k int) []ScoredSegment
	Reset()
	IsReady() bool
	Len() int
}

// GenerateRequest carries everything a generator needs to answer a question.
type GenerateRequest struct {
	Context  string
	Question string
	History  []ChatMessage
}

// Stream is a forward-only sequence of answer fragments. Recv returns io.EOF
// once the answer is complete.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Generator produces a streamed answer from retrieved context.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (Stream, error)
}
