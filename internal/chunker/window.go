package chunker

import (
	"strings"

	"docqa/internal/domain"
)

// Window splits text into fixed-size character windows that overlap by a
// fixed number of characters. It has no notion of sentences or paragraphs.
type Window struct {
	size    int
	overlap int
}

// NewWindow validates the window geometry once so Split cannot fail later.
func NewWindow(size, overlap int) (*Window, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Window{size: size, overlap: overlap}, nil
}

func (w *Window) Size() int    { return w.size }
func (w *Window) Overlap() int { return w.overlap }

// Split returns the non-blank windows of text.
func (w *Window) Split(text string) []string {
	return split([]rune(text), w.size, w.overlap)
}

// Chunk splits text into windows of size characters, each starting
// size-overlap characters after the previous one. Windows that contain only
// whitespace are dropped. Empty text yields no chunks.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return split([]rune(text), size, overlap), nil
}

func validate(size, overlap int) error {
	if overlap < 0 {
		return domain.InvalidInputf("chunk overlap must not be negative, got %d", overlap)
	}
	if size <= overlap {
		return domain.InvalidInputf("chunk size %d must be greater than overlap %d", size, overlap)
	}
	return nil
}

func split(runes []rune, size, overlap int) []string {
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		text := string(runes[start:end])
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, text)
	}
	return chunks
}
