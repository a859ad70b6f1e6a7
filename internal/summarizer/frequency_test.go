package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizePicksFrequentSentencesInOrder(t *testing.T) {
	text := "Gophers dig burrows. The weather was mild. Gophers eat roots near burrows. Owls fly."
	got := NewFrequency(0).Summarize(text, 2)
	assert.Equal(t, "Gophers dig burrows. Gophers eat roots near burrows.", got)
}

func TestSummarizeWithoutSentenceEnd(t *testing.T) {
	got := NewFrequency(0).Summarize("  a title\nwithout   punctuation ", 3)
	assert.Equal(t, "a title without punctuation", got)
}

func TestSummarizeDefaultsAndShortens(t *testing.T) {
	s := NewFrequency(10)
	got := s.Summarize("One sentence here. Two sentences here. Three sentences here. Four sentences here.", 0)
	parts := strings.Split(got, "… ")
	assert.Len(t, parts, DefaultSentences)
	for _, p := range parts {
		assert.LessOrEqual(t, len([]rune(strings.TrimSuffix(p, "…"))), 10)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, "", NewFrequency(0).Summarize("", 3))
}
