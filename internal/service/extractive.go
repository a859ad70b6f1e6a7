package service

import (
	"context"
	"io"
	"strings"

	"docqa/internal/domain"
)

// ExtractiveGenerator answers by quoting the retrieved context. It needs no
// model and pairs with the offline hashing embedder.
type ExtractiveGenerator struct {
	separator string
}

func NewExtractiveGenerator(separator string) *ExtractiveGenerator {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &ExtractiveGenerator{separator: separator}
}

func (g *ExtractiveGenerator) Name() string { return "extractive" }

// Generate streams one fragment per retrieved passage.
func (g *ExtractiveGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Context) == "" {
		return &sliceStream{frags: []string{"I could not find anything in the document related to that question."}}, nil
	}
	passages := strings.Split(req.Context, g.separator)
	frags := make([]string, 0, len(passages)+1)
	frags = append(frags, "The most relevant passages are:\n\n")
	for i, p := range passages {
		if i > 0 {
			p = g.separator + p
		}
		frags = append(frags, p)
	}
	return &sliceStream{frags: frags}, nil
}

type sliceStream struct {
	frags []string
	pos   int
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.frags) {
		return "", io.EOF
	}
	f := s.frags[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.frags)
	return nil
}
