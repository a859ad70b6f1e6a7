package google

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/prompt"
)

// Generator streams answers from a Gemini model. It shares the Client's
// HTTP client and credentials but not its embedding rate limiter.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Name() string { return "google" }

type generateRequest struct {
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	Contents          []content `json:"contents"`
}

type generateChunk struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate starts a streamGenerateContent call. The returned stream yields
// text fragments as server-sent events arrive.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Stream, error) {
	contents := make([]content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: prompt.Build(req)}}})

	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: prompt.System}}},
		Contents:          contents,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.client.cfg.BaseURL, g.client.cfg.GenerationModel)
	resp, err := g.client.post(ctx, url, payload)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		apiErr := parseAPIError(resp.StatusCode, data)
		if apiErr.quota() {
			return nil, domain.NewQuotaError("gemini generate", apiErr)
		}
		return nil, fmt.Errorf("gemini generate: %w", apiErr)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &sseStream{body: resp.Body, scanner: scanner}, nil
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("decode gemini stream event: %w", err)
		}
		if chunk.Error != nil {
			apiErr := &APIError{StatusCode: chunk.Error.Code, Status: chunk.Error.Status, Message: chunk.Error.Message}
			if apiErr.quota() {
				return "", domain.NewQuotaError("gemini generate", apiErr)
			}
			return "", fmt.Errorf("gemini generate: %w", apiErr)
		}
		var b strings.Builder
		for _, c := range chunk.Candidates {
			for _, p := range c.Content.Parts {
				b.WriteString(p.Text)
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read gemini stream: %w", err)
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
