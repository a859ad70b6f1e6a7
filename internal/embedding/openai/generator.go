package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/prompt"
)

// Generator streams chat completions for retrieved context.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Name() string { return "openai" }

// Generate opens a chat completion stream. History is replayed before the
// prompt so follow-up questions keep their conversational context.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Stream, error) {
	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt.System}}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.Build(req)})

	stream, err := g.client.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.client.cfg.GenerationModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		if isQuota(err) {
			return nil, domain.NewQuotaError("openai generate", err)
		}
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	return &chatStream{stream: stream}, nil
}

type chatStream struct {
	stream *openai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("openai stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}
