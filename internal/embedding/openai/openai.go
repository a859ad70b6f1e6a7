package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
)

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL         string
	APIKeyEnv       string
	EmbeddingModel  string
	GenerationModel string
	Dimension       int
	Timeout         time.Duration
	MaxRetries      int
}

// Client is an OpenAI-compatible embeddings client implementing
// domain.Embedder. OpenAI models have no task types, so the task is ignored.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger zerolog.Logger
}

// NewClient creates a new client using the provided configuration.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = openai.GPT4oMini
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	apiCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: logger.With().Str("component", "openai").Logger(),
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns the requested output dimensionality (0 = model default).
func (c *Client) Dimension() int { return c.cfg.Dimension }

// EmbedOne returns an embedding vector for the given text.
func (c *Client) EmbedOne(ctx context.Context, text string, task domain.TaskType) ([]float32, error) {
	vs, err := c.EmbedMany(ctx, []string{text}, task)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 || len(vs[0]) == 0 {
		return nil, domain.NewEmbeddingError("openai embed", errors.New("no embedding returned"))
	}
	return vs[0], nil
}

// EmbedMany embeds texts in a single request, ordered by the response index.
func (c *Client) EmbedMany(ctx context.Context, texts []string, _ domain.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Dimensions: c.cfg.Dimension,
	}

	var resp openai.EmbeddingResponse
	operation := func() error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, req)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)), ctx)
	err := backoff.RetryNotify(operation, b, func(err error, d time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", d).Msg("transient openai failure")
	})
	if err != nil {
		if isQuota(err) {
			return nil, domain.NewQuotaError("openai embed", err)
		}
		return nil, domain.NewEmbeddingError("openai embed", err)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func isQuota(err error) bool {
	if statusCode(err) == http.StatusTooManyRequests {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Type == "insufficient_quota" {
			return true
		}
		if code, ok := apiErr.Code.(string); ok && (code == "insufficient_quota" || code == "rate_limit_exceeded") {
			return true
		}
	}
	return false
}

func retryable(err error) bool {
	if isQuota(err) {
		return false
	}
	code := statusCode(err)
	return code == 0 || code >= 500
}
