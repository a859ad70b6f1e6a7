package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"docqa/internal/domain"
)

const (
	defaultBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	defaultEmbeddingModel  = "text-embedding-004"
	defaultGenerationModel = "gemini-1.5-flash"
)

// Config configures the Gemini API client.
type Config struct {
	BaseURL         string
	APIKeyEnv       string
	EmbeddingModel  string
	GenerationModel string
	// Dimension requests a reduced output size when positive.
	Dimension int
	Timeout   time.Duration
	// RequestsPerMinute caps embedding requests. Zero means unlimited.
	RequestsPerMinute int
	// MaxRetries bounds retries of transient failures (transport, 5xx).
	MaxRetries int
}

// Client talks to the Gemini REST API. It implements domain.Embedder.
type Client struct {
	cfg     Config
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// APIError is an error response returned by the Gemini API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini api %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini api %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) quota() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
}

func (e *APIError) retryable() bool {
	switch e.StatusCode {
	case 500, 502, 503, 504:
		return true
	}
	return false
}

// NewClient creates a client reading its API key from cfg.APIKeyEnv.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = defaultGenerationModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &Client{
		cfg:     cfg,
		apiKey:  key,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "gemini").Logger(),
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "google" }

// Dimension returns the configured output dimensionality, or 0 when the
// model default is used.
func (c *Client) Dimension() int { return c.cfg.Dimension }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type embedRequest struct {
	Model                string  `json:"model"`
	Content              content `json:"content"`
	TaskType             string  `json:"taskType,omitempty"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type embedValues struct {
	Values []float32 `json:"values"`
}

func (c *Client) newEmbedRequest(text string, task domain.TaskType) embedRequest {
	return embedRequest{
		Model:                "models/" + c.cfg.EmbeddingModel,
		Content:              content{Parts: []part{{Text: text}}},
		TaskType:             string(task),
		OutputDimensionality: c.cfg.Dimension,
	}
}

// EmbedOne embeds a single text with the given task type.
func (c *Client) EmbedOne(ctx context.Context, text string, task domain.TaskType) ([]float32, error) {
	var out struct {
		Embedding embedValues `json:"embedding"`
	}
	url := fmt.Sprintf("%s/models/%s:embedContent", c.cfg.BaseURL, c.cfg.EmbeddingModel)
	if err := c.call(ctx, "embed content", url, c.newEmbedRequest(text, task), &out); err != nil {
		return nil, err
	}
	if len(out.Embedding.Values) == 0 {
		return nil, domain.NewEmbeddingError("embed content", errors.New("empty embedding returned"))
	}
	return out.Embedding.Values, nil
}

// EmbedMany embeds texts in one batchEmbedContents request. The returned
// slice has the length the API returned; callers verify it.
func (c *Client) EmbedMany(ctx context.Context, texts []string, task domain.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	reqs := make([]embedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = c.newEmbedRequest(t, task)
	}
	var out struct {
		Embeddings []embedValues `json:"embeddings"`
	}
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", c.cfg.BaseURL, c.cfg.EmbeddingModel)
	body := struct {
		Requests []embedRequest `json:"requests"`
	}{Requests: reqs}
	if err := c.call(ctx, "batch embed contents", url, body, &out); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(out.Embeddings))
	for i, e := range out.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

// call posts body to url, retrying transient failures, and decodes the JSON
// response into out. Errors are classified as embedding or quota failures.
func (c *Client) call(ctx context.Context, op, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.NewEmbeddingError(op, fmt.Errorf("marshal request: %w", err))
	}

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.post(ctx, url, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := parseAPIError(resp.StatusCode, data)
			if apiErr.retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(c.cfg.MaxRetries)), ctx)
	err = backoff.RetryNotify(operation, b, func(err error, d time.Duration) {
		c.logger.Warn().Err(err).Str("op", op).Dur("retry_in", d).Msg("transient gemini failure")
	})
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.quota() {
		return domain.NewQuotaError(op, err)
	}
	return domain.NewEmbeddingError(op, err)
}

func (c *Client) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	return c.http.Do(req)
}

func parseAPIError(status int, body []byte) *APIError {
	var errorResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err != nil || errorResp.Error.Message == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Status: errorResp.Error.Status, Message: errorResp.Error.Message}
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}
