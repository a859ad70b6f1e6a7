package embedding

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding/google"
	"docqa/internal/embedding/hashing"
	"docqa/internal/embedding/openai"
	"docqa/internal/service"
)

// Provider pairs the embedder and generator selected by configuration.
type Provider struct {
	Embedder  domain.Embedder
	Generator domain.Generator
}

// Dimension is the vector size the index should expect, or 0 when the
// provider's model decides.
func (p *Provider) Dimension() int { return p.Embedder.Dimension() }

// New builds the provider named by cfg.Type.
func New(cfg config.ProviderConfig, separator string, logger zerolog.Logger) (*Provider, error) {
	switch cfg.Type {
	case "google":
		g := cfg.Google
		if g == nil {
			g = &config.GoogleConfig{}
		}
		client, err := google.NewClient(google.Config{
			BaseURL:           g.BaseURL,
			APIKeyEnv:         g.APIKeyEnv,
			EmbeddingModel:    g.EmbeddingModel,
			GenerationModel:   g.GenerationModel,
			Dimension:         cfg.Dimension,
			Timeout:           time.Duration(g.TimeoutSecs) * time.Second,
			RequestsPerMinute: g.RequestsPerMinute,
			MaxRetries:        g.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		return &Provider{Embedder: client, Generator: google.NewGenerator(client)}, nil
	case "openai":
		o := cfg.OpenAI
		if o == nil {
			o = &config.OpenAIConfig{}
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:         o.BaseURL,
			APIKeyEnv:       o.APIKeyEnv,
			EmbeddingModel:  o.EmbeddingModel,
			GenerationModel: o.GenerationModel,
			Dimension:       cfg.Dimension,
			Timeout:         time.Duration(o.TimeoutSecs) * time.Second,
			MaxRetries:      o.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return &Provider{Embedder: client, Generator: openai.NewGenerator(client)}, nil
	case "local":
		return &Provider{
			Embedder:  hashing.NewEmbedder(cfg.Dimension),
			Generator: service.NewExtractiveGenerator(separator),
		}, nil
	default:
		return nil, domain.InvalidInputf("unknown provider type %q", cfg.Type)
	}
}
