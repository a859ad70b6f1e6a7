package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
	"docqa/internal/logging"
)

// GoogleConfig holds configuration for the Gemini API.
type GoogleConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	EmbeddingModel    string `yaml:"embedding_model"`
	GenerationModel   string `yaml:"generation_model"`
	TimeoutSecs       int    `yaml:"timeout_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxRetries        int    `yaml:"max_retries"`
}

// OpenAIConfig holds configuration for an OpenAI-compatible API.
type OpenAIConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKeyEnv       string `yaml:"api_key_env"`
	EmbeddingModel  string `yaml:"embedding_model"`
	GenerationModel string `yaml:"generation_model"`
	TimeoutSecs     int    `yaml:"timeout_secs"`
	MaxRetries      int    `yaml:"max_retries"`
}

// ProviderConfig selects the embedding and generation backend.
// Type is one of "google", "openai" or "local".
type ProviderConfig struct {
	Type string `yaml:"type"`
	// Dimension is the expected embedding size. It is sent to providers that
	// support reduced output and used to flag vectors of the wrong size.
	Dimension int           `yaml:"dimension"`
	Google    *GoogleConfig `yaml:"google,omitempty"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures the fixed-width sliding window.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IngestConfig configures batched embedding.
type IngestConfig struct {
	BatchSize    int `yaml:"batch_size"`
	BatchDelayMS int `yaml:"batch_delay_ms"`
}

// RetrievalConfig configures context assembly.
type RetrievalConfig struct {
	TopK      int    `yaml:"top_k"`
	Separator string `yaml:"separator"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       logging.Config  `yaml:"log"`
}

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultBatchSize    = 20
	DefaultBatchDelayMS = 1000
	DefaultTopK         = 5
	DefaultDimension    = 768
	DefaultSeparator    = "\n\n---\n\n"
)

// BatchDelay returns the inter-batch pause as a duration.
func (c *AppConfig) BatchDelay() time.Duration {
	return time.Duration(c.Ingest.BatchDelayMS) * time.Millisecond
}

// Validate rejects settings the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Provider.Type {
	case "google", "openai", "local":
	default:
		return domain.InvalidInputf("unknown provider type %q", c.Provider.Type)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Size <= c.Chunker.Overlap {
		return domain.InvalidInputf("chunker size %d must be greater than overlap %d >= 0", c.Chunker.Size, c.Chunker.Overlap)
	}
	if c.Ingest.BatchSize <= 0 {
		return domain.InvalidInputf("ingest batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.BatchDelayMS < 0 {
		return domain.InvalidInputf("ingest batch_delay_ms must not be negative, got %d", c.Ingest.BatchDelayMS)
	}
	if c.Retrieval.TopK <= 0 {
		return domain.InvalidInputf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Provider.Dimension < 0 {
		return domain.InvalidInputf("provider dimension must not be negative, got %d", c.Provider.Dimension)
	}
	return nil
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	// Omitted keys keep their base values; explicit zeroes are kept.
	cfg := baseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	var set struct {
		Chunker struct {
			Overlap *int `yaml:"overlap"`
		} `yaml:"chunker"`
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	if set.Chunker.Overlap == nil {
		cfg.Chunker.Overlap = DefaultOverlapFor(cfg.Chunker.Size)
	}
	return cfg, nil
}

// LoadDefault tries ./docqa.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "docqa.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := DefaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultUserConfigPath is ~/.config/docqa/config.yaml.
func DefaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

// Default returns a fresh copy of the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func defaultConfig() *AppConfig {
	cfg := baseConfig()
	applyConfigDefaults(cfg)
	cfg.Chunker.Overlap = DefaultOverlapFor(cfg.Chunker.Size)
	return cfg
}

// DefaultOverlapFor returns the overlap used when none is configured:
// DefaultChunkOverlap, capped at a fifth of size so it stays below it.
func DefaultOverlapFor(size int) int {
	return min(DefaultChunkOverlap, size/5)
}

func baseConfig() *AppConfig {
	return &AppConfig{
		Provider:  ProviderConfig{Type: "google", Dimension: DefaultDimension},
		Chunker:   ChunkerConfig{Size: DefaultChunkSize},
		Ingest:    IngestConfig{BatchSize: DefaultBatchSize, BatchDelayMS: DefaultBatchDelayMS},
		Retrieval: RetrievalConfig{TopK: DefaultTopK, Separator: DefaultSeparator},
		Log:       logging.Config{Level: "info"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = "google"
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = DefaultChunkSize
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = DefaultBatchSize
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Retrieval.Separator == "" {
		cfg.Retrieval.Separator = DefaultSeparator
	}
	switch cfg.Provider.Type {
	case "google":
		if cfg.Provider.Google == nil {
			cfg.Provider.Google = &GoogleConfig{}
		}
		g := cfg.Provider.Google
		if g.BaseURL == "" {
			g.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
		}
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "GEMINI_API_KEY"
		}
		if g.EmbeddingModel == "" {
			g.EmbeddingModel = "text-embedding-004"
		}
		if g.GenerationModel == "" {
			g.GenerationModel = "gemini-1.5-flash"
		}
		if g.TimeoutSecs == 0 {
			g.TimeoutSecs = 30
		}
		if g.MaxRetries == 0 {
			g.MaxRetries = 3
		}
	case "openai":
		if cfg.Provider.OpenAI == nil {
			cfg.Provider.OpenAI = &OpenAIConfig{}
		}
		o := cfg.Provider.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.EmbeddingModel == "" {
			o.EmbeddingModel = "text-embedding-3-small"
		}
		if o.GenerationModel == "" {
			o.GenerationModel = "gpt-4o-mini"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	}
}
