package embedding

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/domain"
)

func TestNewLocalProvider(t *testing.T) {
	p, err := New(config.ProviderConfig{Type: "local", Dimension: 128}, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "hashing", p.Embedder.Name())
	assert.Equal(t, "extractive", p.Generator.Name())
	assert.Equal(t, 128, p.Dimension())
}

func TestNewGoogleProvider(t *testing.T) {
	t.Setenv("DOCQA_TEST_GEMINI_KEY", "secret")
	cfg := config.Default()
	cfg.Provider.Google.APIKeyEnv = "DOCQA_TEST_GEMINI_KEY"

	p, err := New(cfg.Provider, cfg.Retrieval.Separator, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "google", p.Embedder.Name())
	assert.Equal(t, "google", p.Generator.Name())
	assert.Equal(t, config.DefaultDimension, p.Dimension())
}

func TestNewOpenAIProviderMissingKey(t *testing.T) {
	t.Setenv("DOCQA_TEST_OPENAI_KEY", "")
	_, err := New(config.ProviderConfig{
		Type:   "openai",
		OpenAI: &config.OpenAIConfig{APIKeyEnv: "DOCQA_TEST_OPENAI_KEY"},
	}, "", zerolog.Nop())
	assert.ErrorContains(t, err, "DOCQA_TEST_OPENAI_KEY")
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(config.ProviderConfig{Type: "bert"}, "", zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
