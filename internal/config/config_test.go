package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/cost-estimator/internal/llm"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ESTIMATE_STRUCTURED", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("INJECT_SELECTION", "")
	t.Setenv("MAX_UPLOAD_BYTES", "")
	t.Setenv("LLM_REQUEST_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, "azure", cfg.LLMProvider)
	assert.True(t, cfg.EstimateStructured)
	assert.True(t, cfg.InjectSelection)
	assert.Equal(t, 10<<20, cfg.MaxUploadBytes)
	assert.Equal(t, 2*time.Minute, cfg.LLMRequestTimeout)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("ESTIMATE_STRUCTURED", "false")
	t.Setenv("LLM_REQUEST_TIMEOUT", "45s")
	t.Setenv("MAX_UPLOAD_BYTES", "not-a-number")

	cfg := Load()

	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.False(t, cfg.EstimateStructured)
	assert.Equal(t, 45*time.Second, cfg.LLMRequestTimeout)
	assert.Equal(t, 10<<20, cfg.MaxUploadBytes)

	oc := cfg.Orchestrator()
	assert.False(t, oc.StructuredEstimate)
	assert.Equal(t, 45*time.Second, oc.RequestTimeout)
}

func TestLLMConfig(t *testing.T) {
	cfg := &Config{
		LLMProvider:           "azure",
		AzureOpenAIAPIKey:     "key",
		AzureOpenAIEndpoint:   "https://example.openai.azure.com/",
		AzureOpenAIDeployment: "arch-gpt4o",
		AzureOpenAIAPIVersion: "2024-02-15-preview",
	}
	lc, err := cfg.LLM()
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderAzure, lc.Provider)
	assert.Equal(t, "arch-gpt4o", lc.Model)

	cfg.AzureOpenAIDeployment = ""
	_, err = cfg.LLM()
	assert.Error(t, err)

	_, err = (&Config{LLMProvider: "openai"}).LLM()
	assert.Error(t, err)

	_, err = (&Config{LLMProvider: "gemini"}).LLM()
	assert.ErrorContains(t, err, "unknown LLM_PROVIDER")

	lc, err = (&Config{LLMProvider: "anthropic", AnthropicAPIKey: "k"}).LLM()
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderAnthropic, lc.Provider)
}
