package chatmodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"agentbridge/internal/domain"
)

func TestProviderConfigDefaults(t *testing.T) {
	cfg, err := providerConfig(domain.ModelSpec{ModelName: "qwen-max", ModelProvider: ProviderDashScope, APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, dashScopeBaseURL, cfg.BaseURL)

	cfg, err = providerConfig(domain.ModelSpec{ModelName: "llama3", ModelProvider: ProviderOllama})
	require.NoError(t, err)
	require.Equal(t, ollamaBaseURL, cfg.BaseURL)

	cfg, err = providerConfig(domain.ModelSpec{ModelName: "gpt-4o", ModelProvider: ProviderOpenAI})
	require.NoError(t, err)
	require.Empty(t, cfg.BaseURL)
}

func TestProviderConfigExplicitBaseURLWins(t *testing.T) {
	cfg, err := providerConfig(domain.ModelSpec{
		ModelName:     "qwen-max",
		ModelProvider: ProviderDashScope,
		BaseURL:       "https://proxy.internal/v1",
	})
	require.NoError(t, err)
	require.Equal(t, "https://proxy.internal/v1", cfg.BaseURL)
}

func TestProviderConfigUnknownProvider(t *testing.T) {
	_, err := providerConfig(domain.ModelSpec{ModelName: "m", ModelProvider: "mystery"})
	var unknown *domain.UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "mystery", unknown.Provider)
}

func TestProviderConfigArgs(t *testing.T) {
	cfg, err := providerConfig(domain.ModelSpec{
		ModelName: "gpt-4o",
		Args: map[string]any{
			"temperature": 0.2,
			"top_p":       0.9,
			"max_tokens":  float64(512),
			"mystery":     "ignored",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.Temperature)
	require.InDelta(t, 0.2, float64(*cfg.Temperature), 1e-6)
	require.NotNil(t, cfg.TopP)
	require.InDelta(t, 0.9, float64(*cfg.TopP), 1e-6)
	require.NotNil(t, cfg.MaxTokens)
	require.Equal(t, 512, *cfg.MaxTokens)
}
