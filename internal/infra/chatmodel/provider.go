// Package chatmodel builds chat model providers from registry configuration
// and keeps them hot-swappable behind a stable model handle.
package chatmodel

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"agentbridge/internal/domain"
)

// Provider tags accepted in model configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderDashScope = "dashscope"
	ProviderOllama    = "ollama"
)

// OpenAI-compatible default endpoints for the non-openai providers.
const (
	dashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	ollamaBaseURL    = "http://localhost:11434/v1"
)

// BuildFunc turns a model spec into a live provider. Injectable for tests.
type BuildFunc func(ctx context.Context, spec domain.ModelSpec) (model.ToolCallingChatModel, error)

// BuildProvider constructs a chat model from the spec. DashScope and Ollama
// run through the OpenAI-compatible endpoint with their default base URLs;
// an explicit BaseURL in the spec always wins.
func BuildProvider(ctx context.Context, spec domain.ModelSpec) (model.ToolCallingChatModel, error) {
	cfg, err := providerConfig(spec)
	if err != nil {
		return nil, err
	}
	return openai.NewChatModel(ctx, cfg)
}

func providerConfig(spec domain.ModelSpec) (*openai.ChatModelConfig, error) {
	cfg := &openai.ChatModelConfig{
		Model:   spec.ModelName,
		APIKey:  spec.APIKey,
		BaseURL: spec.BaseURL,
	}
	switch spec.ModelProvider {
	case ProviderOpenAI, "":
	case ProviderDashScope:
		if cfg.BaseURL == "" {
			cfg.BaseURL = dashScopeBaseURL
		}
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = ollamaBaseURL
		}
	default:
		return nil, &domain.UnknownProviderError{Provider: spec.ModelProvider}
	}
	applyArgs(cfg, spec.Args)
	return cfg, nil
}

// applyArgs maps the recognized generation arguments onto the config.
// Unknown keys are ignored so registry configs can carry provider-specific
// extras without breaking older bridges.
func applyArgs(cfg *openai.ChatModelConfig, args map[string]any) {
	if v, ok := floatArg(args, "temperature"); ok {
		t := float32(v)
		cfg.Temperature = &t
	}
	if v, ok := floatArg(args, "top_p"); ok {
		t := float32(v)
		cfg.TopP = &t
	}
	if v, ok := floatArg(args, "max_tokens"); ok {
		n := int(v)
		cfg.MaxTokens = &n
	}
}

func floatArg(args map[string]any, key string) (float64, bool) {
	raw, ok := args[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
