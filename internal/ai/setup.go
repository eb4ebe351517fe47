package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/chat-orchestrator/internal/config"
)

// NewRegistryFromConfig registers every backend the configuration can reach.
func NewRegistryFromConfig(cfg config.LLM) *Registry {
	reg := NewRegistry()
	opts := Options{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}

	reg.Register("openai", func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("LLM_OPENAI_API_KEY is not set")
		}
		return NewOpenAIProvider(NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), model, opts), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(cfg.OpenRouterKey) == "" {
			return nil, errors.New("LLM_OPENROUTER_API_KEY is not set")
		}
		return NewOpenRouterProvider(OpenRouterConfig{
			BaseURL: cfg.OpenRouterURL,
			APIKey:  cfg.OpenRouterKey,
			SiteURL: cfg.OpenRouterSite,
			AppName: cfg.OpenRouterApp,
		}, model, opts), nil
	})
	reg.Register("anthropic", func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(cfg.AnthropicKey) == "" {
			return nil, errors.New("LLM_ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicProvider(cfg.AnthropicKey, model, opts), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider(cfg.OllamaBaseURL, model, opts), nil
	})
	return reg
}

// NewEmbedderFromConfig falls back to the offline hash embedder without an OpenAI key.
func NewEmbedderFromConfig(llm config.LLM, emb config.Embed) Embedder {
	if strings.TrimSpace(llm.OpenAIAPIKey) == "" {
		return NewHashEmbedder(emb.Dimensions)
	}
	return NewOpenAIEmbedder(NewOpenAIClient(llm.OpenAIAPIKey, llm.OpenAIBaseURL), emb.Model, emb.Dimensions)
}
