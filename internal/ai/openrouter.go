package ai

import (
	"strings"

	"github.com/openai/openai-go/option"
)

type OpenRouterConfig struct {
	BaseURL string
	APIKey  string
	SiteURL string
	AppName string
}

// NewOpenRouterProvider talks to OpenRouter through its OpenAI-compatible API.
func NewOpenRouterProvider(cfg OpenRouterConfig, model string, o Options) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	var headers []option.RequestOption
	if cfg.SiteURL != "" {
		headers = append(headers, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.AppName != "" {
		headers = append(headers, option.WithHeader("X-Title", cfg.AppName))
	}
	return NewOpenAIProvider(NewOpenAIClient(cfg.APIKey, baseURL, headers...), model, o)
}
