package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicProvider struct {
	client *anthropic.Client
	Model  string
	Opts   Options
}

func NewAnthropicProvider(apiKey, model string, o Options) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(strings.TrimSpace(apiKey)))
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	return &AnthropicProvider{client: &client, Model: model, Opts: o}
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	system, rest := splitSystem(messages)
	if len(rest) == 0 {
		return "", errors.New("anthropic: at least one user message is required")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.Model),
		MaxTokens: int64(p.Opts.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(rest)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.Opts.Temperature > 0 {
		params.Temperature = anthropic.Float(p.Opts.Temperature)
	}
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic: empty response")
	}
	return sb.String(), nil
}
