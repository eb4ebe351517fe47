package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIProvider struct {
	client *openai.Client
	Model  string
	Opts   Options
}

func NewOpenAIClient(apiKey, baseURL string, extra ...option.RequestOption) *openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	opts = append(opts, extra...)
	client := openai.NewClient(opts...)
	return &client
}

func NewOpenAIProvider(client *openai.Client, model string, o Options) *OpenAIProvider {
	return &OpenAIProvider{client: client, Model: model, Opts: o}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.client == nil {
		return "", errors.New("openai: client is nil")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", errors.New("openai: model is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if p.Opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.Opts.MaxTokens))
	}
	if p.Opts.Temperature > 0 {
		params.Temperature = openai.Float(p.Opts.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder produces query embeddings with the embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	Model      string
	Dimensions int
}

func NewOpenAIEmbedder(client *openai.Client, model string, dimensions int) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, Model: model, Dimensions: dimensions}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, errors.New("openai embed: client is nil")
	}
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	}
	if e.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.Dimensions))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: empty response")
	}
	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
