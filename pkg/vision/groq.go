package vision

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const (
	ProviderGroq = "groq"

	// GroqBaseURL is Groq's OpenAI-compatible endpoint
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	DefaultGroqModel = "meta-llama/llama-4-scout-17b-16e-instruct"
)

// GroqProvider talks to Groq through its OpenAI-compatible chat API
type GroqProvider struct {
	client *openai.Client
	model  string
}

// NewGroqProvider creates a Groq provider. An empty baseURL uses GroqBaseURL.
func NewGroqProvider(apiKey, baseURL, model string) *GroqProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = GroqBaseURL
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &GroqProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  modelOrDefault(model, DefaultGroqModel),
	}
}

func (p *GroqProvider) Name() string {
	return ProviderGroq
}

// Describe sends one user message with a text part and an image_url part
func (p *GroqProvider) Describe(ctx context.Context, req Request) (*Response, error) {
	model := modelOrDefault(req.Model, p.model)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: req.Prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    req.Image.DataURL(),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("groq: chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("groq: %w", ErrEmptyResponse)
	}

	return finish(ProviderGroq, resp.Model, resp.Choices[0].Message.Content, Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})
}
