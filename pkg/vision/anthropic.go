package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	ProviderAnthropic     = "anthropic"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
)

// AnthropicProvider implements Provider for the Anthropic messages API
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, baseURL, model string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  modelOrDefault(model, DefaultAnthropicModel),
	}
}

func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}

// Describe sends a base64 image block followed by the prompt text block
func (p *AnthropicProvider) Describe(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model: anthropic.Model(modelOrDefault(req.Model, p.model)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(req.Image.MIMEType, req.Image.Base64()),
				anthropic.NewTextBlock(req.Prompt),
			),
		},
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}

	return finish(ProviderAnthropic, string(resp.Model), text.String(), Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	})
}
