package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredential is returned when no API key is configured for the provider
	ErrMissingCredential = errors.New("missing provider credential")

	// ErrEmptyResponse is returned when the provider answered without any text
	ErrEmptyResponse = errors.New("provider returned an empty response")

	// ErrUnsupportedProvider is returned for unknown provider names
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Provider is a hosted multimodal model
type Provider interface {
	// Describe sends the image and prompt in a single request
	Describe(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Image is an encoded still frame
type Image struct {
	Data     []byte
	MIMEType string
}

// Base64 returns the standard base64 encoding of the image bytes
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data:<mime>;base64,<data> URL
func (i Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType, i.Base64())
}

// Request contains the parameters for one completion
type Request struct {
	Model       string
	Prompt      string
	Image       Image
	MaxTokens   int
	Temperature float64
}

// Response contains the provider's answer
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports token consumption when the provider returns it
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// finish trims the answer and rejects empty output.
func finish(provider, model, text string, usage Usage) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrEmptyResponse)
	}
	return &Response{Text: text, Model: model, Usage: usage}, nil
}

func modelOrDefault(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}
