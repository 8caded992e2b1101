package vision

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Settings selects and configures the provider
type Settings struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
}

// credentialEnv lists, in lookup order, the environment variables that may
// carry each provider's API key.
var credentialEnv = map[string][]string{
	ProviderGroq:      {"GROQ_API_KEY", "NEXT_PUBLIC_GROQ_API_KEY", "VERCEL_GROQ_API_KEY"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	ProviderGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Factory resolves credentials and builds providers, caching one client per credential
type Factory struct {
	settings Settings
	getenv   func(string) string

	mu    sync.Mutex
	cache map[string]Provider
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithEnv overrides the environment lookup
func WithEnv(getenv func(string) string) FactoryOption {
	return func(f *Factory) {
		f.getenv = getenv
	}
}

// NewFactory creates a provider factory
func NewFactory(settings Settings, opts ...FactoryOption) *Factory {
	if settings.Name == "" {
		settings.Name = ProviderGroq
	}
	f := &Factory{
		settings: settings,
		getenv:   os.Getenv,
		cache:    make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the configured provider name
func (f *Factory) Name() string {
	return f.settings.Name
}

// Credential returns the API key from settings or, when absent, from the
// provider's environment variables. It never touches the network.
func (f *Factory) Credential() (string, error) {
	envs, ok := credentialEnv[f.settings.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, f.settings.Name)
	}

	if key := strings.TrimSpace(f.settings.APIKey); key != "" {
		return key, nil
	}
	for _, name := range envs {
		if key := strings.TrimSpace(f.getenv(name)); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: set %s", ErrMissingCredential, strings.Join(envs, " or "))
}

// Provider returns a provider bound to the current credential
func (f *Factory) Provider(ctx context.Context) (Provider, error) {
	key, err := f.Credential()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.cache[key]; ok {
		return p, nil
	}

	var p Provider
	switch f.settings.Name {
	case ProviderGroq:
		p = NewGroqProvider(key, f.settings.BaseURL, f.settings.Model)
	case ProviderOpenAI:
		p = NewOpenAIProvider(key, f.settings.BaseURL, f.settings.Model)
	case ProviderAnthropic:
		p = NewAnthropicProvider(key, f.settings.BaseURL, f.settings.Model)
	case ProviderGemini:
		gp, err := NewGeminiProvider(ctx, key, f.settings.BaseURL, f.settings.Model)
		if err != nil {
			return nil, err
		}
		p = gp
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, f.settings.Name)
	}

	f.cache[key] = p
	return p, nil
}
