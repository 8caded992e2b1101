package analyze

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/harun/iris/internal/observability"
	"github.com/harun/iris/internal/tracing"
	"github.com/harun/iris/pkg/session"
	"github.com/harun/iris/pkg/vision"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "iris.analyze"

	// DefaultTimeout bounds the wait for the provider's answer
	DefaultTimeout = 30 * time.Second

	msgMethodNotAllowed = "Method not allowed. Please use POST."
	msgNoImage          = "No image file provided"
	msgNotAnImage       = "Uploaded file is not an image"
	msgConfiguration    = "API key configuration error. Please check server configuration."
	msgSessionNotFound  = "Session not found"
)

// ProviderSource hands out the configured vision provider. Credential must
// not perform network calls.
type ProviderSource interface {
	Credential() (string, error)
	Provider(ctx context.Context) (vision.Provider, error)
}

// Generation holds the sampling parameters of one prompt mode
type Generation struct {
	MaxTokens   int
	Temperature float64
}

// Config holds analyzer configuration
type Config struct {
	Store     session.Store
	Providers ProviderSource
	Logger    zerolog.Logger

	// Model overrides the provider's default model when set
	Model    string
	Describe Generation
	Question Generation

	// Timeout bounds the provider call. Zero means DefaultTimeout.
	Timeout time.Duration
	// ContextTurns keeps only the most recent turns in the prompt. Zero keeps all.
	ContextTurns int
}

// Input is one analyze request
type Input struct {
	Method    string
	Image     *vision.Image
	Question  string
	SessionID string
}

// Result is a successful analysis
type Result struct {
	Analysis  string
	SessionID string
	Stats     session.Stats
}

// MemoryResult describes a session's memory after a read or clear
type MemoryResult struct {
	SessionID string
	Stats     session.Stats
}

// Analyzer runs the analyze flow against a store and a provider
type Analyzer struct {
	store        session.Store
	providers    ProviderSource
	logger       zerolog.Logger
	model        string
	describe     Generation
	question     Generation
	timeout      time.Duration
	contextTurns int
}

// New creates an analyzer
func New(cfg Config) (*Analyzer, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider source is required")
	}
	if cfg.ContextTurns < 0 {
		return nil, fmt.Errorf("context turns must not be negative")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Describe.MaxTokens <= 0 {
		cfg.Describe = Generation{MaxTokens: 100, Temperature: 0.7}
	}
	if cfg.Question.MaxTokens <= 0 {
		cfg.Question = Generation{MaxTokens: 75, Temperature: 0.2}
	}

	return &Analyzer{
		store:        cfg.Store,
		providers:    cfg.Providers,
		logger:       cfg.Logger,
		model:        cfg.Model,
		describe:     cfg.Describe,
		question:     cfg.Question,
		timeout:      cfg.Timeout,
		contextTurns: cfg.ContextTurns,
	}, nil
}

// Analyze validates the input, calls the provider once and records the
// question and answer in the caller's session.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	question := strings.TrimSpace(in.Question)
	mode := modeFor(question)

	ctx, span := tracing.StartSpan(ctx, tracerName, "analyze.request",
		attribute.String("mode", string(mode)),
		attribute.Bool("session_present", in.SessionID != ""),
	)
	defer span.End()

	result, err := a.analyze(ctx, in, question, mode)
	observability.RecordAnalyze(string(mode), time.Since(start), err == nil)

	logger := tracing.LoggerFromContext(ctx, a.logger)
	if err != nil {
		tracing.FailSpan(span, err)
		e := AsError(err)
		logger.Error().
			Err(err).
			Str("kind", e.Kind.String()).
			Str("mode", string(mode)).
			Dur("duration", time.Since(start)).
			Msg("Analyze request failed")
		return nil, e
	}

	span.SetAttributes(
		attribute.String("session_id", result.SessionID),
		attribute.Int("message_count", result.Stats.MessageCount),
	)
	logger.Info().
		Str("session_id", result.SessionID).
		Str("mode", string(mode)).
		Int("message_count", result.Stats.MessageCount).
		Dur("duration", time.Since(start)).
		Msg("Analyze request completed")

	return result, nil
}

func (a *Analyzer) analyze(ctx context.Context, in Input, question string, mode Mode) (*Result, error) {
	// Received -> Validated
	if in.Method != http.MethodPost {
		return nil, newError(MethodNotAllowed, msgMethodNotAllowed, nil)
	}
	if in.Image == nil || len(in.Image.Data) == 0 {
		return nil, newError(InvalidInput, msgNoImage, nil)
	}
	if !strings.HasPrefix(strings.ToLower(in.Image.MIMEType), "image/") {
		return nil, newError(InvalidInput, msgNotAnImage, fmt.Errorf("content type %q", in.Image.MIMEType))
	}
	if _, err := a.providers.Credential(); err != nil {
		return nil, newError(ConfigurationError, msgConfiguration, err)
	}
	provider, err := a.providers.Provider(ctx)
	if err != nil {
		return nil, newError(ConfigurationError, msgConfiguration, err)
	}

	// Validated -> SessionResolved
	sessionID, err := a.store.ResolveOrCreate(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	ctx = tracing.WithSessionID(ctx, sessionID)

	turns, err := a.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session turns: %w", err)
	}

	gen := a.describe
	if mode == ModeQuestion {
		gen = a.question
	}
	req := vision.Request{
		Model:       a.model,
		Prompt:      composePrompt(question, renderHistory(turns, a.contextTurns)),
		Image:       *in.Image,
		MaxTokens:   gen.MaxTokens,
		Temperature: gen.Temperature,
	}

	logger := tracing.LoggerFromContext(ctx, a.logger)
	logger.Debug().
		Str("provider", provider.Name()).
		Str("mode", string(mode)).
		Int("history_turns", len(turns)).
		Int("image_bytes", len(in.Image.Data)).
		Msg("Calling vision provider")

	// SessionResolved -> ProviderCalled
	resp, err := a.callProvider(ctx, provider, req)
	if err != nil {
		if errors.Is(err, ErrProviderTimeout) {
			return nil, newError(ProviderError, fmt.Sprintf("Vision provider did not respond within %s", a.timeout), err)
		}
		return nil, newError(ProviderError, fmt.Sprintf("Vision provider request failed: %v", err), err)
	}

	// ProviderCalled -> MemoryUpdated
	userTurn := question
	if userTurn == "" {
		userTurn = DefaultUserTurn
	}
	if err := a.store.AppendTurn(ctx, sessionID, session.RoleUser, userTurn); err != nil {
		return nil, fmt.Errorf("failed to record user turn: %w", err)
	}
	if err := a.store.AppendTurn(ctx, sessionID, session.RoleAssistant, resp.Text); err != nil {
		return nil, fmt.Errorf("failed to record assistant turn: %w", err)
	}

	stats, err := a.store.Stats(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session stats: %w", err)
	}

	return &Result{Analysis: resp.Text, SessionID: sessionID, Stats: stats}, nil
}

// callProvider makes the single provider call. The call is detached from the
// caller's cancellation; once the timeout passes the caller stops waiting and
// the call is abandoned. An abandoned call is cut off at twice the timeout.
func (a *Analyzer) callProvider(ctx context.Context, provider vision.Provider, req vision.Request) (*vision.Response, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "analyze.provider_call",
		attribute.String("provider", provider.Name()),
		attribute.Int("max_tokens", req.MaxTokens),
	)
	defer span.End()

	type outcome struct {
		resp *vision.Response
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*a.timeout)
	go func() {
		defer cancel()
		resp, err := provider.Describe(callCtx, req)
		done <- outcome{resp: resp, err: err}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		observability.RecordProviderCall(provider.Name(), time.Since(start), out.err == nil)
		if out.err != nil {
			return nil, tracing.FailSpan(span, out.err)
		}
		if out.resp == nil {
			return nil, tracing.FailSpan(span, vision.ErrEmptyResponse)
		}
		return out.resp, nil
	case <-timer.C:
		observability.RecordProviderCall(provider.Name(), time.Since(start), false)
		return nil, tracing.FailSpan(span, fmt.Errorf("%w after %s", ErrProviderTimeout, a.timeout))
	}
}

// Memory resolves candidateID, creating a session when needed, and returns its stats.
func (a *Analyzer) Memory(ctx context.Context, candidateID string) (*MemoryResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "analyze.memory")
	defer span.End()

	sessionID, err := a.store.ResolveOrCreate(ctx, candidateID)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, AsError(fmt.Errorf("failed to resolve session: %w", err))
	}
	stats, err := a.store.Stats(ctx, sessionID)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, AsError(fmt.Errorf("failed to read session stats: %w", err))
	}

	span.SetAttributes(attribute.String("session_id", sessionID))
	return &MemoryResult{SessionID: sessionID, Stats: stats}, nil
}

// ClearMemory empties an existing session. Unknown or absent ids are NotFound.
func (a *Analyzer) ClearMemory(ctx context.Context, sessionID string) (*MemoryResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "analyze.clear_memory",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	if sessionID == "" {
		return nil, newError(NotFound, msgSessionNotFound, nil)
	}

	if err := a.store.Clear(ctx, sessionID); err != nil {
		tracing.FailSpan(span, err)
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidID) {
			return nil, newError(NotFound, msgSessionNotFound, err)
		}
		return nil, AsError(fmt.Errorf("failed to clear session: %w", err))
	}

	stats, err := a.store.Stats(ctx, sessionID)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, AsError(fmt.Errorf("failed to read session stats: %w", err))
	}

	logger := tracing.LoggerFromContext(ctx, a.logger)
	logger.Info().
		Str("session_id", sessionID).
		Msg("Session memory cleared")

	return &MemoryResult{SessionID: sessionID, Stats: stats}, nil
}
