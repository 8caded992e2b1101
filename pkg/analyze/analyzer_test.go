package analyze

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/iris/internal/tracing"
	"github.com/harun/iris/pkg/session"
	"github.com/harun/iris/pkg/vision"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Describe(ctx context.Context, req vision.Request) (*vision.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*vision.Response)
	return resp, args.Error(1)
}

func (m *mockProvider) Name() string {
	return "mock"
}

type stubSource struct {
	provider      vision.Provider
	credentialErr error
	providerCalls atomic.Int32
}

func (s *stubSource) Credential() (string, error) {
	if s.credentialErr != nil {
		return "", s.credentialErr
	}
	return "key", nil
}

func (s *stubSource) Provider(ctx context.Context) (vision.Provider, error) {
	s.providerCalls.Add(1)
	if s.credentialErr != nil {
		return nil, s.credentialErr
	}
	return s.provider, nil
}

func setupTestAnalyzer(t *testing.T, cfg Config) (*Analyzer, *mockProvider, *session.MemoryStore) {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	store := session.NewMemoryStore(session.WithLogger(logger))
	t.Cleanup(func() { _ = store.Close() })

	provider := &mockProvider{}
	if cfg.Providers == nil {
		cfg.Providers = &stubSource{provider: provider}
	}
	cfg.Store = store
	cfg.Logger = logger

	a, err := New(cfg)
	require.NoError(t, err)
	return a, provider, store
}

func jpeg() *vision.Image {
	return &vision.Image{Data: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg"}
}

func answer(text string) *vision.Response {
	return &vision.Response{Text: text, Model: "test"}
}

func TestNew(t *testing.T) {
	_, err := New(Config{Providers: &stubSource{}})
	assert.Error(t, err)

	_, err = New(Config{Store: session.NewMemoryStore()})
	assert.Error(t, err)

	_, err = New(Config{Store: session.NewMemoryStore(), Providers: &stubSource{}, ContextTurns: -1})
	assert.Error(t, err)

	a, err := New(Config{Store: session.NewMemoryStore(), Providers: &stubSource{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, a.timeout)
	assert.Equal(t, Generation{MaxTokens: 100, Temperature: 0.7}, a.describe)
	assert.Equal(t, Generation{MaxTokens: 75, Temperature: 0.2}, a.question)
}

func TestAnalyze_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		input   Input
		credErr error
		kind    Kind
		status  int
	}{
		{
			name:   "wrong method",
			input:  Input{Method: http.MethodGet, Image: jpeg()},
			kind:   MethodNotAllowed,
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "method checked before image",
			input:  Input{Method: http.MethodPut},
			kind:   MethodNotAllowed,
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "missing image",
			input:  Input{Method: http.MethodPost, Question: "what?"},
			kind:   InvalidInput,
			status: http.StatusBadRequest,
		},
		{
			name:   "empty image",
			input:  Input{Method: http.MethodPost, Image: &vision.Image{MIMEType: "image/png"}},
			kind:   InvalidInput,
			status: http.StatusBadRequest,
		},
		{
			name:   "not an image",
			input:  Input{Method: http.MethodPost, Image: &vision.Image{Data: []byte("%PDF"), MIMEType: "application/pdf"}},
			kind:   InvalidInput,
			status: http.StatusBadRequest,
		},
		{
			name:    "missing credential",
			input:   Input{Method: http.MethodPost, Image: jpeg()},
			credErr: vision.ErrMissingCredential,
			kind:    ConfigurationError,
			status:  http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &stubSource{credentialErr: tt.credErr}
			a, provider, store := setupTestAnalyzer(t, Config{Providers: source})

			result, err := a.Analyze(ctx, tt.input)
			require.Error(t, err)
			assert.Nil(t, result)

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.status, e.HTTPStatus())

			provider.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything)
			assert.Equal(t, int32(0), source.providerCalls.Load())
			assert.Equal(t, 0, store.Len(), "no session is created on validation failure")
		})
	}
}

func TestAnalyze_ConfigurationErrorMessage(t *testing.T) {
	a, _, _ := setupTestAnalyzer(t, Config{Providers: &stubSource{credentialErr: vision.ErrMissingCredential}})

	_, err := a.Analyze(context.Background(), Input{Method: http.MethodPost, Image: jpeg()})
	require.Error(t, err)

	e := AsError(err)
	assert.Equal(t, "API key configuration error. Please check server configuration.", e.Message)
	assert.ErrorIs(t, err, vision.ErrMissingCredential)
}

func TestAnalyze_Describe(t *testing.T) {
	ctx := context.Background()
	a, provider, store := setupTestAnalyzer(t, Config{})

	provider.On("Describe", mock.Anything, mock.MatchedBy(func(req vision.Request) bool {
		return req.MaxTokens == 100 &&
			req.Temperature == 0.7 &&
			req.Prompt == "Describe what you see in this image in a concise, professional manner." &&
			req.Image.MIMEType == "image/jpeg"
	})).Return(answer("A person at a desk."), nil).Once()

	result, err := a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg(), Question: "   "})
	require.NoError(t, err)

	assert.Equal(t, "A person at a desk.", result.Analysis)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 2, result.Stats.MessageCount)

	turns, err := store.Turns(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []session.Turn{
		{Role: session.RoleUser, Content: DefaultUserTurn},
		{Role: session.RoleAssistant, Content: "A person at a desk."},
	}, turns)

	wantChars := len(DefaultUserTurn) + len("A person at a desk.")
	assert.Equal(t, wantChars, result.Stats.Characters)
	assert.Equal(t, wantChars/4, result.Stats.TokensEstimate)

	provider.AssertExpectations(t)
}

func TestAnalyze_FollowUpIncludesHistory(t *testing.T) {
	ctx := context.Background()
	a, provider, _ := setupTestAnalyzer(t, Config{})

	provider.On("Describe", mock.Anything, mock.MatchedBy(func(req vision.Request) bool {
		return strings.HasPrefix(req.Prompt, "Question about this image: What color is this?") &&
			!strings.Contains(req.Prompt, "IMPORTANT CONVERSATION HISTORY")
	})).Return(answer("Blue."), nil).Once()

	provider.On("Describe", mock.Anything, mock.MatchedBy(func(req vision.Request) bool {
		return req.MaxTokens == 75 &&
			req.Temperature == 0.2 &&
			strings.Contains(req.Prompt, "[1] user: What color is this?\n") &&
			strings.Contains(req.Prompt, "[2] assistant: Blue.\n") &&
			strings.Contains(req.Prompt, "Question about this image: And the background?")
	})).Return(answer("White."), nil).Once()

	first, err := a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg(), Question: "What color is this?"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Stats.MessageCount)

	second, err := a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg(), Question: "And the background?", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 4, second.Stats.MessageCount)
	assert.Equal(t, "White.", second.Analysis)

	provider.AssertExpectations(t)
}

func TestAnalyze_ContextTurnsLimit(t *testing.T) {
	ctx := context.Background()
	a, provider, store := setupTestAnalyzer(t, Config{ContextTurns: 2})

	id, err := store.ResolveOrCreate(ctx, "")
	require.NoError(t, err)
	for _, content := range []string{"q1", "a1", "q2", "a2"} {
		role := session.RoleUser
		if strings.HasPrefix(content, "a") {
			role = session.RoleAssistant
		}
		require.NoError(t, store.AppendTurn(ctx, id, role, content))
	}

	provider.On("Describe", mock.Anything, mock.MatchedBy(func(req vision.Request) bool {
		return !strings.Contains(req.Prompt, "q1") &&
			strings.Contains(req.Prompt, "[3] user: q2") &&
			strings.Contains(req.Prompt, "[4] assistant: a2")
	})).Return(answer("ok"), nil).Once()

	result, err := a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg(), SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Stats.MessageCount)
	provider.AssertExpectations(t)
}

func TestAnalyze_UnknownSessionGetsFreshID(t *testing.T) {
	a, provider, _ := setupTestAnalyzer(t, Config{})
	provider.On("Describe", mock.Anything, mock.Anything).Return(answer("ok"), nil)

	result, err := a.Analyze(context.Background(), Input{Method: http.MethodPost, Image: jpeg(), SessionID: "not-a-live-session"})
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-live-session", result.SessionID)
	assert.Equal(t, 2, result.Stats.MessageCount)
}

func TestAnalyze_ProviderError(t *testing.T) {
	ctx := context.Background()
	a, provider, store := setupTestAnalyzer(t, Config{})

	id, err := store.ResolveOrCreate(ctx, "")
	require.NoError(t, err)

	provider.On("Describe", mock.Anything, mock.Anything).Return(nil, errors.New("502 from upstream")).Once()

	_, err = a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg(), Question: "hi", SessionID: id})
	require.Error(t, err)

	e := AsError(err)
	assert.Equal(t, ProviderError, e.Kind)
	assert.Equal(t, http.StatusBadGateway, e.HTTPStatus())

	turns, err := store.Turns(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, turns, "failed requests leave memory untouched")

	provider.AssertNumberOfCalls(t, "Describe", 1)
}

func TestAnalyze_EmptyAnswer(t *testing.T) {
	a, provider, _ := setupTestAnalyzer(t, Config{})
	provider.On("Describe", mock.Anything, mock.Anything).Return(nil, vision.ErrEmptyResponse).Once()

	_, err := a.Analyze(context.Background(), Input{Method: http.MethodPost, Image: jpeg()})
	assert.Equal(t, ProviderError, KindOf(err))
	assert.ErrorIs(t, err, vision.ErrEmptyResponse)
}

func TestAnalyze_Timeout(t *testing.T) {
	ctx := context.Background()
	a, provider, store := setupTestAnalyzer(t, Config{Timeout: 50 * time.Millisecond})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	provider.On("Describe", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-release }).
		Return(answer("too late"), nil).Once()

	start := time.Now()
	_, err := a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg()})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	e := AsError(err)
	assert.Equal(t, ProviderError, e.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, e.HTTPStatus())
	assert.ErrorIs(t, err, ErrProviderTimeout)

	assert.Equal(t, 1, store.Len())
}

func TestAnalyze_CallerCancellationDoesNotReachProvider(t *testing.T) {
	a, provider, _ := setupTestAnalyzer(t, Config{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	var providerCtxErr atomic.Value

	provider.On("Describe", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			pctx := args.Get(0).(context.Context)
			if pctx.Err() != nil {
				providerCtxErr.Store(pctx.Err())
			}
		}).
		Return(answer("fine"), nil).Once()

	_, err := a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg()})
	require.NoError(t, err)
	assert.Nil(t, providerCtxErr.Load())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	a, _, store := setupTestAnalyzer(t, Config{})

	t.Run("creates when absent", func(t *testing.T) {
		res, err := a.Memory(ctx, "")
		require.NoError(t, err)
		assert.NotEmpty(t, res.SessionID)
		assert.Equal(t, session.Stats{}, res.Stats)
	})

	t.Run("returns existing stats", func(t *testing.T) {
		id, err := store.ResolveOrCreate(ctx, "")
		require.NoError(t, err)
		require.NoError(t, store.AppendTurn(ctx, id, session.RoleUser, "abcdefgh"))

		res, err := a.Memory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, res.SessionID)
		assert.Equal(t, session.Stats{MessageCount: 1, Characters: 8, TokensEstimate: 2}, res.Stats)
	})
}

func TestClearMemory(t *testing.T) {
	ctx := context.Background()
	a, _, store := setupTestAnalyzer(t, Config{})

	t.Run("absent id", func(t *testing.T) {
		_, err := a.ClearMemory(ctx, "")
		assert.Equal(t, NotFound, KindOf(err))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := a.ClearMemory(ctx, "does-not-exist")
		require.Error(t, err)
		e := AsError(err)
		assert.Equal(t, NotFound, e.Kind)
		assert.Equal(t, "Session not found", e.Message)
		assert.Equal(t, http.StatusNotFound, e.HTTPStatus())
	})

	t.Run("known id keeps the id", func(t *testing.T) {
		id, err := store.ResolveOrCreate(ctx, "")
		require.NoError(t, err)
		require.NoError(t, store.AppendTurn(ctx, id, session.RoleUser, "hello"))

		res, err := a.ClearMemory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, res.SessionID)
		assert.Equal(t, session.Stats{}, res.Stats)

		resolved, err := store.ResolveOrCreate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, resolved)
	})
}

func TestAnalyze_LogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	store := session.NewMemoryStore(session.WithLogger(zerolog.New(os.Stdout).Level(zerolog.Disabled)))
	t.Cleanup(func() { _ = store.Close() })

	provider := &mockProvider{}
	provider.On("Describe", mock.Anything, mock.Anything).Return(answer("A lamp."), nil).Once()

	a, err := New(Config{Store: store, Providers: &stubSource{provider: provider}, Logger: logger})
	require.NoError(t, err)

	ctx := tracing.NewRequestContext(context.Background(), "req-7")
	result, err := a.Analyze(ctx, Input{Method: http.MethodPost, Image: jpeg()})
	require.NoError(t, err)

	_, err = a.ClearMemory(ctx, result.SessionID)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Calling vision provider")
	assert.Contains(t, out, "Session memory cleared")
	assert.Contains(t, out, `"request_id":"req-7"`)
	provider.AssertExpectations(t)
}
