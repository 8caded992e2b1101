package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/iris/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// RemoteStore is a Store backed by a memory server reached over HTTP
type RemoteStore struct {
	baseURL string
	client  *http.Client
}

// RemoteOption configures a RemoteStore
type RemoteOption func(*RemoteStore)

// WithHTTPClient replaces the default client, which times out after 10s
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *RemoteStore) {
		s.client = client
	}
}

// NewRemoteStore creates a client for the memory server rooted at baseURL,
// e.g. http://memory:8000/memory/v1
func NewRemoteStore(baseURL string, opts ...RemoteOption) *RemoteStore {
	s := &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteStore) sessionURL(id, suffix string) string {
	return fmt.Sprintf("%s/sessions/%s/%s", s.baseURL, url.PathEscape(id), suffix)
}

// do sends one JSON request and decodes a JSON response into out when out is non-nil.
func (s *RemoteStore) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		bs, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	rsp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("memory server request failed: %w", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode >= 400 {
		var e errorResponse
		_ = json.NewDecoder(rsp.Body).Decode(&e)
		switch e.Code {
		case codeNotFound:
			return ErrNotFound
		case codeInvalidRole:
			return fmt.Errorf("%w: %s", ErrInvalidRole, e.Error)
		case codeInvalidID:
			return ErrInvalidID
		case codeClosed:
			return ErrClosed
		}
		if rsp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("memory server returned %s: %s", rsp.Status, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(rsp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode memory server response: %w", err)
	}
	return nil
}

// ResolveOrCreate posts the candidate to /sessions/resolve and returns the id the server settled on
func (s *RemoteStore) ResolveOrCreate(ctx context.Context, candidateID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.remote.resolve")
	defer span.End()

	var res resolveResponse
	if err := s.do(ctx, http.MethodPost, s.baseURL+"/sessions/resolve", resolveRequest{SessionID: candidateID}, &res); err != nil {
		return "", tracing.FailSpan(span, err)
	}
	if res.SessionID == "" {
		return "", tracing.FailSpan(span, fmt.Errorf("memory server returned an empty session id"))
	}
	return res.SessionID, nil
}

// Turns fetches the turn sequence of id
func (s *RemoteStore) Turns(ctx context.Context, id string) ([]Turn, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.remote.turns", attribute.String("session_id", id))
	defer span.End()

	if id == "" {
		return []Turn{}, nil
	}

	var res turnsResponse
	if err := s.do(ctx, http.MethodGet, s.sessionURL(id, "turns"), nil, &res); err != nil {
		return nil, tracing.FailSpan(span, err)
	}
	if res.Turns == nil {
		res.Turns = []Turn{}
	}
	return res.Turns, nil
}

// AppendTurn posts one turn; the server creates the session when id is unknown
func (s *RemoteStore) AppendTurn(ctx context.Context, id string, role Role, content string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.remote.append_turn",
		attribute.String("session_id", id),
		attribute.String("role", string(role)),
	)
	defer span.End()

	if !role.Valid() {
		return tracing.FailSpan(span, fmt.Errorf("%w: %q", ErrInvalidRole, role))
	}
	if !ValidID(id) {
		return tracing.FailSpan(span, ErrInvalidID)
	}
	return tracing.FailSpan(span, s.do(ctx, http.MethodPost, s.sessionURL(id, "turns"), appendRequest{Role: role, Content: content}, nil))
}

// Stats fetches the memory statistics of id
func (s *RemoteStore) Stats(ctx context.Context, id string) (Stats, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.remote.stats", attribute.String("session_id", id))
	defer span.End()

	if id == "" {
		return Stats{}, nil
	}

	var stats Stats
	if err := s.do(ctx, http.MethodGet, s.sessionURL(id, "stats"), nil, &stats); err != nil {
		return Stats{}, tracing.FailSpan(span, err)
	}
	return stats, nil
}

// Clear empties the turns of id. An unknown id yields ErrNotFound.
func (s *RemoteStore) Clear(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.remote.clear", attribute.String("session_id", id))
	defer span.End()

	if id == "" {
		return tracing.FailSpan(span, ErrNotFound)
	}
	return tracing.FailSpan(span, s.do(ctx, http.MethodPost, s.sessionURL(id, "clear"), nil, nil))
}

// SweepExpired asks the server to remove sessions idle longer than maxIdle as of now
func (s *RemoteStore) SweepExpired(ctx context.Context, now time.Time, maxIdle time.Duration) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.remote.sweep")
	defer span.End()

	var res sweepResponse
	req := sweepRequest{Now: now, MaxIdleMS: maxIdle.Milliseconds()}
	if err := s.do(ctx, http.MethodPost, s.baseURL+"/sweep", req, &res); err != nil {
		return 0, tracing.FailSpan(span, err)
	}
	return res.Removed, nil
}

// Close releases idle connections held by the HTTP client
func (s *RemoteStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
