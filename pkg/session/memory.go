package session

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/harun/iris/internal/observability"
	"github.com/harun/iris/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "iris.session"

	// maxMintAttempts bounds retries when a freshly minted id collides with a live one.
	maxMintAttempts = 8
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id is well formed. It says nothing about whether
// the session exists.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

type entry struct {
	mu         sync.Mutex
	turns      []Turn
	lastActive time.Time
	// dead is set when the entry is removed from the map; holders must re-resolve.
	dead bool
}

// MemoryStore is the process-local Store. A global lock guards only the id
// map; each session carries its own mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool

	now    func() time.Time
	newID  func() (string, error)
	logger zerolog.Logger
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for last_active bookkeeping
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithIDGenerator overrides session id minting
func WithIDGenerator(gen func() (string, error)) MemoryOption {
	return func(s *MemoryStore) {
		s.newID = gen
	}
}

// WithLogger sets the logger used for session lifecycle events
func WithLogger(logger zerolog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	observability.EnsureRegistered()

	s := &MemoryStore{
		sessions: make(map[string]*entry),
		now:      time.Now,
		newID:    func() (string, error) { return gonanoid.New() },
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "session_store").Logger()

	observability.SetActiveSessions(0)
	return s
}

// lookup returns the live entry for id, or nil.
func (s *MemoryStore) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.sessions[id], nil
}

// getOrCreate returns the entry for id, inserting an empty one when absent.
func (s *MemoryStore) getOrCreate(id string) (*entry, bool, error) {
	e, err := s.lookup(id)
	if err != nil || e != nil {
		return e, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if e, ok := s.sessions[id]; ok {
		return e, false, nil
	}
	e = &entry{turns: []Turn{}, lastActive: s.now()}
	s.sessions[id] = e
	observability.SetActiveSessions(len(s.sessions))
	return e, true, nil
}

func (s *MemoryStore) mint() (string, error) {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("failed to generate session id: %w", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrClosed
		}
		if _, exists := s.sessions[id]; !exists {
			s.sessions[id] = &entry{turns: []Turn{}, lastActive: s.now()}
			count := len(s.sessions)
			s.mu.Unlock()
			observability.SetActiveSessions(count)
			return id, nil
		}
		s.mu.Unlock()
	}
	return "", fmt.Errorf("failed to generate unique session id after %d attempts", maxMintAttempts)
}

// ResolveOrCreate returns candidateID when it names a live session, refreshing
// its last activity. Otherwise a new empty session is created.
func (s *MemoryStore) ResolveOrCreate(ctx context.Context, candidateID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.resolve",
		attribute.Bool("candidate_present", candidateID != ""),
	)
	defer span.End()

	if candidateID != "" && ValidID(candidateID) {
		e, err := s.lookup(candidateID)
		if err != nil {
			return "", tracing.FailSpan(span, err)
		}
		if e != nil {
			e.mu.Lock()
			alive := !e.dead
			if alive {
				e.lastActive = s.now()
			}
			e.mu.Unlock()
			if alive {
				span.SetAttributes(attribute.Bool("created", false))
				return candidateID, nil
			}
		}
	}

	id, err := s.mint()
	if err != nil {
		return "", tracing.FailSpan(span, err)
	}
	span.SetAttributes(attribute.Bool("created", true), attribute.String("session_id", id))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("session_id", id).
		Bool("replaced_candidate", candidateID != "").
		Msg("Session created")
	observability.RecordSessionAudit(ctx, "session_created", id, nil)

	return id, nil
}

// Turns returns a copy of the session's turns
func (s *MemoryStore) Turns(ctx context.Context, id string) ([]Turn, error) {
	_, span := tracing.StartSpan(ctx, tracerName, "session.turns", attribute.String("session_id", id))
	defer span.End()

	e, err := s.lookup(id)
	if err != nil {
		return nil, tracing.FailSpan(span, err)
	}
	if e == nil {
		return []Turn{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return []Turn{}, nil
	}
	e.lastActive = s.now()

	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	span.SetAttributes(attribute.Int("turns", len(out)))
	return out, nil
}

// AppendTurn appends a turn, creating the session under id when it is unknown
func (s *MemoryStore) AppendTurn(ctx context.Context, id string, role Role, content string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.append_turn",
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

	for {
		e, created, err := s.getOrCreate(id)
		if err != nil {
			return tracing.FailSpan(span, err)
		}

		e.mu.Lock()
		if e.dead {
			// Swept between lookup and lock; resolve again.
			e.mu.Unlock()
			continue
		}
		e.turns = append(e.turns, Turn{Role: role, Content: content})
		e.lastActive = s.now()
		count := len(e.turns)
		e.mu.Unlock()

		observability.RecordTurnAppended(string(role))
		logger := tracing.LoggerFromContext(ctx, s.logger)
		if created {
			logger.Debug().Str("session_id", id).Msg("Session created on append")
		}
		logger.Debug().
			Str("session_id", id).
			Str("role", string(role)).
			Int("turns", count).
			Msg("Turn appended")
		return nil
	}
}

// Stats returns message count, character count and token estimate for id
func (s *MemoryStore) Stats(ctx context.Context, id string) (Stats, error) {
	_, span := tracing.StartSpan(ctx, tracerName, "session.stats", attribute.String("session_id", id))
	defer span.End()

	e, err := s.lookup(id)
	if err != nil {
		return Stats{}, tracing.FailSpan(span, err)
	}
	if e == nil {
		return Stats{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Stats{}, nil
	}
	e.lastActive = s.now()
	return ComputeStats(e.turns), nil
}

// Clear removes every turn of an existing session while keeping its id
func (s *MemoryStore) Clear(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.clear", attribute.String("session_id", id))
	defer span.End()

	e, err := s.lookup(id)
	if err != nil {
		return tracing.FailSpan(span, err)
	}
	if e == nil {
		return tracing.FailSpan(span, ErrNotFound)
	}

	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return tracing.FailSpan(span, ErrNotFound)
	}
	cleared := len(e.turns)
	e.turns = []Turn{}
	e.lastActive = s.now()
	e.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("session_id", id).
		Int("cleared_turns", cleared).
		Msg("Session cleared")
	observability.RecordSessionAudit(ctx, "session_cleared", id, map[string]interface{}{"turns": cleared})

	return nil
}

// SweepExpired deletes sessions whose last activity is older than now-maxIdle
func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time, maxIdle time.Duration) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.sweep",
		attribute.String("max_idle", maxIdle.String()),
	)
	defer span.End()

	cutoff := now.Add(-maxIdle)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, tracing.FailSpan(span, ErrClosed)
	}
	removed := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		if e.lastActive.Before(cutoff) {
			e.dead = true
			delete(s.sessions, id)
			removed++
		}
		e.mu.Unlock()
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	observability.SetActiveSessions(remaining)
	observability.RecordSweep(removed)
	span.SetAttributes(attribute.Int("removed", removed), attribute.Int("remaining", remaining))

	if removed > 0 {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Info().
			Int("removed", removed).
			Int("remaining", remaining).
			Dur("max_idle", maxIdle).
			Msg("Expired sessions swept")
		observability.RecordSweepAudit(ctx, removed, maxIdle)
	}

	return removed, nil
}

// Len returns the number of live sessions
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close drops every session. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for _, e := range s.sessions {
		e.mu.Lock()
		e.dead = true
		e.mu.Unlock()
	}
	s.sessions = make(map[string]*entry)
	s.closed = true
	observability.SetActiveSessions(0)
	s.logger.Info().Msg("Session store closed")
	return nil
}
