package session

import (
	"context"
	"time"
	"unicode/utf8"
)

// Role identifies the author of a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single conversation entry
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Stats summarizes a session's turns
type Stats struct {
	MessageCount   int `json:"message_count"`
	Characters     int `json:"characters"`
	TokensEstimate int `json:"tokens_estimate"`
}

// ComputeStats derives Stats from turns. Characters counts Unicode code
// points and the token estimate is characters/4 rounded down.
func ComputeStats(turns []Turn) Stats {
	chars := 0
	for _, t := range turns {
		chars += utf8.RuneCountInString(t.Content)
	}
	return Stats{
		MessageCount:   len(turns),
		Characters:     chars,
		TokensEstimate: chars / 4,
	}
}

// Store is the conversation memory contract shared by the local and remote backends
type Store interface {
	// ResolveOrCreate returns candidateID when it names a live session and
	// mints a fresh session otherwise.
	ResolveOrCreate(ctx context.Context, candidateID string) (string, error)
	// Turns returns a snapshot of the session's turns; unknown ids yield none.
	Turns(ctx context.Context, id string) ([]Turn, error)
	// AppendTurn appends one turn, creating the session under id if needed.
	AppendTurn(ctx context.Context, id string, role Role, content string) error
	// Stats returns the session's stats; unknown ids yield zero stats.
	Stats(ctx context.Context, id string) (Stats, error)
	// Clear empties the session's turns and keeps the id. Unknown ids yield ErrNotFound.
	Clear(ctx context.Context, id string) error
	// SweepExpired removes sessions idle longer than maxIdle at now.
	SweepExpired(ctx context.Context, now time.Time, maxIdle time.Duration) (int, error)
	Close() error
}
