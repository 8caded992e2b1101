package api

import (
	"context"
	"time"

	"github.com/harun/iris/pkg/analyze"
	"github.com/harun/iris/pkg/session"
)

const (
	// SessionCookie is the cookie carrying the caller's session id
	SessionCookie = "session_id"

	// MemoryType is reported with every memory description
	MemoryType = "buffer"

	failedAnalysis = "Failed to analyze image"
	healthMessage  = "Iris vision API is operational"
)

// Analyzer is the request flow the server exposes
type Analyzer interface {
	Analyze(ctx context.Context, in analyze.Input) (*analyze.Result, error)
	Memory(ctx context.Context, candidateID string) (*analyze.MemoryResult, error)
	ClearMemory(ctx context.Context, sessionID string) (*analyze.MemoryResult, error)
}

// Options configures the API server
type Options struct {
	Host    string
	Port    int
	Version string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// MaxUploadBytes caps the multipart body of an analyze request
	MaxUploadBytes     int64
	RateLimitPerMinute int
	AllowedOrigin      string

	// TrustProxyHeaders keys the rate limiter on X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool

	CookiePath   string
	CookieMaxAge time.Duration
	CookieSecure bool

	MetricsEnabled bool
	MetricsPath    string

	// MemoryStore, when set, is served under /memory/v1 for remote stores
	MemoryStore session.Store
}

// AnalyzeResponse is the body of a successful analyze request
type AnalyzeResponse struct {
	Analysis    string        `json:"analysis"`
	SessionID   string        `json:"session_id"`
	MemoryStats session.Stats `json:"memory_stats"`
	MemoryType  string        `json:"memory_type"`
}

// AnalyzeErrorResponse is the body of a failed analyze request
type AnalyzeErrorResponse struct {
	Error    string `json:"error"`
	Analysis string `json:"analysis"`
}

// MemoryResponse describes a session after a read or clear
type MemoryResponse struct {
	SessionID  string        `json:"session_id"`
	Stats      session.Stats `json:"stats"`
	Status     string        `json:"status"`
	MemoryType string        `json:"memory_type"`
}

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime"`
}
