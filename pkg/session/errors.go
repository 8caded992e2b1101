package session

import "errors"

var (
	// ErrNotFound is returned when an operation requires an existing session
	ErrNotFound = errors.New("session not found")

	// ErrInvalidRole is returned when a turn's role is not user or assistant
	ErrInvalidRole = errors.New("invalid turn role")

	// ErrInvalidID is returned when a session id is empty or malformed
	ErrInvalidID = errors.New("invalid session id")

	// ErrClosed is returned by a store after Close
	ErrClosed = errors.New("session store closed")
)
