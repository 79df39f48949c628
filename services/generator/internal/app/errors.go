package app

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveRun indicates Cancel was called for a conversation with nothing in flight.
	ErrNoActiveRun = errors.New("no generation in progress")
	// ErrCancelled is what Wait reports for a run stopped by the user.
	ErrCancelled = errors.New("generation cancelled")
)

// ValidationError rejects a request before any network call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError means the backend is already running another session (HTTP 409).
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return e.Detail
}

// GenerationError carries the terminal message of a failed run.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string {
	return e.Message
}
