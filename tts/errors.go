package tts

import (
	"errors"
	"fmt"
)

// Common errors for the speech engine.
var (
	// Loader errors
	ErrLoaderDestroyed = errors.New("chunk loader has been destroyed")
	ErrLoadCanceled    = errors.New("chunk load was canceled")

	// Player errors
	ErrPlayerDestroyed = errors.New("chunk player has been destroyed")
	ErrNoCurrentChunk  = errors.New("no current chunk")
	ErrInvalidPosition = errors.New("position out of range")

	// Chunk errors
	ErrChunkLoadInFlight = errors.New("chunk load already in flight")

	// Session errors
	ErrSessionDestroyed = errors.New("session has been destroyed")
	ErrEmptyText        = errors.New("no speakable text provided")

	// Model errors
	ErrModelUnavailable = errors.New("speech model is not available")
)

// SynthesisError describes a failed speech model call. Retryable errors
// (timeouts, rate limiting, transient 5xx) may be retried with backoff;
// fatal errors (bad credentials, malformed request) propagate immediately.
type SynthesisError struct {
	Op        string // Operation being performed, e.g. "synthesize"
	Status    int    // HTTP status code when the failure came off the wire, 0 otherwise
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as a synthesis failure worth retrying.
func NewRetryableError(op string, status int, err error) *SynthesisError {
	return &SynthesisError{Op: op, Status: status, Retryable: true, Err: err}
}

// NewFatalError wraps err as a synthesis failure that must not be retried.
func NewFatalError(op string, status int, err error) *SynthesisError {
	return &SynthesisError{Op: op, Status: status, Retryable: false, Err: err}
}

// IsRetryable reports whether err should be retried with backoff.
// Errors that do not carry a SynthesisError classification are treated
// as fatal so that unexpected failures surface immediately.
func IsRetryable(err error) bool {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
