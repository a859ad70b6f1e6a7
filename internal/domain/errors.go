package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks caller mistakes that are rejected before any work starts.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmbeddingFailure matches every error produced by an embedding call.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrQuotaExceeded matches provider errors caused by quota or rate limits,
	// from embedding and generation calls alike.
	ErrQuotaExceeded = errors.New("embedding quota exceeded")
)

// EmbeddingError wraps a failed embedding call. It always matches
// ErrEmbeddingFailure and, when Quota is set, ErrQuotaExceeded as well.
type EmbeddingError struct {
	Op    string
	Quota bool
	Err   error
}

func (e *EmbeddingError) Error() string {
	kind := ErrEmbeddingFailure.Error()
	if e.Quota {
		kind = ErrQuotaExceeded.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool {
	switch target {
	case ErrEmbeddingFailure:
		return true
	case ErrQuotaExceeded:
		return e.Quota
	}
	return false
}

// NewEmbeddingError wraps err as an embedding failure. An err that is already
// an EmbeddingError keeps its classification and only gains op context.
func NewEmbeddingError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return &EmbeddingError{Op: op, Quota: ee.Quota, Err: ee.Err}
	}
	return &EmbeddingError{Op: op, Err: err}
}

// NewQuotaError wraps err as a quota-exhaustion embedding failure.
func NewQuotaError(op string, err error) error {
	return &EmbeddingError{Op: op, Quota: true, Err: err}
}

// InvalidInputf formats an ErrInvalidInput with context.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// UserMessage renders err for display, adding a retry hint for quota errors.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return "The model provider is rate limiting requests. Wait a minute and try again."
	case errors.Is(err, ErrEmbeddingFailure):
		return "Embedding failed: " + err.Error()
	case errors.Is(err, ErrInvalidInput):
		return err.Error()
	}
	return "Error: " + err.Error()
}
