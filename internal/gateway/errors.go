package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a tool failure for retry purposes.
type ErrorKind string

const (
	// KindTransient covers timeouts, rate limits, and 5xx-equivalent
	// provider failures. Retried with backoff.
	KindTransient ErrorKind = "transient"

	// KindPermanent covers auth failures, validation errors, and
	// not-found. Never retried.
	KindPermanent ErrorKind = "permanent"
)

// ToolError is a classified failure from an external tool call.
type ToolError struct {
	Tool   string
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Detail)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Transient builds a retryable ToolError.
func Transient(tool, detail string, err error) *ToolError {
	return &ToolError{Tool: tool, Kind: KindTransient, Detail: detail, Err: err}
}

// Permanent builds a non-retryable ToolError.
func Permanent(tool, detail string, err error) *ToolError {
	return &ToolError{Tool: tool, Kind: KindPermanent, Detail: detail, Err: err}
}

// ErrInFlight is returned when another worker holds the idempotency
// reservation for the same (tool, key) and has not yet recorded an outcome.
var ErrInFlight = errors.New("gateway: call already in flight for idempotency key")

// IsTransient reports whether err should be retried. Unclassified errors are
// treated as transient: idempotency keys make the retry safe, and network
// errors commonly surface unwrapped.
func IsTransient(err error) bool {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind == KindTransient
	}
	if errors.Is(err, ErrInFlight) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
