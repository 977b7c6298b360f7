package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("rejected") // permanent 4xx, never retried
	ErrNotOpen      = errors.New("channel not open")
)

// ServerResult is the server's answer to a pushed operation: either an
// accepted canonical payload+version, or the conflicting server state.
type ServerResult struct {
	Accepted      bool
	Data          json.RawMessage
	Version       int64
	ServerData    json.RawMessage
	ServerVersion int64
}

// ServerUpdate is an unsolicited push of another client's change.
type ServerUpdate struct {
	Kind    models.EntityKind `json:"kind"`
	ID      string            `json:"id"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Version int64             `json:"version"`
	Deleted bool              `json:"deleted,omitempty"`
}

// transientError marks failures worth retrying (network, timeout, 5xx).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is a retryable failure rather than a
// permanent rejection.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}
