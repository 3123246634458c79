package relay

import (
	"errors"
	"fmt"
)

// ConnectionError is the capability that distinguishes transient connectivity
// failures (retried with backoff) from hard protocol or logic errors (fatal to
// the enclosing loop).
type ConnectionError interface {
	error
	IsConnectionError() bool
}

// IsConnectionError reports whether any error in err's chain is a transient
// connectivity failure.
func IsConnectionError(err error) bool {
	var connErr ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsConnectionError()
	}
	return false
}

type connectionError struct {
	err error
}

func (e *connectionError) Error() string           { return e.err.Error() }
func (e *connectionError) Unwrap() error           { return e.err }
func (e *connectionError) IsConnectionError() bool { return true }

// NewConnectionError wraps err so that IsConnectionError reports true for it.
func NewConnectionError(err error) error {
	if err == nil {
		return nil
	}
	return &connectionError{err: err}
}

// ConnectionErrorf is the fmt.Errorf flavor of NewConnectionError.
func ConnectionErrorf(format string, args ...any) error {
	return &connectionError{err: fmt.Errorf(format, args...)}
}
