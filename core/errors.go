package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error in the exchange taxonomy.
type Kind string

const (
	// KindInvalidInput marks malformed or empty caller arguments. Never retried.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound marks an unknown session id.
	KindNotFound Kind = "not_found"
	// KindBackendUnavailable marks a backend create/connect failure; the
	// operation leaves no partial state behind.
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindBackendError marks a send/end failure on an existing backend session.
	KindBackendError Kind = "backend_error"
	// KindDurabilityFailure marks a failed local persistence write. Always fatal.
	KindDurabilityFailure Kind = "durability_failure"
)

// Sentinel errors usable with errors.Is against any *Error of the same kind.
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrBackendError       = &Error{Kind: KindBackendError}
	ErrDurabilityFailure  = &Error{Kind: KindDurabilityFailure}
)

// Error carries a Kind, the failing operation and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with kind and op.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return NewError(kind, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, core.ErrInvalidInput).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports whether err stems from a deadline or cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
