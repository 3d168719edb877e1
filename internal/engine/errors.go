package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Every rejected operation carries a
// kind plus a human-readable reason so client layers can render it
// without re-deriving the cause.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindCapacity        Kind = "capacity"
	KindLotFull         Kind = "lot_full"
	KindOwnership       Kind = "ownership"
	KindNotFound        Kind = "not_found"
	KindAlreadyActive   Kind = "already_active"
	KindAlreadyExtended Kind = "already_extended"
	KindConflict        Kind = "conflict"
	KindExpired         Kind = "expired"
	KindPoolTimeout     Kind = "pool_timeout"
	KindPersistence     Kind = "persistence"
)

// Error is the typed failure returned by engine operations. Expected
// outcomes (validation, capacity, ownership, not-found) never crash the
// process; persistence failures are logged with full context and
// surfaced generically.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an engine error chain; unknown errors
// classify as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// ReasonOf extracts the human-readable reason, falling back to the raw
// error string.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
