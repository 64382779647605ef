package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced conversation, message or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller lacks the required relationship to a resource.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is returned for empty content, unknown message types or out-of-range paging.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a write races with a concurrent write in a way the caller may retry.
	ErrConflict = errors.New("conflict")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind is always one of the sentinel errors above; Msg is safe to show to clients.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func notFound(op, msg string) error     { return OpError{Op: op, Kind: ErrNotFound, Msg: msg} }
func forbidden(op, msg string) error    { return OpError{Op: op, Kind: ErrForbidden, Msg: msg} }
func invalidInput(op, msg string) error { return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg} }
func conflict(op, msg string) error     { return OpError{Op: op, Kind: ErrConflict, Msg: msg} }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// PublicMessage returns the client-safe part of err, or fallback when err carries none.
func PublicMessage(err error, fallback string) string {
	var oe OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return fallback
}
