package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrAuth              = errors.New("authentication required")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNetwork           = errors.New("network error")
	ErrRateLimited       = errors.New("too many requests")
)

// Error carries a message safe to show to the end user together with the
// sentinel describing its kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error { return newError(ErrValidation, format, args...) }

func NotFoundf(format string, args ...any) error { return newError(ErrNotFound, format, args...) }

func Forbiddenf(format string, args ...any) error { return newError(ErrForbidden, format, args...) }

func Conflictf(format string, args ...any) error { return newError(ErrConflict, format, args...) }

func Authf(format string, args ...any) error { return newError(ErrAuth, format, args...) }

func InvalidTransition(from, to string) error {
	return newError(ErrInvalidTransition, "cannot change booking status from %s to %s", from, to)
}

// Network wraps a transport failure.
func Network(err error) error {
	return &networkError{cause: err}
}

type networkError struct {
	cause error
}

func (e *networkError) Error() string {
	return fmt.Sprintf("network error: %v", e.cause)
}

func (e *networkError) Unwrap() []error { return []error{ErrNetwork, e.cause} }

// Code maps an error to a stable machine-readable kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuth):
		return "auth_required"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "internal"
	}
}

// FromCode is the inverse of Code, used by clients decoding error bodies.
func FromCode(code, msg string) error {
	var kind error
	switch code {
	case "validation":
		kind = ErrValidation
	case "auth_required":
		kind = ErrAuth
	case "forbidden":
		kind = ErrForbidden
	case "not_found":
		kind = ErrNotFound
	case "invalid_transition":
		kind = ErrInvalidTransition
	case "conflict":
		kind = ErrConflict
	case "rate_limited":
		kind = ErrRateLimited
	default:
		return nil
	}
	return &Error{Kind: kind, Msg: msg}
}
