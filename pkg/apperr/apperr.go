// Package apperr defines the typed error taxonomy shared by all handlers.
// Handlers map Kind to an HTTP status instead of matching message substrings.
package apperr

import "errors"

// Kind classifies an error for status mapping and logging.
type Kind int

const (
	// KindValidation is malformed input, caught before any mutation.
	KindValidation Kind = iota
	// KindNotFound is an unknown message/poll/option/user id.
	KindNotFound
	// KindBusinessRule is a rejected domain operation (poll inactive,
	// expired, duplicate vote, vote not found).
	KindBusinessRule
	// KindInfrastructure is a persistence or transport failure.
	KindInfrastructure
)

// Error is a kinded error with a human-readable message used directly
// in API responses.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Validation creates a KindValidation error.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }

// NotFound creates a KindNotFound error.
func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Msg: msg} }

// BusinessRule creates a KindBusinessRule error.
func BusinessRule(msg string) *Error { return &Error{Kind: KindBusinessRule, Msg: msg} }

// Infrastructure creates a KindInfrastructure error wrapping cause.
func Infrastructure(msg string, cause error) *Error {
	return &Error{Kind: KindInfrastructure, Msg: msg, Err: cause}
}

// KindOf returns the Kind of err, or KindInfrastructure for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
