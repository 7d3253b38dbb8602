// Package apperr defines the error taxonomy shared across the memory engine.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers match with errors.Is.
var (
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Kind classifies an error for callers that branch on failure class.
type Kind int

const (
	// KindValidation marks bad or missing input fields. Never retried.
	KindValidation Kind = iota + 1
	// KindNotFound marks an id absent from both index and direct file lookup.
	KindNotFound
	// KindFormat marks malformed record structure (header delimiters, shape).
	KindFormat
	// KindSecurity marks a path traversal or symlink escape attempt.
	KindSecurity
	// KindIO marks disk-level failures with the underlying message preserved.
	KindIO
	// KindProvider marks an embedding provider failure.
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindFormat:
		return "format"
	case KindSecurity:
		return "security"
	case KindIO:
		return "io"
	case KindProvider:
		return "provider"
	}
	return "unknown"
}

// Error is a classified error. Cause, when set, is reachable via errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation returns a KindValidation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error for the given id.
func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("memory not found: %s", id)}
}

// Format returns a KindFormat error with a formatted message.
func Format(format string, args ...any) *Error {
	return &Error{Kind: KindFormat, Message: fmt.Sprintf(format, args...)}
}

// Security returns a KindSecurity error with a formatted message.
func Security(format string, args ...any) *Error {
	return &Error{Kind: KindSecurity, Message: fmt.Sprintf(format, args...)}
}

// IO wraps an underlying disk error.
func IO(msg string, cause error) *Error {
	return &Error{Kind: KindIO, Message: msg, Cause: cause}
}

// Provider wraps an underlying embedding provider error.
func Provider(msg string, cause error) *Error {
	return &Error{Kind: KindProvider, Message: msg, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsNotFound is shorthand for Is(err, KindNotFound).
func IsNotFound(err error) bool { return Is(err, KindNotFound) }

// IsValidation is shorthand for Is(err, KindValidation).
func IsValidation(err error) bool { return Is(err, KindValidation) }
