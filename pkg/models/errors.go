package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to tool callers.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpstreamRejected    ErrorKind = "upstream_rejected"
	KindNotFound            ErrorKind = "not_found"
	KindAIDisabled          ErrorKind = "ai_disabled"
	KindInternal            ErrorKind = "internal"
)

// Error is the typed error returned by the archive client, the search
// orchestrator and the AI adapter. Parameters echoes the inputs of the
// failed operation so callers can see what was attempted.
type Error struct {
	Parameters map[string]any
	Err        error
	Kind       ErrorKind
	Message    string
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithParameters returns a copy of e carrying the given parameters.
func (e *Error) WithParameters(params map[string]any) *Error {
	cp := *e
	cp.Parameters = params
	return &cp
}

// NewError creates a new Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a new Error of the given kind with an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ValidationError reports a bad caller-supplied parameter.
func ValidationError(format string, args ...any) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...))
}

// ErrAIDisabled is returned by the AI adapter when no credential is configured.
var ErrAIDisabled = NewError(KindAIDisabled, "AI analysis is not configured")

// KindOf extracts the ErrorKind from err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ParametersOf returns the parameters attached to err, if any.
func ParametersOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Parameters
	}
	return nil
}
