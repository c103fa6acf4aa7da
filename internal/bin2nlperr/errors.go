// Package bin2nlperr implements the closed error taxonomy the pipeline
// executor and recovery supervisor classify outcomes into. It replaces the
// exception-hierarchy-as-control-flow pattern of the system this was
// distilled from with explicit sum-typed outcomes: callers inspect Class,
// they don't catch.
package bin2nlperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class is one of the closed set of error classes from which retry and
// HTTP-status-mapping policy is derived.
type Class string

const (
	Validation         Class = "validation"
	Authentication     Class = "authentication"
	RateLimited        Class = "rate_limited"
	Processing         Class = "processing"
	Timeout            Class = "timeout"
	FormatUnsupported  Class = "format_unsupported"
	Storage            Class = "storage"
	ProviderUnavailable Class = "provider_unavailable"
	Internal           Class = "internal"
)

// Error is the single concrete error type used throughout the pipeline. It
// carries enough structured context to drive retry policy and to render a
// safe, non-leaking message to clients.
type Error struct {
	Class         Class
	Message       string
	Component     string
	CorrelationID string
	Details       map[string]any
	RetryAfter    int // seconds; only meaningful when Class == RateLimited
	cause         error
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Class, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given class.
func New(class Class, component, message string) *Error {
	return &Error{Class: class, Component: component, Message: message, Details: map[string]any{}}
}

// Wrap constructs an Error of the given class, chaining cause for errors.Is/As.
func Wrap(class Class, component, message string, cause error) *Error {
	return &Error{Class: class, Component: component, Message: message, Details: map[string]any{}, cause: cause}
}

// WithDetail attaches a context key/value and returns the same Error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithCorrelationID attaches a correlation id and returns the same Error for chaining.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// ClassOf extracts the Class of err, defaulting to Internal for errors that
// did not originate from this package.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return Internal
}

// HTTPStatus maps a Class to the status code the ingress layer should report.
// Grounded on the original implementation's get_http_status_code.
func HTTPStatus(class Class) int {
	switch class {
	case Validation, FormatUnsupported:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case Processing, Timeout:
		return http.StatusUnprocessableEntity
	case Storage, ProviderUnavailable, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the recovery supervisor should retry an
// operation that failed with this class, independent of attempt budget.
// Terminal classes (Validation, Authentication, RateLimited,
// FormatUnsupported) are never retried; Storage and Processing are
// transient and retried; Timeout and ProviderUnavailable follow the
// per-class policy table in §4.8 and are handled by the supervisor
// directly rather than this blanket check.
func Retryable(class Class) bool {
	switch class {
	case Validation, Authentication, RateLimited, FormatUnsupported:
		return false
	case Storage, Processing:
		return true
	default:
		return false
	}
}
