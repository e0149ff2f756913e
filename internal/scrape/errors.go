package scrape

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes attempt-level failures in the extraction pipeline.
type ErrorKind string

// Closed set of failure kinds. Everything here is attempt-level and retried;
// only configuration errors (handled in config) are fatal to the process.
const (
	KindProvision     ErrorKind = "provision"
	KindSession       ErrorKind = "session"
	KindNotFound      ErrorKind = "not_found"
	KindInvalidFormat ErrorKind = "invalid_format"
)

// Error is a structured pipeline error carrying its kind and cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProvisionError wraps a browser/driver provisioning failure.
func NewProvisionError(message string, cause error) *Error {
	return &Error{Kind: KindProvision, Message: message, Cause: cause}
}

// NewSessionError wraps a session construction or navigation failure.
func NewSessionError(message string, cause error) *Error {
	return &Error{Kind: KindSession, Message: message, Cause: cause}
}

// NewNotFoundError reports that no strategy yielded non-empty text.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewInvalidFormatError reports text that rendered but is not numeric.
// Distinct from not-found: the page produced text, so later strategies are
// not consulted.
func NewInvalidFormatError(raw string) *Error {
	return &Error{Kind: KindInvalidFormat, Message: fmt.Sprintf("not a finite decimal: %q", raw)}
}

// KindOf returns the kind of a pipeline error, or empty for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
