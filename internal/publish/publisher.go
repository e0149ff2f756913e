// Package publish defines the outbound boundary: pushing a price string to
// the chat platform as a presence line and a voice-channel name.
package publish

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes publish failures. All of them are cycle-level: logged
// and naturally retried on the next scheduler cycle.
type ErrorKind string

// Closed set of publish failure kinds.
const (
	KindRateLimited ErrorKind = "rate_limited"
	KindForbidden   ErrorKind = "forbidden"
	KindNotFound    ErrorKind = "not_found"
	KindInternal    ErrorKind = "internal"
)

// Error is a structured publish failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("publish %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("publish %s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRateLimited reports whether err is a rate-limit publish failure.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRateLimited
}

// Publisher pushes a price through the two platform channels. SetPresence is
// best-effort; RenameChannel is the authoritative publish.
type Publisher interface {
	SetPresence(ctx context.Context, text string) error
	RenameChannel(ctx context.Context, name string) error
}

// StatusSource reports platform connection state to the scheduler.
type StatusSource interface {
	// Ready reports whether the upstream connection is established.
	Ready() bool
	// Reconnects yields a signal per gateway resume/ready, used to reset
	// the consecutive-failure streak.
	Reconnects() <-chan struct{}
}
