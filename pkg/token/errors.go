package token

import (
	"errors"
	"fmt"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
)

// ValidationError is the classified failure returned by every validation
// stage. Message never carries raw token content or key material.
type ValidationError struct {
	Event   security.EventType
	Message string
}

func (e *ValidationError) Error() string {
	return e.Event.String() + ": " + e.Message
}

// Category is a shortcut for Event.Category().
func (e *ValidationError) Category() security.Category {
	return e.Event.Category()
}

// NewValidationError builds a classified error.
func NewValidationError(event security.EventType, format string, args ...any) *ValidationError {
	return &ValidationError{Event: event, Message: fmt.Sprintf(format, args...)}
}

// EventOf returns the event type carried by err, if any.
func EventOf(err error) (security.EventType, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Event, true
	}
	return 0, false
}

// IsEvent reports whether err is a ValidationError for event.
func IsEvent(err error, event security.EventType) bool {
	got, ok := EventOf(err)
	return ok && got == event
}
