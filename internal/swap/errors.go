package swap

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidDefinition rejects user input at creation; nothing is persisted.
	ErrInvalidDefinition = errors.New("invalid schedule definition")
	ErrInvalidTransition = errors.New("invalid schedule transition")
	ErrNotFound          = errors.New("schedule not found")

	// ErrExecution marks a retryable venue failure.
	ErrExecution = errors.New("execution failed")
	// ErrRetryExhausted marks the attempt that moved a schedule to failed.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrPersistence aborts an attempt; schedule state is left unchanged.
	ErrPersistence = errors.New("persistence failure")
)

// Venue error kinds.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNetworkTimeout      = errors.New("network timeout")
	ErrVenueRejected       = errors.New("venue rejected conversion")
)

func invalidf(format string, args ...any) error {
	err := errors.Newf(format, args...)
	err = errors.WithHint(err, "check the schedule definition and resubmit")
	return errors.Mark(err, ErrInvalidDefinition)
}

// Persistence wraps a storage failure so callers can match ErrPersistence.
func Persistence(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}

func transitionf(from Status, action string) error {
	return errors.Mark(errors.Newf("cannot %s a %s schedule", action, from), ErrInvalidTransition)
}

// NotFound returns ErrNotFound annotated with the schedule id.
func NotFound(id string) error {
	return errors.Mark(errors.Newf("schedule %q not found", id), ErrNotFound)
}

// FailureReason produces a short, stable reason string for a venue error.
// The prefix identifies the error kind so history stays groupable.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	kind, sentinel := "venue_error", error(nil)
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		kind, sentinel = "insufficient_balance", ErrInsufficientBalance
	case errors.Is(err, ErrNetworkTimeout):
		kind, sentinel = "network_timeout", ErrNetworkTimeout
	case errors.Is(err, context.DeadlineExceeded):
		kind, sentinel = "network_timeout", context.DeadlineExceeded
	case errors.Is(err, ErrVenueRejected):
		kind, sentinel = "venue_rejected", ErrVenueRejected
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" || (sentinel != nil && msg == sentinel.Error()) {
		return kind
	}
	return kind + ": " + msg
}
