package engine

import "github.com/cockroachdb/errors"

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: already queued or running")
	ErrCircuitOpen = errors.New("task skipped: circuit breaker open")
)

// Neutral marks a task error that must not count toward its circuit, such as
// a storage outage unrelated to the downstream the circuit protects.
func Neutral(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errNeutral)
}

var errNeutral = errors.New("circuit-neutral")

func isNeutral(err error) bool { return errors.Is(err, errNeutral) }
