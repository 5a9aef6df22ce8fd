package execution

import (
	"time"

	"recurswap/internal/swap"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped is a guard skip: no record, no retry budget used.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeferred means a guard oracle was unavailable; the schedule stays due.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeAborted means nothing was attempted or nothing was committed.
	OutcomeAborted Outcome = "aborted"
)

type Result struct {
	Outcome   Outcome
	Reason    string
	Record    *swap.ExecutionRecord
	Schedule  swap.Schedule
	Exhausted bool
}

// SkipEvent is the payload of swap.skipped.
type SkipEvent struct {
	ScheduleID string    `json:"schedule_id"`
	Reason     string    `json:"reason"`
	Next       time.Time `json:"next"`
}
