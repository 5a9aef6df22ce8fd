package swap

import (
	"math/rand"
	"strings"
	"time"
)

// Normalize validates d and fills defaults (currency, start policy).
func (d Definition) Normalize() (Definition, error) {
	asset, err := ParseAsset(string(d.SourceAsset))
	if err != nil {
		return Definition{}, err
	}
	d.SourceAsset = asset

	if !d.AmountPerExecution.IsPositive() {
		return Definition{}, invalidf("amount per execution must be positive, got %s", d.AmountPerExecution.String())
	}
	if d.TargetCurrency, err = ParseCurrency(string(d.TargetCurrency)); err != nil {
		return Definition{}, err
	}
	if d.Frequency, err = ParseFrequency(string(d.Frequency)); err != nil {
		return Definition{}, err
	}
	if d.StartPolicy, err = ParseStartPolicy(string(d.StartPolicy)); err != nil {
		return Definition{}, err
	}

	switch DurationKind(strings.ToLower(strings.TrimSpace(string(d.Duration.Kind)))) {
	case "", UntilCancelled:
		d.Duration = DurationPolicy{Kind: UntilCancelled}
	case FixedCount:
		if d.Duration.Count < 1 {
			return Definition{}, invalidf("fixed-count duration needs a count >= 1, got %d", d.Duration.Count)
		}
		d.Duration.Kind = FixedCount
	default:
		return Definition{}, invalidf("unrecognized duration %q", d.Duration.Kind)
	}

	if d.MaxRetries != nil && *d.MaxRetries < 0 {
		return Definition{}, invalidf("max_retries must be >= 0, got %d", *d.MaxRetries)
	}
	d.Label = strings.TrimSpace(d.Label)
	return d, nil
}

// NewSchedule builds an active schedule from a validated definition.
// maxRetries is used when the definition does not override it.
func NewSchedule(id string, def Definition, now time.Time, maxRetries int) (Schedule, error) {
	def, err := def.Normalize()
	if err != nil {
		return Schedule{}, err
	}
	if def.MaxRetries != nil {
		maxRetries = *def.MaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	planned := 0
	if def.Duration.Bounded() {
		planned = def.Duration.Count
	}
	anchor := FirstDue(def.StartPolicy, now)
	next := anchor
	return Schedule{
		ID:                 id,
		Label:              def.Label,
		SourceAsset:        def.SourceAsset,
		AmountPerExecution: def.AmountPerExecution,
		TargetCurrency:     def.TargetCurrency,
		Frequency:          def.Frequency,
		StartPolicy:        def.StartPolicy,
		Duration:           def.Duration,
		Guards:             def.Guards,
		PlannedExecutions:  planned,
		Status:             StatusActive,
		NextExecutionAt:    &next,
		MaxRetries:         maxRetries,
		Anchor:             anchor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// FirstDue computes the first due time for a start policy.
func FirstDue(p StartPolicy, now time.Time) time.Time {
	switch p {
	case StartNextDay:
		return now.AddDate(0, 0, 1)
	case StartNextWeek:
		return now.AddDate(0, 0, 7)
	default:
		return now
	}
}

// Advance returns anchor moved forward by n intervals.
//
// Monthly intervals keep the anchor's day of month and clamp to the last day
// of shorter months (Jan 31 -> Feb 28/29 -> Mar 31).
func (f Frequency) Advance(anchor time.Time, n int) time.Time {
	switch f {
	case FrequencyDaily:
		return anchor.AddDate(0, 0, n)
	case FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*n)
	case FrequencyMonthly:
		return addMonthsClamped(anchor, n)
	default:
		return anchor
	}
}

func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	// Day 0 of the month after the target is the target's last day.
	last := time.Date(y, m+time.Month(n)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	return time.Date(y, m+time.Month(n), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// DueAt returns the nominal due time of cycle c.
func (s *Schedule) DueAt(c int) time.Time { return s.Frequency.Advance(s.Anchor, c) }

// IsDue reports whether the trigger should dispatch the schedule at now.
func (s *Schedule) IsDue(now time.Time) bool {
	if s.NextExecutionAt == nil {
		return false
	}
	if s.Status != StatusActive && s.Status != StatusExecuting {
		return false
	}
	return !s.NextExecutionAt.After(now)
}

// Remaining reports how many executions are left; -1 means unbounded.
func (s *Schedule) Remaining() int {
	if !s.Duration.Bounded() {
		return -1
	}
	return s.PlannedExecutions - s.CompletedExecutions
}

// AtCycleStart reports whether no attempt of the current cycle has failed yet.
func (s *Schedule) AtCycleStart() bool { return s.RetryCount == 0 }

// advanceCycle moves to the next cycle whose due time is after now. After
// downtime this skips the missed slots instead of firing them back to back.
func (s *Schedule) advanceCycle(now time.Time) {
	s.Cycle++
	next := s.DueAt(s.Cycle)
	for !next.After(now) {
		s.Cycle++
		next = s.DueAt(s.Cycle)
	}
	if s.Status == StatusPaused {
		s.NextExecutionAt = nil
		return
	}
	s.NextExecutionAt = &next
}

// BeginAttempt marks the schedule executing.
func (s *Schedule) BeginAttempt(now time.Time) {
	s.Status = StatusExecuting
	s.UpdatedAt = now
}

// SkipCycle handles a guard failure: the cycle is dropped without a record
// and without consuming retry budget.
func (s *Schedule) SkipCycle(now time.Time) {
	s.RetryCount = 0
	if s.Status != StatusPaused {
		s.Status = StatusActive
	}
	s.advanceCycle(now)
	s.UpdatedAt = now
}

// ApplySuccess folds a successful attempt into the schedule.
// A schedule paused while the attempt was in flight stays paused.
func (s *Schedule) ApplySuccess(now time.Time) {
	s.CompletedExecutions++
	s.RetryCount = 0
	s.UpdatedAt = now
	if s.Duration.Bounded() && s.CompletedExecutions >= s.PlannedExecutions {
		s.CompletedExecutions = s.PlannedExecutions
		s.Status = StatusCompleted
		s.NextExecutionAt = nil
		return
	}
	if s.Status != StatusPaused {
		s.Status = StatusActive
	}
	s.advanceCycle(now)
}

// ApplyFailure folds a failed attempt into the schedule and reports whether
// the retry budget is now exhausted.
//
// Exhausting the budget ends the cycle: it counts toward CompletedExecutions
// and the schedule becomes failed. If that was the last planned cycle the
// schedule is completed instead, since there is nothing left to resume.
func (s *Schedule) ApplyFailure(reason string, p RetryPolicy, now time.Time, rng *rand.Rand) (exhausted bool) {
	s.LastFailureReason = reason
	s.UpdatedAt = now
	if s.RetryCount < s.MaxRetries {
		s.RetryCount++
		if s.Status == StatusPaused {
			s.NextExecutionAt = nil
			return false
		}
		s.Status = StatusExecuting
		next := now.Add(p.Delay(s.RetryCount, rng))
		s.NextExecutionAt = &next
		return false
	}

	s.RetryCount = s.MaxRetries
	s.CompletedExecutions++
	s.Cycle++
	s.NextExecutionAt = nil
	if s.Duration.Bounded() && s.CompletedExecutions >= s.PlannedExecutions {
		s.CompletedExecutions = s.PlannedExecutions
		s.Status = StatusCompleted
		return true
	}
	s.Status = StatusFailed
	return true
}

// Pause stops further dispatch. An attempt already in flight still applies
// its outcome.
func (s *Schedule) Pause(now time.Time) error {
	switch s.Status {
	case StatusActive, StatusExecuting, StatusFailed:
	default:
		return transitionf(s.Status, "pause")
	}
	s.Status = StatusPaused
	s.NextExecutionAt = nil
	s.UpdatedAt = now
	return nil
}

// Resume re-arms a paused or failed schedule one interval from now.
func (s *Schedule) Resume(now time.Time) error {
	switch s.Status {
	case StatusPaused, StatusFailed:
	default:
		return transitionf(s.Status, "resume")
	}
	s.Anchor = s.Frequency.Advance(now, 1)
	s.Cycle = 0
	next := s.Anchor
	s.NextExecutionAt = &next
	s.RetryCount = 0
	s.Status = StatusActive
	s.UpdatedAt = now
	return nil
}

// Duplicate returns a fresh schedule with the same configuration.
func (s Schedule) Duplicate(id string, now time.Time) (Schedule, error) {
	return NewSchedule(id, s.Definition(), now, s.MaxRetries)
}
