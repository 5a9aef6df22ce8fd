package swap

import (
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

func btcWeekly(count int) Definition {
	d := Definition{
		SourceAsset:        "btc",
		AmountPerExecution: decimal.RequireFromString("0.01"),
		TargetCurrency:     "zar",
		Frequency:          "Weekly",
		Duration:           DurationPolicy{Kind: UntilCancelled},
	}
	if count > 0 {
		d.Duration = DurationPolicy{Kind: FixedCount, Count: count}
	}
	return d
}

func TestNewScheduleNormalizes(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(12), t0, 3)
	require.NoError(t, err)
	assert.Equal(t, AssetBTC, s.SourceAsset)
	assert.Equal(t, Currency("ZAR"), s.TargetCurrency)
	assert.Equal(t, FrequencyWeekly, s.Frequency)
	assert.Equal(t, StartImmediate, s.StartPolicy)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, 12, s.PlannedExecutions)
	assert.Equal(t, 0, s.CompletedExecutions)
	assert.Equal(t, 0, s.RetryCount)
	require.NotNil(t, s.NextExecutionAt)
	assert.True(t, s.NextExecutionAt.Equal(t0))
}

func TestNewScheduleRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		mut  func(d *Definition)
	}{
		{"zero amount", func(d *Definition) { d.AmountPerExecution = decimal.Zero }},
		{"negative amount", func(d *Definition) { d.AmountPerExecution = decimal.RequireFromString("-1") }},
		{"unknown frequency", func(d *Definition) { d.Frequency = "hourly" }},
		{"unknown asset", func(d *Definition) { d.SourceAsset = "DOGE" }},
		{"bad currency", func(d *Definition) { d.TargetCurrency = "RANDS" }},
		{"bad start", func(d *Definition) { d.StartPolicy = "tomorrow" }},
		{"zero count", func(d *Definition) { d.Duration = DurationPolicy{Kind: FixedCount} }},
		{"negative retries", func(d *Definition) { n := -1; d.MaxRetries = &n }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := btcWeekly(0)
			tc.mut(&d)
			_, err := NewSchedule("x", d, t0, 3)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition), "got %v", err)
		})
	}
}

func TestFirstDue(t *testing.T) {
	assert.Equal(t, t0, FirstDue(StartImmediate, t0))
	assert.Equal(t, t0.AddDate(0, 0, 1), FirstDue(StartNextDay, t0))
	assert.Equal(t, t0.AddDate(0, 0, 7), FirstDue(StartNextWeek, t0))
}

func TestMonthlyAdvanceClampsToMonthEnd(t *testing.T) {
	f := FrequencyMonthly
	assert.Equal(t, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), f.Advance(t0, 1))
	assert.Equal(t, time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC), f.Advance(t0, 2))
	assert.Equal(t, time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC), f.Advance(t0, 3))
	assert.Equal(t, time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC), f.Advance(t0, 25))
}

func TestFixedCountCompletes(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(12), t0, 3)
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		require.True(t, s.IsDue(*s.NextExecutionAt), "cycle %d", i)
		now := *s.NextExecutionAt
		s.BeginAttempt(now)
		s.ApplySuccess(now)
		assert.LessOrEqual(t, s.CompletedExecutions, s.PlannedExecutions)
		if i < 11 {
			assert.Equal(t, StatusActive, s.Status)
			assert.True(t, s.NextExecutionAt.Equal(now.AddDate(0, 0, 7)))
		}
	}
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Nil(t, s.NextExecutionAt)
	assert.Equal(t, 12, s.CompletedExecutions)
}

func TestRetryBudgetExhaustsToFailed(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(0), t0, 3)
	require.NoError(t, err)
	p := RetryPolicy{MaxRetries: 3, Base: time.Minute, MaxDelay: time.Hour}

	now := t0
	reasons := []string{"r1", "r2", "r3", "r4"}
	for i, reason := range reasons {
		s.BeginAttempt(now)
		exhausted := s.ApplyFailure(reason, p, now, nil)
		assert.LessOrEqual(t, s.RetryCount, s.MaxRetries)
		if i < 3 {
			assert.False(t, exhausted)
			assert.Equal(t, i+1, s.RetryCount)
			assert.True(t, s.RetryPending())
			assert.Equal(t, DisplayRetryPending, s.DisplayStatus())
			now = *s.NextExecutionAt
		} else {
			assert.True(t, exhausted)
		}
	}
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, 3, s.RetryCount)
	assert.Equal(t, "r4", s.LastFailureReason)
	assert.Nil(t, s.NextExecutionAt)
	assert.False(t, s.IsDue(now.Add(24*time.Hour)))
}

func TestRetryDelaysFollowBackoff(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(0), t0, 3)
	require.NoError(t, err)
	p := RetryPolicy{MaxRetries: 3, Base: time.Minute, MaxDelay: 3 * time.Minute}

	want := []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute}
	for _, w := range want {
		s.ApplyFailure("boom", p, t0, nil)
		assert.Equal(t, t0.Add(w), *s.NextExecutionAt)
	}
}

func TestExhaustingLastPlannedCycleCompletes(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(1), t0, 0)
	require.NoError(t, err)
	exhausted := s.ApplyFailure("nope", DefaultRetryPolicy(), t0, nil)
	assert.True(t, exhausted)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 1, s.CompletedExecutions)
	assert.Nil(t, s.NextExecutionAt)
}

func TestSkipCycleAdvancesOneInterval(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(0), t0, 3)
	require.NoError(t, err)
	s.SkipCycle(t0)
	assert.Equal(t, StatusActive, s.Status)
	assert.True(t, s.NextExecutionAt.Equal(t0.AddDate(0, 0, 7)))
	assert.Equal(t, 0, s.CompletedExecutions)
}

func TestAdvanceCatchesUpAfterDowntime(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(0), t0, 3)
	require.NoError(t, err)
	late := t0.AddDate(0, 0, 22)
	s.ApplySuccess(late)
	assert.True(t, s.NextExecutionAt.After(late))
	assert.True(t, s.NextExecutionAt.Equal(t0.AddDate(0, 0, 28)))
}

func TestPauseResumeTransitions(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(0), t0, 3)
	require.NoError(t, err)

	require.NoError(t, s.Pause(t0))
	assert.Equal(t, StatusPaused, s.Status)
	assert.Nil(t, s.NextExecutionAt)
	assert.True(t, errors.Is(s.Pause(t0), ErrInvalidTransition))

	later := t0.Add(3 * time.Hour)
	require.NoError(t, s.Resume(later))
	assert.Equal(t, StatusActive, s.Status)
	assert.True(t, s.NextExecutionAt.Equal(later.AddDate(0, 0, 7)))
	assert.True(t, errors.Is(s.Resume(later), ErrInvalidTransition))

	// Failed schedules can be paused and resumed.
	s.MaxRetries = 0
	s.ApplyFailure("x", DefaultRetryPolicy(), later, nil)
	require.Equal(t, StatusFailed, s.Status)
	require.NoError(t, s.Resume(later))
	assert.Equal(t, 0, s.RetryCount)

	c, err := NewSchedule("c", btcWeekly(1), t0, 3)
	require.NoError(t, err)
	c.ApplySuccess(t0)
	require.Equal(t, StatusCompleted, c.Status)
	assert.True(t, errors.Is(c.Pause(t0), ErrInvalidTransition))
	assert.True(t, errors.Is(c.Resume(t0), ErrInvalidTransition))
}

func TestOutcomeWhilePausedKeepsPause(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(0), t0, 3)
	require.NoError(t, err)
	s.BeginAttempt(t0)
	require.NoError(t, s.Pause(t0))

	s.ApplyFailure("late failure", DefaultRetryPolicy(), t0, nil)
	assert.Equal(t, StatusPaused, s.Status)
	assert.Nil(t, s.NextExecutionAt)
	assert.Equal(t, 1, s.RetryCount)

	s.ApplySuccess(t0)
	assert.Equal(t, StatusPaused, s.Status)
	assert.Nil(t, s.NextExecutionAt)
	assert.Equal(t, 1, s.CompletedExecutions)
}

func TestDuplicateCopiesConfiguration(t *testing.T) {
	s, err := NewSchedule("a", btcWeekly(5), t0, 2)
	require.NoError(t, err)
	s.Guards.PauseOnHighVolatility = true
	s.ApplySuccess(t0)

	d, err := s.Duplicate("b", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "b", d.ID)
	assert.Equal(t, s.SourceAsset, d.SourceAsset)
	assert.True(t, s.AmountPerExecution.Equal(d.AmountPerExecution))
	assert.Equal(t, s.Frequency, d.Frequency)
	assert.Equal(t, s.Duration, d.Duration)
	assert.Equal(t, s.Guards, d.Guards)
	assert.Equal(t, 2, d.MaxRetries)
	assert.Equal(t, 0, d.CompletedExecutions)
	assert.Equal(t, StatusActive, d.Status)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Base: time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1, nil))
	assert.Equal(t, 2*time.Second, p.Delay(2, nil))
	assert.Equal(t, 8*time.Second, p.Delay(4, nil))
	assert.Equal(t, 10*time.Second, p.Delay(9, nil))

	p.Jitter = 0.2
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		d := p.Delay(2, rng)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestFailureReasonKinds(t *testing.T) {
	assert.Equal(t, "insufficient_balance", FailureReason(ErrInsufficientBalance))
	assert.Equal(t, "network_timeout", FailureReason(ErrNetworkTimeout))
	assert.Contains(t, FailureReason(errors.Wrap(ErrVenueRejected, "pair halted")), "venue_rejected: pair halted")
	assert.Equal(t, "", FailureReason(nil))
}
