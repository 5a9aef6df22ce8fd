package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/ledger"
	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func ok(sched string, at time.Time, converted, rate string) swap.ExecutionRecord {
	return swap.ExecutionRecord{
		ID:              sched + at.Format(time.RFC3339),
		ScheduleID:      sched,
		AttemptedAt:     at,
		Outcome:         swap.OutcomeSuccess,
		ConvertedAmount: decimal.RequireFromString(converted),
		RateApplied:     decimal.RequireFromString(rate),
	}
}

func failed(sched string, at time.Time) swap.ExecutionRecord {
	return swap.ExecutionRecord{
		ID:              sched + "f" + at.Format(time.RFC3339),
		ScheduleID:      sched,
		AttemptedAt:     at,
		Outcome:         swap.OutcomeFailed,
		ConvertedAmount: decimal.Zero,
		RateApplied:     decimal.Zero,
		FailureReason:   "network_timeout",
	}
}

func TestEmptyHistoryHasZeroRate(t *testing.T) {
	s := Compute(nil, Config{})
	assert.Equal(t, 0, s.TotalExecutions)
	assert.True(t, s.SuccessRate.IsZero())
	assert.True(t, s.AverageRate.IsZero())
	assert.False(t, s.BestWindow.Found)
	assert.Equal(t, -1, s.BestWindow.Bucket)
}

func TestSuccessRateAndTotals(t *testing.T) {
	recs := []swap.ExecutionRecord{
		ok("a", day.Add(9*time.Hour), "1000", "100"),
		ok("a", day.Add(33*time.Hour), "3000", "300"),
		ok("a", day.Add(57*time.Hour), "2000", "200"),
		failed("a", day.Add(81*time.Hour)),
	}
	s := Compute(recs, Config{})
	assert.Equal(t, 4, s.TotalExecutions)
	assert.Equal(t, 3, s.SuccessfulExecutions)
	assert.Equal(t, 1, s.FailedExecutions)
	assert.True(t, s.SuccessRate.Equal(decimal.RequireFromString("0.75")), s.SuccessRate.String())
	assert.True(t, s.TotalConverted.Equal(decimal.NewFromInt(6000)))
	assert.True(t, s.AverageRate.Equal(decimal.NewFromInt(200)))
	// 6000 * (1% - 0.5%)
	assert.True(t, s.FeeSavings.Equal(decimal.NewFromInt(30)), s.FeeSavings.String())
}

func TestAllSuccessesIsExactlyOne(t *testing.T) {
	recs := []swap.ExecutionRecord{
		ok("a", day, "1", "1"),
		ok("a", day.Add(time.Hour), "1", "1"),
		ok("a", day.Add(2*time.Hour), "1", "1"),
	}
	assert.True(t, Compute(recs, Config{}).SuccessRate.Equal(decimal.NewFromInt(1)))
}

func TestBestWindowPicksLowestVariance(t *testing.T) {
	recs := []swap.ExecutionRecord{
		// [08-10): rates 100, 120 -> variance 100
		ok("a", day.Add(8*time.Hour), "1", "100"),
		ok("a", day.Add(24*time.Hour+9*time.Hour), "1", "120"),
		// [14-16): rates 110, 112 -> variance 1
		ok("a", day.Add(14*time.Hour), "1", "110"),
		ok("a", day.Add(24*time.Hour+15*time.Hour), "1", "112"),
		// [20-22): a single sample never qualifies.
		ok("a", day.Add(20*time.Hour), "1", "500"),
		// Failures are not window samples.
		failed("a", day.Add(20*time.Hour+time.Minute)),
	}
	w := Compute(recs, Config{}).BestWindow
	require.True(t, w.Found)
	assert.Equal(t, 7, w.Bucket)
	assert.Equal(t, 14, w.StartHour)
	assert.Equal(t, 16, w.EndHour)
	assert.Equal(t, "14:00-16:00", w.Label)
	assert.Equal(t, 2, w.Samples)
	assert.True(t, w.Variance.Equal(decimal.NewFromInt(1)), w.Variance.String())
	assert.True(t, w.MeanRate.Equal(decimal.NewFromInt(111)))
}

func TestBestWindowTieKeepsEarlierBucket(t *testing.T) {
	recs := []swap.ExecutionRecord{
		ok("a", day.Add(22*time.Hour), "1", "5"),
		ok("a", day.Add(23*time.Hour), "1", "7"),
		ok("a", day.Add(2*time.Hour), "1", "10"),
		ok("a", day.Add(3*time.Hour), "1", "12"),
	}
	w := Compute(recs, Config{}).BestWindow
	require.True(t, w.Found)
	assert.Equal(t, 1, w.Bucket)
}

func TestBestWindowUsesConfiguredZone(t *testing.T) {
	loc := time.FixedZone("SAST", 2*60*60)
	recs := []swap.ExecutionRecord{
		ok("a", day.Add(7*time.Hour), "1", "10"), // 09:00 SAST
		ok("a", day.Add(7*time.Hour+30*time.Minute), "1", "10"),
	}
	w := Compute(recs, Config{Location: loc}).BestWindow
	require.True(t, w.Found)
	assert.Equal(t, 8, w.StartHour)
	assert.Equal(t, "SAST", w.Zone)
}

func TestSnapshotScopesAndReconfigure(t *testing.T) {
	l := ledger.New(nil, logx.Nop())
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, ok("a", day, "1000", "10")))
	require.NoError(t, l.Append(ctx, failed("a", day.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, ok("b", day, "500", "10")))

	agg := New(l, Config{})
	a := agg.Snapshot("a")
	assert.Equal(t, "a", a.Scope)
	assert.Equal(t, 2, a.TotalExecutions)
	assert.True(t, a.SuccessRate.Equal(decimal.RequireFromString("0.5")))

	all := agg.Snapshot("")
	assert.Equal(t, ScopeAll, all.Scope)
	assert.Equal(t, 3, all.TotalExecutions)
	assert.True(t, all.TotalConverted.Equal(decimal.NewFromInt(1500)))

	agg.Reconfigure(Config{ManualFeeRate: decimal.RequireFromString("0.02"), ScheduledFeeRate: decimal.RequireFromString("0.01")})
	assert.True(t, agg.Snapshot(ScopeAll).FeeSavings.Equal(decimal.NewFromInt(15)))

	assert.Equal(t, 0, agg.Snapshot("unknown").TotalExecutions)
}
