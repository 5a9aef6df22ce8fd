package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

func sampleSchedule(t *testing.T, id string, created time.Time) swap.Schedule {
	t.Helper()
	sc, err := swap.NewSchedule(id, swap.Definition{
		Label:              "weekly btc",
		SourceAsset:        swap.AssetBTC,
		AmountPerExecution: decimal.RequireFromString("0.0025"),
		Frequency:          swap.FrequencyWeekly,
		StartPolicy:        swap.StartImmediate,
		Duration:           swap.DurationPolicy{Kind: swap.FixedCount, Count: 4},
	}, created, 3)
	require.NoError(t, err)
	return sc
}

func sampleRecord(id, scheduleID string, at time.Time, ok bool) swap.ExecutionRecord {
	r := swap.ExecutionRecord{
		ID:          id,
		ScheduleID:  scheduleID,
		AttemptedAt: at,
		Cycle:       1,
		Attempt:     0,
	}
	if ok {
		r.Outcome = swap.OutcomeSuccess
		r.ConvertedAmount = decimal.RequireFromString("2875.5")
		r.RateApplied = decimal.RequireFromString("1150200")
	} else {
		r.Outcome = swap.OutcomeFailed
		r.ConvertedAmount = decimal.Zero
		r.RateApplied = decimal.Zero
		r.FailureReason = "network_timeout"
	}
	return r
}

// exerciseStore runs the shared contract against any driver.
func exerciseStore(t *testing.T, open func() Store) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	st := open()
	a := sampleSchedule(t, "a", t0)
	b := sampleSchedule(t, "b", t0.Add(time.Minute))
	require.NoError(t, st.SaveSchedule(ctx, b))
	require.NoError(t, st.SaveSchedule(ctx, a))

	require.NoError(t, a.Pause(t0.Add(time.Hour)))
	require.NoError(t, st.SaveSchedule(ctx, a))

	c := sampleSchedule(t, "c", t0.Add(2*time.Minute))
	require.NoError(t, st.SaveSchedule(ctx, c))
	require.NoError(t, st.DeleteSchedule(ctx, "c"))

	require.NoError(t, st.AppendExecution(ctx, sampleRecord("r1", "a", t0, true)))
	require.NoError(t, st.AppendExecution(ctx, sampleRecord("r2", "b", t0.Add(time.Second), false)))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Actor: "api", Action: "create", ScheduleID: "a"}))
	require.NoError(t, st.Close())

	// Reopen to prove durability.
	st = open()
	defer st.Close()

	got, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, swap.StatusPaused, got[0].Status)
	assert.Nil(t, got[0].NextExecutionAt)
	assert.True(t, got[1].AmountPerExecution.Equal(decimal.RequireFromString("0.0025")))
	assert.True(t, got[1].Anchor.Equal(t0.Add(time.Minute)))

	recs, err := st.LoadExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r1", recs[0].ID)
	assert.True(t, recs[0].ConvertedAmount.Equal(decimal.RequireFromString("2875.5")))
	assert.True(t, recs[0].AttemptedAt.Equal(t0))
	assert.Equal(t, swap.OutcomeFailed, recs[1].Outcome)
	assert.Equal(t, "network_timeout", recs[1].FailureReason)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "recurswap.db")
	exerciseStore(t, func() Store {
		st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
		require.NoError(t, err)
		return st
	})
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recurswap.sqlite")
	exerciseStore(t, func() Store {
		st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
		require.NoError(t, err)
		return st
	})
}

func TestMemoryStoreContract(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sc := sampleSchedule(t, "a", t0)
	require.NoError(t, m.SaveSchedule(ctx, sc))

	// Stored copies are isolated from caller mutation.
	sc.Label = "mutated"
	got, err := m.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "weekly btc", got[0].Label)

	require.NoError(t, m.AppendAudit(ctx, AuditEntry{Action: "create", ScheduleID: "a"}))
	audit := m.Audit()
	require.Len(t, audit, 1)
	assert.False(t, audit[0].At.IsZero())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.SaveSchedule(ctx, sc), ErrClosed)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.ErrorContains(t, err, "dsn is required")
}
