package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/storage"
	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

type failingStore struct {
	*storage.Memory
	err error
}

func (f failingStore) AppendExecution(ctx context.Context, r swap.ExecutionRecord) error {
	return f.err
}

func rec(id, sched string, at time.Time) swap.ExecutionRecord {
	return swap.ExecutionRecord{
		ID:              id,
		ScheduleID:      sched,
		AttemptedAt:     at,
		Outcome:         swap.OutcomeSuccess,
		ConvertedAmount: decimal.NewFromInt(100),
		RateApplied:     decimal.NewFromInt(10),
	}
}

func TestRecordsForIsMostRecentFirst(t *testing.T) {
	l := New(nil, logx.Nop())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(context.Background(), rec(fmt.Sprintf("a%d", i), "a", t0.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, l.Append(context.Background(), rec("b0", "b", t0)))

	got := l.RecordsFor("a")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a2", "a1", "a0"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 3, l.Count("a"))
	assert.Equal(t, 4, l.Len())
	assert.Empty(t, l.RecordsFor("missing"))
}

func TestReadersCannotMutateHistory(t *testing.T) {
	l := New(nil, logx.Nop())
	require.NoError(t, l.Append(context.Background(), rec("a0", "a", time.Now())))

	got := l.RecordsFor("a")
	got[0].FailureReason = "tampered"
	all := l.All()
	all[0].ID = "tampered"

	again := l.RecordsFor("a")
	assert.Equal(t, "", again[0].FailureReason)
	assert.Equal(t, "a0", l.All()[0].ID)
}

func TestAppendFailureIsPersistenceError(t *testing.T) {
	l := New(failingStore{Memory: storage.NewMemory(), err: errors.New("disk full")}, logx.Nop())
	err := l.Append(context.Background(), rec("a0", "a", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrPersistence))
	assert.Equal(t, 0, l.Count("a"))
}

func TestLoadRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	l := New(st, logx.Nop())
	require.NoError(t, l.Append(ctx, rec("a0", "a", t0)))
	require.NoError(t, l.Append(ctx, rec("a1", "a", t0.Add(time.Hour))))

	restored := New(st, logx.Nop())
	require.NoError(t, restored.Load(ctx))
	got := restored.RecordsFor("a")
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
}
