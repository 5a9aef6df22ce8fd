package execution

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/eventbus"
	"recurswap/internal/ledger"
	"recurswap/internal/registry"
	"recurswap/internal/storage"
	"recurswap/internal/swap"
	"recurswap/internal/swap/swaptest"
	"recurswap/internal/task/engine"
	logx "recurswap/pkg/logx"
)

type flakyStore struct {
	*storage.Memory
	failAppend bool
}

func (f *flakyStore) AppendExecution(ctx context.Context, r swap.ExecutionRecord) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	return f.Memory.AppendExecution(ctx, r)
}

type fixture struct {
	exec  *Executor
	reg   *registry.Registry
	led   *ledger.Ledger
	store *flakyStore
	clock *swaptest.Clock
	venue *swaptest.Venue
	bal   *swaptest.Balances
	vol   *swaptest.Volatility
	notes *swaptest.Notifier
	bus   eventbus.Bus
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, results ...swaptest.Result) *fixture {
	t.Helper()
	f := &fixture{
		store: &flakyStore{Memory: storage.NewMemory()},
		clock: swaptest.NewClock(t0),
		venue: swaptest.NewVenue(results...),
		bal:   swaptest.NewBalances(),
		vol:   swaptest.NewVolatility(),
		notes: &swaptest.Notifier{},
		bus:   eventbus.New(),
	}
	seq := 0
	f.reg = registry.New(registry.Options{
		Store:    f.store,
		Log:      logx.Nop(),
		Bus:      f.bus,
		Notifier: f.notes,
		Now:      f.clock.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("s%d", seq)
		},
		MaxRetries: 3,
	})
	f.led = ledger.New(f.store, logx.Nop())
	rec := 0
	f.exec = New(Config{
		VenueTimeout: time.Second,
		Retry:        swap.DefaultRetryPolicy(),
	}, Options{
		Registry:   f.reg,
		Ledger:     f.led,
		Venue:      f.venue,
		Balances:   f.bal,
		Volatility: f.vol,
		Notifier:   f.notes,
		Bus:        f.bus,
		Log:        logx.Nop(),
		Now:        f.clock.Now,
		NewID: func() string {
			rec++
			return fmt.Sprintf("r%d", rec)
		},
		Rand: rand.New(rand.NewSource(1)),
	})
	return f
}

func (f *fixture) create(t *testing.T, mod func(*swap.Definition)) swap.Schedule {
	t.Helper()
	def := swap.Definition{
		SourceAsset:        swap.AssetBTC,
		AmountPerExecution: decimal.RequireFromString("0.01"),
		TargetCurrency:     "ZAR",
		Frequency:          swap.FrequencyWeekly,
		StartPolicy:        swap.StartImmediate,
		Duration:           swap.DurationPolicy{Kind: swap.FixedCount, Count: 12},
	}
	if mod != nil {
		mod(&def)
	}
	s, err := f.reg.Create(context.Background(), def)
	require.NoError(t, err)
	return s
}

func (f *fixture) get(t *testing.T, id string) swap.Schedule {
	t.Helper()
	s, err := f.reg.Get(id)
	require.NoError(t, err)
	return s
}

func TestAttemptSuccessAdvancesCycle(t *testing.T) {
	f := newFixture(t, swaptest.Success("15000", "1500000"))
	s := f.create(t, nil)

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	require.NotNil(t, res.Record)
	assert.Equal(t, 1, res.Record.Attempt)
	assert.Equal(t, 0, res.Record.Cycle)
	assert.True(t, res.Record.ConvertedAmount.Equal(decimal.RequireFromString("15000")))

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusActive, got.Status)
	assert.Equal(t, 1, got.CompletedExecutions)
	require.NotNil(t, got.NextExecutionAt)
	assert.Equal(t, t0.AddDate(0, 0, 7), *got.NextExecutionAt)
	assert.Equal(t, 1, f.led.Count(s.ID))
	assert.Contains(t, f.notes.Kinds(), swap.NoticeSucceeded)
}

func TestAttemptFailureSchedulesRetryThenRecovers(t *testing.T) {
	f := newFixture(t,
		swaptest.Failure(errors.Mark(errors.New("upstream timed out"), swap.ErrNetworkTimeout)),
		swaptest.Success("15000", "1500000"),
	)
	s := f.create(t, nil)

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrExecution))
	assert.False(t, errors.Is(err, swap.ErrRetryExhausted))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "network_timeout: upstream timed out", res.Record.FailureReason)

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusExecuting, got.Status)
	assert.Equal(t, swap.DisplayRetryPending, got.DisplayStatus())
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextExecutionAt)
	wait := got.NextExecutionAt.Sub(t0)
	assert.GreaterOrEqual(t, wait, 48*time.Second)
	assert.LessOrEqual(t, wait, 72*time.Second)

	// Not due yet.
	res, err = f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 1, f.venue.Calls())

	f.clock.Set(*got.NextExecutionAt)
	res, err = f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 2, res.Record.Attempt)

	got = f.get(t, s.ID)
	assert.Equal(t, swap.StatusActive, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 1, got.CompletedExecutions)
	assert.Equal(t, t0.AddDate(0, 0, 7), *got.NextExecutionAt)

	recs := f.led.RecordsFor(s.ID)
	require.Len(t, recs, 2)
	assert.Equal(t, swap.OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, swap.OutcomeFailed, recs[1].Outcome)
}

func TestAttemptExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.venue.Default = swaptest.Failure(errors.Mark(errors.New("no funds"), swap.ErrInsufficientBalance))
	one := 1
	s := f.create(t, func(d *swap.Definition) { d.MaxRetries = &one })

	_, err := f.exec.Attempt(context.Background(), s.ID)
	require.Error(t, err)
	f.clock.Set(*f.get(t, s.ID).NextExecutionAt)

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrRetryExhausted))
	assert.True(t, res.Exhausted)

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusFailed, got.Status)
	assert.Nil(t, got.NextExecutionAt)
	assert.Equal(t, 1, got.CompletedExecutions)
	assert.Equal(t, "insufficient_balance: no funds", got.LastFailureReason)
	assert.Contains(t, f.notes.Kinds(), swap.NoticeFailed)

	res, err = f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 2, f.venue.Calls())
}

func TestAttemptCompletesLastCycle(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, func(d *swap.Definition) { d.Duration = swap.DurationPolicy{Kind: swap.FixedCount, Count: 1} })
	events, unsub := f.bus.Subscribe(8, eventbus.SwapCompleted)
	defer unsub()

	_, err := f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusCompleted, got.Status)
	assert.Nil(t, got.NextExecutionAt)
	assert.Contains(t, f.notes.Kinds(), swap.NoticeCompleted)
	select {
	case ev := <-events:
		assert.Equal(t, eventbus.SwapCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no completed event")
	}
}

func TestGuardLowBalanceSkipsCycle(t *testing.T) {
	f := newFixture(t)
	f.bal.Set(swap.AssetBTC, "0.005")
	s := f.create(t, func(d *swap.Definition) { d.Guards.SkipIfLowBalance = true })

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "low_balance", res.Reason)
	assert.Zero(t, f.venue.Calls())
	assert.Zero(t, f.led.Count(s.ID))

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusActive, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 0, got.CompletedExecutions)
	assert.Equal(t, t0.AddDate(0, 0, 7), *got.NextExecutionAt)
}

func TestGuardHighVolatilitySkipsCycle(t *testing.T) {
	f := newFixture(t)
	f.vol.Set(swap.AssetBTC, swap.VolatilityHigh)
	s := f.create(t, func(d *swap.Definition) { d.Guards.PauseOnHighVolatility = true })

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "high_volatility", res.Reason)
	assert.Zero(t, f.venue.Calls())
}

func TestGuardPassesWithEnoughBalance(t *testing.T) {
	f := newFixture(t)
	f.bal.Set(swap.AssetBTC, "0.01")
	f.vol.Set(swap.AssetBTC, swap.VolatilityMedium)
	s := f.create(t, func(d *swap.Definition) {
		d.Guards = swap.Guards{SkipIfLowBalance: true, PauseOnHighVolatility: true}
	})

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
}

func TestGuardsNotReevaluatedOnRetry(t *testing.T) {
	f := newFixture(t, swaptest.Failure(errors.New("rejected")))
	f.bal.Set(swap.AssetBTC, "1")
	s := f.create(t, func(d *swap.Definition) { d.Guards.SkipIfLowBalance = true })

	_, err := f.exec.Attempt(context.Background(), s.ID)
	require.Error(t, err)

	f.bal.Set(swap.AssetBTC, "0")
	f.clock.Set(*f.get(t, s.ID).NextExecutionAt)
	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 2, f.venue.Calls())
}

func TestOracleErrorLeavesScheduleDue(t *testing.T) {
	f := newFixture(t)
	f.bal.Err = errors.New("oracle down")
	s := f.create(t, func(d *swap.Definition) { d.Guards.SkipIfLowBalance = true })

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Zero(t, f.venue.Calls())

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusActive, got.Status)
	assert.True(t, got.IsDue(f.clock.Now()))
}

func TestGuardWithoutOracleDefersCycle(t *testing.T) {
	cases := []struct {
		name  string
		unset func(*Executor)
		guard swap.Guards
	}{
		{"balance", func(e *Executor) { e.bal = nil }, swap.Guards{SkipIfLowBalance: true}},
		{"volatility", func(e *Executor) { e.vol = nil }, swap.Guards{PauseOnHighVolatility: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.unset(f.exec)
			s := f.create(t, func(d *swap.Definition) { d.Guards = tc.guard })

			res, err := f.exec.Attempt(context.Background(), s.ID)
			require.Error(t, err)
			assert.Equal(t, OutcomeDeferred, res.Outcome)
			assert.Equal(t, "guard_unavailable", res.Reason)
			assert.Zero(t, f.venue.Calls())
			assert.Zero(t, f.led.Len())

			got := f.get(t, s.ID)
			assert.Equal(t, swap.StatusActive, got.Status)
			assert.Equal(t, t0, *got.NextExecutionAt)
			assert.True(t, got.IsDue(f.clock.Now()))
		})
	}
}

func TestLedgerFailureRestoresSchedule(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, nil)
	f.store.failAppend = true

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrPersistence))
	assert.Equal(t, OutcomeAborted, res.Outcome)

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusActive, got.Status)
	assert.Equal(t, 0, got.CompletedExecutions)
	assert.Equal(t, t0, *got.NextExecutionAt)
	assert.Zero(t, f.led.Len())

	f.store.failAppend = false
	res, err = f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
}

func TestVenueTimeoutIsRetryableFailure(t *testing.T) {
	f := newFixture(t)
	f.venue.Block = make(chan struct{})
	f.exec.Reconfigure(Config{VenueTimeout: 20 * time.Millisecond})
	s := f.create(t, nil)

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "network_timeout", res.Record.FailureReason)
	assert.Equal(t, 1, f.get(t, s.ID).RetryCount)
}

func TestTaskDeadlineCoversVenueTimeout(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, nil)
	task := f.exec.Task(s)
	assert.Greater(t, task.Timeout, f.exec.Config().VenueTimeout)
}

func TestEngineDeadlineIsRecordedAsFailure(t *testing.T) {
	f := newFixture(t)
	f.venue.Block = make(chan struct{})
	s := f.create(t, nil)

	eng := engine.New(engine.Config{Enabled: true, Workers: 1, DefaultTimeout: 50 * time.Millisecond}, logx.Nop(), eventbus.New())
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})

	// the engine deadline fires well before the venue timeout
	task := f.exec.Task(s)
	task.Timeout = 0
	for range 3 {
		require.NoError(t, eng.Enqueue(task))
		require.Eventually(t, func() bool { return !eng.Busy(s.ID) }, 2*time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, 1, f.venue.Calls())
	require.Equal(t, 1, f.led.Len())
	got := f.get(t, s.ID)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.LastFailureReason, "network_timeout")
	assert.False(t, got.IsDue(f.clock.Now()))
}

func TestDeadlineDuringVenueCallStillPersists(t *testing.T) {
	f := newFixture(t)
	f.venue.Block = make(chan struct{})
	s := f.create(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := f.exec.Attempt(ctx, s.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrExecution))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Record)
	assert.Equal(t, "network_timeout", res.Record.FailureReason)
	assert.Equal(t, 1, f.led.Len())
	assert.Equal(t, 1, f.get(t, s.ID).RetryCount)
}

func TestPauseDuringAttemptKeepsPaused(t *testing.T) {
	f := newFixture(t)
	f.venue.Block = make(chan struct{})
	s := f.create(t, nil)

	type out struct {
		res Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := f.exec.Attempt(context.Background(), s.ID)
		done <- out{res, err}
	}()

	require.Eventually(t, func() bool { return f.venue.Calls() == 1 }, time.Second, 5*time.Millisecond)
	_, err := f.reg.Pause(context.Background(), s.ID)
	require.NoError(t, err)
	close(f.venue.Block)

	o := <-done
	require.NoError(t, o.err)
	assert.Equal(t, OutcomeSucceeded, o.res.Outcome)

	got := f.get(t, s.ID)
	assert.Equal(t, swap.StatusPaused, got.Status)
	assert.Equal(t, 1, got.CompletedExecutions)
	assert.Nil(t, got.NextExecutionAt)
}

func TestCanceledAttemptIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.venue.Block = make(chan struct{})
	s := f.create(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.venue.Calls() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res, err := f.exec.Attempt(ctx, s.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Zero(t, f.led.Len())
	assert.Equal(t, swap.StatusActive, f.get(t, s.ID).Status)
}

func TestAttemptOnDeletedSchedule(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, nil)
	require.NoError(t, f.reg.Delete(context.Background(), s.ID))

	res, err := f.exec.Attempt(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Zero(t, f.venue.Calls())
}

func TestTaskKeysByScheduleAndAsset(t *testing.T) {
	f := newFixture(t)
	f.exec.Reconfigure(Config{AssetConcurrency: 2, CircuitKey: "paper"})
	s := f.create(t, nil)

	task := f.exec.Task(s)
	assert.Equal(t, TaskName, task.Name)
	assert.Equal(t, s.ID, task.Key)
	assert.Equal(t, "BTC", task.Group)
	assert.Equal(t, 2, task.GroupLimit)
	assert.Equal(t, "paper", task.CircuitKey)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, f.get(t, s.ID).CompletedExecutions)
}
