// Package execution performs one conversion attempt for a schedule and folds
// the outcome back into it.
//
// An attempt re-reads the schedule, evaluates guards at the start of a cycle,
// marks the schedule executing, calls the venue under a timeout, appends the
// record to the ledger and only then commits the folded state.
package execution

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"recurswap/internal/eventbus"
	"recurswap/internal/ledger"
	"recurswap/internal/registry"
	"recurswap/internal/swap"
	"recurswap/internal/task/engine"
	logx "recurswap/pkg/logx"
)

// TaskName is the engine task name for attempts.
const TaskName = "swap.attempt"

const (
	// taskTimeoutMargin is added to VenueTimeout for the engine task deadline,
	// leaving room for the ledger append and the commit after the venue call.
	taskTimeoutMargin = 15 * time.Second
	commitTimeout     = 5 * time.Second
)

type Config struct {
	// VenueTimeout bounds a single Convert call. 0 means 30s.
	VenueTimeout time.Duration
	Retry        swap.RetryPolicy

	// AssetConcurrency bounds concurrent attempts per source asset. 0 disables.
	AssetConcurrency int
	// CircuitKey names the venue circuit in the task engine.
	CircuitKey string
}

func (c Config) withDefaults() Config {
	if c.VenueTimeout <= 0 {
		c.VenueTimeout = 30 * time.Second
	}
	c.Retry = c.Retry.WithDefaults()
	if c.CircuitKey == "" {
		c.CircuitKey = "venue"
	}
	return c
}

type Options struct {
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	Venue      swap.Venue
	Balances   swap.BalanceOracle
	Volatility swap.VolatilityOracle
	Notifier   swap.Notifier
	Bus        eventbus.Bus
	Log        logx.Logger

	// Now, NewID and Rand are injectable for tests.
	Now   func() time.Time
	NewID func() string
	Rand  *rand.Rand
}

type Executor struct {
	reg   *registry.Registry
	led   *ledger.Ledger
	venue swap.Venue
	bal   swap.BalanceOracle
	vol   swap.VolatilityOracle
	note  swap.Notifier
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
	newID func() string

	rngMu sync.Mutex
	rng   *rand.Rand

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, opts Options) *Executor {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Notifier == nil {
		opts.Notifier = swap.NopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Executor{
		reg:   opts.Registry,
		led:   opts.Ledger,
		venue: opts.Venue,
		bal:   opts.Balances,
		vol:   opts.Volatility,
		note:  opts.Notifier,
		bus:   opts.Bus,
		log:   opts.Log,
		now:   opts.Now,
		newID: opts.NewID,
		rng:   opts.Rand,
		cfg:   cfg.withDefaults(),
	}
}

func (e *Executor) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Reconfigure applies to attempts started afterwards.
func (e *Executor) Reconfigure(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// Task wraps an attempt for the task engine. The schedule ID is the overlap
// key so a schedule never has two attempts queued or running.
func (e *Executor) Task(s swap.Schedule) engine.Task {
	cfg := e.Config()
	id := s.ID
	return engine.Task{
		Name:       TaskName,
		Timeout:    cfg.VenueTimeout + taskTimeoutMargin,
		Key:        id,
		Group:      string(s.SourceAsset),
		GroupLimit: cfg.AssetConcurrency,
		CircuitKey: cfg.CircuitKey,
		Run: func(ctx context.Context) error {
			_, err := e.Attempt(ctx, id)
			return err
		},
	}
}

var errNotDue = errors.New("schedule not due")

// Attempt runs one attempt for id.
//
// Guard skips, aborted attempts and persisted failures are reported through
// Result.Outcome. The returned error is non-nil for venue failures (marked
// swap.ErrExecution, plus swap.ErrRetryExhausted on the exhausting attempt)
// and for infrastructure problems (swap.ErrPersistence, oracle errors), which
// leave the schedule due for the next tick.
func (e *Executor) Attempt(ctx context.Context, id string) (Result, error) {
	cfg := e.Config()
	now := e.now()

	s, err := e.reg.Get(id)
	if err != nil {
		if errors.Is(err, swap.ErrNotFound) {
			return Result{Outcome: OutcomeAborted, Reason: "deleted"}, nil
		}
		return Result{Outcome: OutcomeAborted}, err
	}
	if !s.IsDue(now) {
		return Result{Outcome: OutcomeAborted, Reason: "not_due", Schedule: s}, nil
	}

	if s.AtCycleStart() && s.Guards.Any() {
		reason, gerr := e.checkGuards(ctx, s)
		if gerr != nil {
			e.log.Warn("guard check failed; schedule stays due", logx.String("id", id), logx.Err(gerr))
			return Result{Outcome: OutcomeDeferred, Reason: "guard_unavailable", Schedule: s}, engine.Neutral(gerr)
		}
		if reason != "" {
			return e.skip(ctx, id, reason, now)
		}
	}

	var preStatus swap.Status
	s, err = e.reg.Mutate(ctx, id, registry.ActorScheduler, "begin", func(s *swap.Schedule) error {
		if !s.IsDue(now) {
			return errNotDue
		}
		preStatus = s.Status
		s.BeginAttempt(now)
		return nil
	})
	if aborted, res, err := e.abortOn(err); aborted {
		return res, err
	}

	rec := swap.ExecutionRecord{
		ID:              e.newID(),
		ScheduleID:      id,
		AttemptedAt:     now,
		ConvertedAmount: decimal.Zero,
		RateApplied:     decimal.Zero,
		Cycle:           s.Cycle,
		Attempt:         s.RetryCount + 1,
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.VenueTimeout)
	quote, verr := e.venue.Convert(vctx, s.SourceAsset, s.AmountPerExecution, s.TargetCurrency)
	cancel()

	if verr != nil && errors.Is(ctx.Err(), context.Canceled) {
		// Shutdown, not a venue verdict: put the schedule back as it was.
		e.restore(id, preStatus)
		return Result{Outcome: OutcomeAborted, Reason: "canceled", Schedule: s}, engine.Neutral(ctx.Err())
	}

	// The attempt deadline may have passed during the venue call; the outcome
	// is still recorded and folded.
	pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer pcancel()

	if verr == nil {
		rec.Outcome = swap.OutcomeSuccess
		rec.ConvertedAmount = quote.Converted
		rec.RateApplied = quote.Rate
	} else {
		rec.Outcome = swap.OutcomeFailed
		rec.FailureReason = swap.FailureReason(verr)
	}

	if err := e.led.Append(pctx, rec); err != nil {
		e.log.Error("ledger append failed; attempt discarded", logx.String("id", id), logx.Err(err))
		e.restore(id, preStatus)
		return Result{Outcome: OutcomeAborted, Reason: "persistence", Schedule: s}, engine.Neutral(err)
	}

	if verr == nil {
		return e.foldSuccess(pctx, rec)
	}
	return e.foldFailure(pctx, rec, verr, cfg.Retry)
}

func (e *Executor) abortOn(err error) (bool, Result, error) {
	switch {
	case err == nil:
		return false, Result{}, nil
	case errors.Is(err, errNotDue):
		return true, Result{Outcome: OutcomeAborted, Reason: "not_due"}, nil
	case errors.Is(err, swap.ErrNotFound):
		return true, Result{Outcome: OutcomeAborted, Reason: "deleted"}, nil
	default:
		return true, Result{Outcome: OutcomeAborted, Reason: "persistence"}, engine.Neutral(err)
	}
}

// restore undoes BeginAttempt. A pause that landed meanwhile is kept.
func (e *Executor) restore(id string, pre swap.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	_, err := e.reg.Mutate(ctx, id, registry.ActorScheduler, "restore", func(s *swap.Schedule) error {
		if s.Status == swap.StatusExecuting && pre != "" {
			s.Status = pre
		}
		return nil
	})
	if err != nil && !errors.Is(err, swap.ErrNotFound) {
		e.log.Warn("restore after aborted attempt failed", logx.String("id", id), logx.Err(err))
	}
}

var (
	errNoVolatilityOracle = errors.New("volatility oracle not configured")
	errNoBalanceOracle    = errors.New("balance oracle not configured")
)

// checkGuards returns a skip reason, or an error when a requested guard
// cannot be evaluated. A guard with no oracle behind it defers the cycle.
func (e *Executor) checkGuards(ctx context.Context, s swap.Schedule) (string, error) {
	if s.Guards.PauseOnHighVolatility {
		if e.vol == nil {
			return "", errNoVolatilityOracle
		}
		v, err := e.vol.CurrentVolatility(ctx, s.SourceAsset)
		if err != nil {
			return "", errors.Wrap(err, "volatility oracle")
		}
		if v == swap.VolatilityHigh {
			return "high_volatility", nil
		}
	}
	if s.Guards.SkipIfLowBalance {
		if e.bal == nil {
			return "", errNoBalanceOracle
		}
		b, err := e.bal.AvailableBalance(ctx, s.SourceAsset)
		if err != nil {
			return "", errors.Wrap(err, "balance oracle")
		}
		if b.LessThan(s.AmountPerExecution) {
			return "low_balance", nil
		}
	}
	return "", nil
}

func (e *Executor) skip(ctx context.Context, id, reason string, now time.Time) (Result, error) {
	s, err := e.reg.Mutate(ctx, id, registry.ActorScheduler, "skip:"+reason, func(s *swap.Schedule) error {
		if !s.IsDue(now) {
			return errNotDue
		}
		s.SkipCycle(now)
		return nil
	})
	if aborted, res, err := e.abortOn(err); aborted {
		return res, err
	}
	e.log.Info("cycle skipped by guard",
		logx.String("id", id),
		logx.String("reason", reason),
		logx.Time("next", *s.NextExecutionAt),
	)
	eventbus.Emit(e.bus, eventbus.SwapSkipped, SkipEvent{ScheduleID: id, Reason: reason, Next: *s.NextExecutionAt})
	return Result{Outcome: OutcomeSkipped, Reason: reason, Schedule: s}, nil
}

func (e *Executor) foldSuccess(ctx context.Context, rec swap.ExecutionRecord) (Result, error) {
	finish := e.now()
	s, err := e.reg.Mutate(ctx, rec.ScheduleID, registry.ActorScheduler, "success", func(s *swap.Schedule) error {
		s.ApplySuccess(finish)
		return nil
	})
	res := Result{Outcome: OutcomeSucceeded, Record: &rec, Schedule: s}
	if err != nil {
		return e.foldFailed(res, err)
	}

	e.log.Info("swap executed",
		logx.String("id", s.ID),
		logx.String("asset", string(s.SourceAsset)),
		logx.String("amount", s.AmountPerExecution.String()),
		logx.String("converted", rec.ConvertedAmount.String()),
		logx.String("rate", rec.RateApplied.String()),
		logx.Int("completed", s.CompletedExecutions),
	)
	eventbus.Emit(e.bus, eventbus.SwapSucceeded, rec)
	e.note.Notify(ctx, swap.Notice{Kind: swap.NoticeSucceeded, Schedule: s, Record: &rec})
	if s.Status == swap.StatusCompleted {
		eventbus.Emit(e.bus, eventbus.SwapCompleted, s)
		e.note.Notify(ctx, swap.Notice{Kind: swap.NoticeCompleted, Schedule: s})
	}
	return res, nil
}

func (e *Executor) foldFailure(ctx context.Context, rec swap.ExecutionRecord, verr error, p swap.RetryPolicy) (Result, error) {
	finish := e.now()
	var exhausted bool
	s, err := e.reg.Mutate(ctx, rec.ScheduleID, registry.ActorScheduler, "failure", func(s *swap.Schedule) error {
		e.rngMu.Lock()
		exhausted = s.ApplyFailure(rec.FailureReason, p, finish, e.rng)
		e.rngMu.Unlock()
		return nil
	})
	res := Result{Outcome: OutcomeFailed, Record: &rec, Schedule: s, Reason: rec.FailureReason}
	if err != nil {
		return e.foldFailed(res, err)
	}

	out := errors.Mark(errors.Wrapf(verr, "swap %s attempt %d", s.ID, rec.Attempt), swap.ErrExecution)
	if !exhausted {
		fields := []logx.Field{
			logx.String("id", s.ID),
			logx.String("reason", rec.FailureReason),
			logx.Int("retry", s.RetryCount),
			logx.Int("max_retries", s.MaxRetries),
		}
		if s.NextExecutionAt != nil {
			fields = append(fields, logx.Time("next", *s.NextExecutionAt))
		}
		e.log.Warn("swap failed; retry scheduled", fields...)
		eventbus.Emit(e.bus, eventbus.SwapRetryScheduled, rec)
		return res, out
	}

	res.Exhausted = true
	e.log.Error("swap failed; retries exhausted",
		logx.String("id", s.ID),
		logx.String("reason", rec.FailureReason),
		logx.String("status", string(s.Status)),
	)
	eventbus.Emit(e.bus, eventbus.SwapFailed, rec)
	e.note.Notify(ctx, swap.Notice{Kind: swap.NoticeFailed, Schedule: s, Record: &rec})
	if s.Status == swap.StatusCompleted {
		eventbus.Emit(e.bus, eventbus.SwapCompleted, s)
	}
	return res, errors.Mark(out, swap.ErrRetryExhausted)
}

// foldFailed handles a commit that did not land after the record was
// appended. A deleted schedule keeps its history; anything else is left due
// and will be attempted again.
func (e *Executor) foldFailed(res Result, err error) (Result, error) {
	if errors.Is(err, swap.ErrNotFound) {
		e.log.Info("schedule deleted during attempt; record kept", logx.String("id", res.Record.ScheduleID))
		return res, nil
	}
	e.log.Error("commit after attempt failed", logx.String("id", res.Record.ScheduleID), logx.Err(err))
	res.Outcome = OutcomeAborted
	res.Reason = "persistence"
	return res, engine.Neutral(err)
}
