// Package analytics derives rollup metrics from the execution ledger.
//
// Snapshots are recomputed on every call; nothing is cached.
package analytics

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"recurswap/internal/swap"
)

// ScopeAll selects every record in the ledger, deleted schedules included.
const ScopeAll = "all"

// BucketHours is the width of a best-window bucket; 24/BucketHours buckets per day.
const BucketHours = 2

const bucketCount = 24 / BucketHours

// minWindowSamples is the number of successes a bucket needs to be ranked.
const minWindowSamples = 2

var (
	DefaultManualFeeRate    = decimal.RequireFromString("0.01")
	DefaultScheduledFeeRate = decimal.RequireFromString("0.005")
)

type Config struct {
	ManualFeeRate    decimal.Decimal
	ScheduledFeeRate decimal.Decimal
	// Location bins AttemptedAt into time-of-day buckets. Nil means UTC.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.ManualFeeRate.IsZero() && c.ScheduledFeeRate.IsZero() {
		c.ManualFeeRate = DefaultManualFeeRate
		c.ScheduledFeeRate = DefaultScheduledFeeRate
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Window is a time-of-day bucket [StartHour, EndHour) in the configured zone.
type Window struct {
	Found     bool            `json:"found"`
	Bucket    int             `json:"bucket"`
	StartHour int             `json:"start_hour"`
	EndHour   int             `json:"end_hour"`
	Label     string          `json:"label,omitempty"`
	Samples   int             `json:"samples"`
	MeanRate  decimal.Decimal `json:"mean_rate"`
	Variance  decimal.Decimal `json:"variance"`
	Zone      string          `json:"zone"`
}

type Snapshot struct {
	Scope                string          `json:"scope"`
	TotalExecutions      int             `json:"total_executions"`
	SuccessfulExecutions int             `json:"successful_executions"`
	FailedExecutions     int             `json:"failed_executions"`
	SuccessRate          decimal.Decimal `json:"success_rate"`
	TotalConverted       decimal.Decimal `json:"total_converted"`
	AverageRate          decimal.Decimal `json:"average_rate"`
	FeeSavings           decimal.Decimal `json:"fee_savings"`
	BestWindow           Window          `json:"best_window"`
}

// Source is the read side of the ledger.
type Source interface {
	All() []swap.ExecutionRecord
	RecordsFor(scheduleID string) []swap.ExecutionRecord
}

type Aggregator struct {
	src Source

	mu  sync.RWMutex
	cfg Config
}

func New(src Source, cfg Config) *Aggregator {
	return &Aggregator{src: src, cfg: cfg.withDefaults()}
}

// Reconfigure swaps fee rates and zone; later snapshots use the new values.
func (a *Aggregator) Reconfigure(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg.withDefaults()
	a.mu.Unlock()
}

// Snapshot computes metrics for one schedule, or for every record when
// scope is ScopeAll or empty.
func (a *Aggregator) Snapshot(scope string) Snapshot {
	a.mu.RLock()
	cfg := a.cfg
	a.mu.RUnlock()

	var recs []swap.ExecutionRecord
	if scope == "" || scope == ScopeAll {
		scope = ScopeAll
		recs = a.src.All()
	} else {
		recs = a.src.RecordsFor(scope)
	}
	s := Compute(recs, cfg)
	s.Scope = scope
	return s
}

// Compute is the pure aggregation over recs.
func Compute(recs []swap.ExecutionRecord, cfg Config) Snapshot {
	cfg = cfg.withDefaults()
	out := Snapshot{
		TotalExecutions: len(recs),
		SuccessRate:     decimal.Zero,
		TotalConverted:  decimal.Zero,
		AverageRate:     decimal.Zero,
		FeeSavings:      decimal.Zero,
	}

	rateSum := decimal.Zero
	var buckets [bucketCount][]decimal.Decimal
	for _, r := range recs {
		if !r.Succeeded() {
			out.FailedExecutions++
			continue
		}
		out.SuccessfulExecutions++
		out.TotalConverted = out.TotalConverted.Add(r.ConvertedAmount)
		rateSum = rateSum.Add(r.RateApplied)
		b := r.AttemptedAt.In(cfg.Location).Hour() / BucketHours
		buckets[b] = append(buckets[b], r.RateApplied)
	}

	if out.TotalExecutions > 0 {
		out.SuccessRate = decimal.NewFromInt(int64(out.SuccessfulExecutions)).
			Div(decimal.NewFromInt(int64(out.TotalExecutions)))
	}
	if out.SuccessfulExecutions > 0 {
		out.AverageRate = rateSum.Div(decimal.NewFromInt(int64(out.SuccessfulExecutions)))
	}
	out.FeeSavings = out.TotalConverted.Mul(cfg.ManualFeeRate.Sub(cfg.ScheduledFeeRate))
	out.BestWindow = bestWindow(buckets, cfg.Location)
	return out
}

func bestWindow(buckets [bucketCount][]decimal.Decimal, loc *time.Location) Window {
	w := Window{Bucket: -1, Zone: loc.String(), MeanRate: decimal.Zero, Variance: decimal.Zero}
	for i, rates := range buckets {
		if len(rates) < minWindowSamples {
			continue
		}
		mean, variance := meanVariance(rates)
		// Strict less keeps the lower index on ties.
		if !w.Found || variance.LessThan(w.Variance) {
			w.Found = true
			w.Bucket = i
			w.Samples = len(rates)
			w.MeanRate = mean
			w.Variance = variance
		}
	}
	if w.Found {
		w.StartHour = w.Bucket * BucketHours
		w.EndHour = w.StartHour + BucketHours
		w.Label = fmt.Sprintf("%02d:00-%02d:00", w.StartHour, w.EndHour)
	}
	return w
}

// meanVariance returns the mean and population variance of xs.
func meanVariance(xs []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(xs)))
	sum := decimal.Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	mean := sum.Div(n)
	sq := decimal.Zero
	for _, x := range xs {
		d := x.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	return mean, sq.Div(n)
}
