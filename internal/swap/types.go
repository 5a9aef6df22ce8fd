package swap

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Asset string

const (
	AssetBTC  Asset = "BTC"
	AssetETH  Asset = "ETH"
	AssetXRP  Asset = "XRP"
	AssetLTC  Asset = "LTC"
	AssetSOL  Asset = "SOL"
	AssetUSDT Asset = "USDT"
)

var knownAssets = map[Asset]struct{}{
	AssetBTC: {}, AssetETH: {}, AssetXRP: {}, AssetLTC: {}, AssetSOL: {}, AssetUSDT: {},
}

// ParseAsset normalizes a symbol and rejects unknown assets.
func ParseAsset(s string) (Asset, error) {
	a := Asset(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownAssets[a]; !ok {
		return "", invalidf("unknown source asset %q", s)
	}
	return a, nil
}

// Currency is an ISO-4217 style settlement currency code.
type Currency string

const DefaultCurrency Currency = "ZAR"

func ParseCurrency(s string) (Currency, error) {
	c := strings.ToUpper(strings.TrimSpace(s))
	if c == "" {
		return DefaultCurrency, nil
	}
	if len(c) != 3 {
		return "", invalidf("invalid target currency %q", s)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", invalidf("invalid target currency %q", s)
		}
	}
	return Currency(c), nil
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", invalidf("unrecognized frequency %q", s)
	}
}

type StartPolicy string

const (
	StartImmediate StartPolicy = "immediate"
	StartNextDay   StartPolicy = "next-day"
	StartNextWeek  StartPolicy = "next-week"
)

func ParseStartPolicy(s string) (StartPolicy, error) {
	switch p := StartPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return StartImmediate, nil
	case StartImmediate, StartNextDay, StartNextWeek:
		return p, nil
	default:
		return "", invalidf("unrecognized start policy %q", s)
	}
}

type DurationKind string

const (
	UntilCancelled DurationKind = "until-cancelled"
	FixedCount     DurationKind = "fixed-count"
)

// DurationPolicy bounds how many executions a schedule performs.
type DurationPolicy struct {
	Kind  DurationKind `json:"kind"`
	Count int          `json:"count,omitempty"`
}

func (d DurationPolicy) Bounded() bool { return d.Kind == FixedCount }

type Status string

const (
	StatusActive    Status = "active"
	StatusExecuting Status = "executing"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// DisplayRetryPending is the user-facing status of an executing schedule
// that is waiting for its next retry.
const DisplayRetryPending = "failed-retry-pending"

// Guards are pre-execution conditions that may skip a cycle.
type Guards struct {
	SkipIfLowBalance      bool `json:"skip_if_low_balance"`
	PauseOnHighVolatility bool `json:"pause_on_high_volatility"`
}

func (g Guards) Any() bool { return g.SkipIfLowBalance || g.PauseOnHighVolatility }

// Definition is the user input for a new schedule.
type Definition struct {
	Label              string          `json:"label,omitempty"`
	SourceAsset        Asset           `json:"source_asset"`
	AmountPerExecution decimal.Decimal `json:"amount_per_execution"`
	TargetCurrency     Currency        `json:"target_currency,omitempty"`
	Frequency          Frequency       `json:"frequency"`
	StartPolicy        StartPolicy     `json:"start_policy,omitempty"`
	Duration           DurationPolicy  `json:"duration"`
	Guards             Guards          `json:"guards"`

	// MaxRetries overrides the daemon retry policy for this schedule.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// Schedule is a recurring conversion job and its runtime state.
type Schedule struct {
	ID                 string          `json:"id"`
	Label              string          `json:"label,omitempty"`
	SourceAsset        Asset           `json:"source_asset"`
	AmountPerExecution decimal.Decimal `json:"amount_per_execution"`
	TargetCurrency     Currency        `json:"target_currency"`
	Frequency          Frequency       `json:"frequency"`
	StartPolicy        StartPolicy     `json:"start_policy"`
	Duration           DurationPolicy  `json:"duration"`
	Guards             Guards          `json:"guards"`

	// PlannedExecutions is 0 for until-cancelled schedules.
	PlannedExecutions   int        `json:"planned_executions"`
	CompletedExecutions int        `json:"completed_executions"`
	Status              Status     `json:"status"`
	NextExecutionAt     *time.Time `json:"next_execution_at"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
	LastFailureReason   string     `json:"last_failure_reason,omitempty"`

	// Anchor is the due time of cycle 0; due times are Anchor + Cycle intervals.
	Anchor time.Time `json:"anchor"`
	Cycle  int       `json:"cycle"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Definition returns the configuration half of the schedule.
func (s Schedule) Definition() Definition {
	mr := s.MaxRetries
	return Definition{
		Label:              s.Label,
		SourceAsset:        s.SourceAsset,
		AmountPerExecution: s.AmountPerExecution,
		TargetCurrency:     s.TargetCurrency,
		Frequency:          s.Frequency,
		StartPolicy:        s.StartPolicy,
		Duration:           s.Duration,
		Guards:             s.Guards,
		MaxRetries:         &mr,
	}
}

// DisplayStatus is the user-facing status string.
func (s Schedule) DisplayStatus() string {
	if s.RetryPending() {
		return DisplayRetryPending
	}
	return string(s.Status)
}

// RetryPending reports whether the schedule is waiting to retry a failed attempt.
func (s Schedule) RetryPending() bool {
	return s.Status == StatusExecuting && s.RetryCount > 0 && s.NextExecutionAt != nil
}

// Clone returns a deep copy (NextExecutionAt is re-allocated).
func (s Schedule) Clone() Schedule {
	if s.NextExecutionAt != nil {
		t := *s.NextExecutionAt
		s.NextExecutionAt = &t
	}
	return s
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ExecutionRecord is one attempt in the history ledger. Never mutated after append.
type ExecutionRecord struct {
	ID              string          `json:"id"`
	ScheduleID      string          `json:"schedule_id"`
	AttemptedAt     time.Time       `json:"attempted_at"`
	Outcome         Outcome         `json:"outcome"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	RateApplied     decimal.Decimal `json:"rate_applied"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Cycle           int             `json:"cycle"`
	Attempt         int             `json:"attempt"`
}

func (r ExecutionRecord) Succeeded() bool { return r.Outcome == OutcomeSuccess }
