package swap

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is a completed conversion.
type Quote struct {
	Converted decimal.Decimal `json:"converted"`
	Rate      decimal.Decimal `json:"rate"`
}

// Venue performs the actual conversion. Errors should be marked with
// ErrInsufficientBalance, ErrNetworkTimeout or ErrVenueRejected.
type Venue interface {
	Convert(ctx context.Context, asset Asset, amount decimal.Decimal, currency Currency) (Quote, error)
}

type BalanceOracle interface {
	AvailableBalance(ctx context.Context, asset Asset) (decimal.Decimal, error)
}

type Volatility string

const (
	VolatilityLow    Volatility = "low"
	VolatilityMedium Volatility = "medium"
	VolatilityHigh   Volatility = "high"
)

type VolatilityOracle interface {
	CurrentVolatility(ctx context.Context, asset Asset) (Volatility, error)
}

type NoticeKind string

const (
	NoticeCreated   NoticeKind = "created"
	NoticeSucceeded NoticeKind = "succeeded"
	NoticeCompleted NoticeKind = "completed"
	NoticeFailed    NoticeKind = "failed"
)

// Notice is a fire-and-forget notification about a schedule.
type Notice struct {
	Kind     NoticeKind
	Schedule Schedule
	Record   *ExecutionRecord
}

// Notifier receives notices. Implementations must not block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notice) {}
