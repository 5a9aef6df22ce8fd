// Package swaptest provides fakes for the swap ports.
package swaptest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"recurswap/internal/swap"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Result is one scripted venue response.
type Result struct {
	Quote swap.Quote
	Err   error
}

// Venue replays scripted results in order, then repeats Default.
type Venue struct {
	mu      sync.Mutex
	script  []Result
	Default Result
	calls   int

	// Block, when set, is waited on before each call returns.
	Block chan struct{}
}

func NewVenue(results ...Result) *Venue {
	return &Venue{
		script:  results,
		Default: Success("1000", "1000000"),
	}
}

// Success builds a successful result from an amount and rate.
func Success(converted, rate string) Result {
	return Result{Quote: swap.Quote{
		Converted: decimal.RequireFromString(converted),
		Rate:      decimal.RequireFromString(rate),
	}}
}

func Failure(err error) Result { return Result{Err: err} }

func (v *Venue) Convert(ctx context.Context, asset swap.Asset, amount decimal.Decimal, currency swap.Currency) (swap.Quote, error) {
	v.mu.Lock()
	v.calls++
	r := v.Default
	if len(v.script) > 0 {
		r = v.script[0]
		v.script = v.script[1:]
	}
	block := v.Block
	v.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return swap.Quote{}, ctx.Err()
		}
	}
	return r.Quote, r.Err
}

func (v *Venue) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// Balances is a fixed balance table.
type Balances struct {
	mu  sync.Mutex
	m   map[swap.Asset]decimal.Decimal
	Err error
}

func NewBalances() *Balances { return &Balances{m: map[swap.Asset]decimal.Decimal{}} }

func (b *Balances) Set(a swap.Asset, v string) {
	b.mu.Lock()
	b.m[a] = decimal.RequireFromString(v)
	b.mu.Unlock()
}

func (b *Balances) AvailableBalance(_ context.Context, a swap.Asset) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return decimal.Zero, b.Err
	}
	return b.m[a], nil
}

// Volatility is a fixed volatility table; unknown assets are low.
type Volatility struct {
	mu  sync.Mutex
	m   map[swap.Asset]swap.Volatility
	Err error
}

func NewVolatility() *Volatility { return &Volatility{m: map[swap.Asset]swap.Volatility{}} }

func (v *Volatility) Set(a swap.Asset, level swap.Volatility) {
	v.mu.Lock()
	v.m[a] = level
	v.mu.Unlock()
}

func (v *Volatility) CurrentVolatility(_ context.Context, a swap.Asset) (swap.Volatility, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Err != nil {
		return "", v.Err
	}
	if l, ok := v.m[a]; ok {
		return l, nil
	}
	return swap.VolatilityLow, nil
}

// Notifier records notices.
type Notifier struct {
	mu      sync.Mutex
	notices []swap.Notice
}

func (n *Notifier) Notify(_ context.Context, x swap.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

func (n *Notifier) Kinds() []swap.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]swap.NoticeKind, 0, len(n.notices))
	for _, x := range n.notices {
		out = append(out, x.Kind)
	}
	return out
}
