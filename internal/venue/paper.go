package venue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

// PaperConfig controls the paper venue.
type PaperConfig struct {
	Rates map[Pair]decimal.Decimal
	// Spread is taken off the reference rate, 0.005 = 0.5%.
	Spread decimal.Decimal
	// FailureRate injects venue rejections with this probability (0..1).
	FailureRate float64
	// Latency is added to every call to emulate a remote venue.
	Latency time.Duration
	// RatePerSec limits calls like a venue API quota. 0 disables.
	RatePerSec float64
	Burst      int
	// Scale is the number of decimals kept in converted amounts.
	Scale int32
}

// Paper converts at configured reference rates minus a spread. When a Book
// is attached, every conversion debits it.
type Paper struct {
	log  logx.Logger
	book *Book

	mu      sync.RWMutex
	cfg     PaperConfig
	limiter *rate.Limiter

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ swap.Venue = (*Paper)(nil)

func NewPaper(cfg PaperConfig, book *Book, log logx.Logger) *Paper {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Paper{log: log, book: book, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	p.Apply(cfg)
	return p
}

// Apply replaces rates and limits. Safe for concurrent use.
func (p *Paper) Apply(cfg PaperConfig) {
	if cfg.Scale <= 0 {
		cfg.Scale = 2
	}
	if cfg.Spread.IsNegative() {
		cfg.Spread = decimal.Zero
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	rates := make(map[Pair]decimal.Decimal, len(cfg.Rates))
	for k, v := range cfg.Rates {
		rates[k] = v
	}
	cfg.Rates = rates

	p.mu.Lock()
	p.cfg = cfg
	p.limiter = lim
	p.mu.Unlock()
}

// Seed fixes the failure-injection sequence.
func (p *Paper) Seed(seed int64) {
	p.rngMu.Lock()
	p.rng = rand.New(rand.NewSource(seed))
	p.rngMu.Unlock()
}

// Quote returns the effective rate for a pair without converting.
func (p *Paper) Quote(asset swap.Asset, currency swap.Currency) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.effectiveRateLocked(asset, currency)
}

func (p *Paper) effectiveRateLocked(asset swap.Asset, currency swap.Currency) (decimal.Decimal, error) {
	ref, ok := p.cfg.Rates[Pair{Asset: asset, Currency: currency}]
	if !ok {
		return decimal.Zero, errors.Mark(errors.Newf("no reference rate for %s/%s", asset, currency), swap.ErrVenueRejected)
	}
	return ref.Mul(decimal.NewFromInt(1).Sub(p.cfg.Spread)), nil
}

func (p *Paper) Convert(ctx context.Context, asset swap.Asset, amount decimal.Decimal, currency swap.Currency) (swap.Quote, error) {
	p.mu.RLock()
	cfg := p.cfg
	lim := p.limiter
	rateApplied, rerr := p.effectiveRateLocked(asset, currency)
	p.mu.RUnlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return swap.Quote{}, errors.Mark(errors.Wrap(err, "venue rate limit"), swap.ErrNetworkTimeout)
		}
	}
	if cfg.Latency > 0 {
		t := time.NewTimer(cfg.Latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return swap.Quote{}, ctx.Err()
		}
	}
	if rerr != nil {
		return swap.Quote{}, rerr
	}
	if !amount.IsPositive() {
		return swap.Quote{}, errors.Mark(errors.Newf("amount %s must be positive", amount), swap.ErrVenueRejected)
	}
	if cfg.FailureRate > 0 && p.roll() < cfg.FailureRate {
		return swap.Quote{}, errors.Mark(errors.New("simulated venue rejection"), swap.ErrVenueRejected)
	}
	if p.book != nil {
		if err := p.book.Debit(asset, amount); err != nil {
			return swap.Quote{}, err
		}
	}

	q := swap.Quote{
		Converted: amount.Mul(rateApplied).Round(cfg.Scale),
		Rate:      rateApplied,
	}
	p.log.Debug("paper conversion",
		logx.String("pair", Pair{Asset: asset, Currency: currency}.String()),
		logx.String("amount", amount.String()),
		logx.String("converted", q.Converted.String()),
	)
	return q, nil
}

func (p *Paper) roll() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}
