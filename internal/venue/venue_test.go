package venue

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcZar(t *testing.T) map[Pair]decimal.Decimal {
	t.Helper()
	rates, err := ParseRates(map[string]string{"btc/zar": "1500000", "ETH/ZAR": "60000"})
	require.NoError(t, err)
	return rates
}

func TestParseRates(t *testing.T) {
	rates := btcZar(t)
	assert.True(t, rates[Pair{swap.AssetBTC, "ZAR"}].Equal(dec("1500000")))

	_, err := ParseRates(map[string]string{"BTCZAR": "1"})
	require.Error(t, err)
	_, err = ParseRates(map[string]string{"BTC/ZAR": "-1"})
	require.Error(t, err)
	_, err = ParseRates(map[string]string{"DOGE/ZAR": "1"})
	require.Error(t, err)
}

func TestPaperConvertAppliesSpread(t *testing.T) {
	p := NewPaper(PaperConfig{Rates: btcZar(t), Spread: dec("0.01")}, nil, logx.Nop())

	q, err := p.Convert(context.Background(), swap.AssetBTC, dec("0.01"), "ZAR")
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(dec("1485000")), q.Rate.String())
	assert.True(t, q.Converted.Equal(dec("14850")), q.Converted.String())
}

func TestPaperConvertUnknownPairRejected(t *testing.T) {
	p := NewPaper(PaperConfig{Rates: btcZar(t)}, nil, logx.Nop())
	_, err := p.Convert(context.Background(), swap.AssetSOL, dec("1"), "ZAR")
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrVenueRejected))
	assert.Equal(t, "venue_rejected: no reference rate for SOL/ZAR", swap.FailureReason(err))
}

func TestPaperConvertDebitsBook(t *testing.T) {
	book := NewBook(map[swap.Asset]decimal.Decimal{swap.AssetBTC: dec("0.015")})
	p := NewPaper(PaperConfig{Rates: btcZar(t)}, book, logx.Nop())

	_, err := p.Convert(context.Background(), swap.AssetBTC, dec("0.01"), "ZAR")
	require.NoError(t, err)
	bal, err := book.AvailableBalance(context.Background(), swap.AssetBTC)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("0.005")))

	_, err = p.Convert(context.Background(), swap.AssetBTC, dec("0.01"), "ZAR")
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrInsufficientBalance))
	assert.True(t, book.Snapshot()[swap.AssetBTC].Equal(dec("0.005")))
}

func TestPaperFailureInjection(t *testing.T) {
	p := NewPaper(PaperConfig{Rates: btcZar(t), FailureRate: 1}, nil, logx.Nop())
	_, err := p.Convert(context.Background(), swap.AssetBTC, dec("0.01"), "ZAR")
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrVenueRejected))
}

func TestPaperLatencyHonorsDeadline(t *testing.T) {
	p := NewPaper(PaperConfig{Rates: btcZar(t), Latency: time.Second}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Convert(ctx, swap.AssetBTC, dec("0.01"), "ZAR")
	require.Error(t, err)
	assert.Equal(t, "network_timeout", swap.FailureReason(err))
}

func TestPaperRateLimitTimeoutIsNetworkTimeout(t *testing.T) {
	p := NewPaper(PaperConfig{Rates: btcZar(t), RatePerSec: 0.001, Burst: 1}, nil, logx.Nop())
	_, err := p.Convert(context.Background(), swap.AssetBTC, dec("0.01"), "ZAR")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Convert(ctx, swap.AssetBTC, dec("0.01"), "ZAR")
	require.Error(t, err)
	assert.True(t, errors.Is(err, swap.ErrNetworkTimeout))
}

func TestVolatilityTable(t *testing.T) {
	levels, err := ParseLevels(map[string]string{"BTC": "HIGH"})
	require.NoError(t, err)
	tbl := NewTable(levels)

	v, err := tbl.CurrentVolatility(context.Background(), swap.AssetBTC)
	require.NoError(t, err)
	assert.Equal(t, swap.VolatilityHigh, v)

	v, err = tbl.CurrentVolatility(context.Background(), swap.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, swap.VolatilityLow, v)

	tbl.SetDefault(swap.VolatilityMedium)
	v, err = tbl.CurrentVolatility(context.Background(), swap.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, swap.VolatilityMedium, v)

	_, err = ParseLevels(map[string]string{"BTC": "extreme"})
	require.Error(t, err)
}
