package venue

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"recurswap/internal/swap"
)

// Table is a configured volatility oracle. Unlisted assets report the
// default level (low unless SetDefault changed it).
type Table struct {
	mu     sync.RWMutex
	levels map[swap.Asset]swap.Volatility
	def    swap.Volatility
}

var _ swap.VolatilityOracle = (*Table)(nil)

func NewTable(levels map[swap.Asset]swap.Volatility) *Table {
	t := &Table{levels: map[swap.Asset]swap.Volatility{}, def: swap.VolatilityLow}
	t.Replace(levels)
	return t
}

func (t *Table) CurrentVolatility(ctx context.Context, a swap.Asset) (swap.Volatility, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.levels[a]; ok {
		return v, nil
	}
	return t.def, nil
}

func (t *Table) Set(a swap.Asset, v swap.Volatility) {
	t.mu.Lock()
	t.levels[a] = v
	t.mu.Unlock()
}

func (t *Table) SetDefault(v swap.Volatility) {
	t.mu.Lock()
	t.def = v
	t.mu.Unlock()
}

// Replace swaps the whole table, used on config reload.
func (t *Table) Replace(levels map[swap.Asset]swap.Volatility) {
	next := make(map[swap.Asset]swap.Volatility, len(levels))
	for a, v := range levels {
		next[a] = v
	}
	t.mu.Lock()
	t.levels = next
	t.mu.Unlock()
}

func ParseVolatility(s string) (swap.Volatility, error) {
	switch v := swap.Volatility(strings.ToLower(strings.TrimSpace(s))); v {
	case swap.VolatilityLow, swap.VolatilityMedium, swap.VolatilityHigh:
		return v, nil
	default:
		return "", errors.Newf("unknown volatility %q (want low, medium or high)", s)
	}
}

// ParseLevels converts a config map like {"BTC": "high"}.
func ParseLevels(m map[string]string) (map[swap.Asset]swap.Volatility, error) {
	out := make(map[swap.Asset]swap.Volatility, len(m))
	for k, v := range m {
		a, err := swap.ParseAsset(k)
		if err != nil {
			return nil, err
		}
		l, err := ParseVolatility(v)
		if err != nil {
			return nil, errors.Wrapf(err, "volatility for %s", k)
		}
		out[a] = l
	}
	return out, nil
}
