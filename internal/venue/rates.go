package venue

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"recurswap/internal/swap"
)

// Pair is a conversion direction, written "BTC/ZAR".
type Pair struct {
	Asset    swap.Asset
	Currency swap.Currency
}

func (p Pair) String() string { return string(p.Asset) + "/" + string(p.Currency) }

func ParsePair(s string) (Pair, error) {
	a, c, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Pair{}, errors.Newf("pair %q: want ASSET/CURRENCY", s)
	}
	asset, err := swap.ParseAsset(a)
	if err != nil {
		return Pair{}, errors.Wrapf(err, "pair %q", s)
	}
	cur, err := swap.ParseCurrency(c)
	if err != nil {
		return Pair{}, errors.Wrapf(err, "pair %q", s)
	}
	return Pair{Asset: asset, Currency: cur}, nil
}

// ParseRates converts a config map like {"BTC/ZAR": "1500000"}.
func ParseRates(m map[string]string) (map[Pair]decimal.Decimal, error) {
	out := make(map[Pair]decimal.Decimal, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p, err := ParsePair(k)
		if err != nil {
			return nil, err
		}
		r, err := decimal.NewFromString(strings.TrimSpace(m[k]))
		if err != nil {
			return nil, errors.Wrapf(err, "rate for %s", k)
		}
		if !r.IsPositive() {
			return nil, errors.Newf("rate for %s must be positive", k)
		}
		out[p] = r
	}
	return out, nil
}

// ParseAmounts converts a config map like {"BTC": "0.5"}.
func ParseAmounts(m map[string]string) (map[swap.Asset]decimal.Decimal, error) {
	out := make(map[swap.Asset]decimal.Decimal, len(m))
	for k, v := range m {
		a, err := swap.ParseAsset(k)
		if err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, errors.Wrapf(err, "balance for %s", k)
		}
		if d.IsNegative() {
			return nil, errors.Newf("balance for %s must not be negative", k)
		}
		out[a] = d
	}
	return out, nil
}
