package venue

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"recurswap/internal/swap"
)

// Book is a paper balance book. It answers the balance guard and is debited
// by the paper venue.
type Book struct {
	mu  sync.Mutex
	bal map[swap.Asset]decimal.Decimal
}

var _ swap.BalanceOracle = (*Book)(nil)

func NewBook(initial map[swap.Asset]decimal.Decimal) *Book {
	b := &Book{bal: map[swap.Asset]decimal.Decimal{}}
	for a, v := range initial {
		b.bal[a] = v
	}
	return b
}

func (b *Book) AvailableBalance(ctx context.Context, a swap.Asset) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bal[a], nil
}

func (b *Book) Deposit(a swap.Asset, amount decimal.Decimal) {
	b.mu.Lock()
	b.bal[a] = b.bal[a].Add(amount)
	b.mu.Unlock()
}

// Debit fails with swap.ErrInsufficientBalance and leaves the balance alone
// when amount exceeds it.
func (b *Book) Debit(a swap.Asset, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	have := b.bal[a]
	if have.LessThan(amount) {
		return errors.Mark(errors.Newf("%s balance %s below %s", a, have, amount), swap.ErrInsufficientBalance)
	}
	b.bal[a] = have.Sub(amount)
	return nil
}

// Snapshot returns a copy of all balances.
func (b *Book) Snapshot() map[swap.Asset]decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[swap.Asset]decimal.Decimal, len(b.bal))
	for a, v := range b.bal {
		out[a] = v
	}
	return out
}
