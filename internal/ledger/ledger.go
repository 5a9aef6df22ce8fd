// Package ledger is the append-only history of execution attempts.
package ledger

import (
	"context"
	"sync"

	"recurswap/internal/storage"
	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

// Ledger indexes execution records by schedule. Records are never mutated
// after Append; readers always get copies.
type Ledger struct {
	mu    sync.RWMutex
	store storage.Store
	log   logx.Logger

	all        []swap.ExecutionRecord
	bySchedule map[string][]int
}

// New returns a ledger backed by store. A nil store keeps history in memory only.
func New(store storage.Store, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		store:      store,
		log:        log,
		bySchedule: map[string][]int{},
	}
}

// Load rebuilds the index from storage. It replaces any in-memory state.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.LoadExecutions(ctx)
	if err != nil {
		return swap.Persistence(err, "load executions")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = l.all[:0]
	l.bySchedule = map[string][]int{}
	for _, r := range recs {
		l.indexLocked(r)
	}
	l.log.Debug("ledger loaded", logx.Int("records", len(recs)))
	return nil
}

// Append persists r and then indexes it. The store write happens under the
// ledger lock so per-schedule order in storage matches the index.
func (l *Ledger) Append(ctx context.Context, r swap.ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		if err := l.store.AppendExecution(ctx, r); err != nil {
			return swap.Persistence(err, "append execution")
		}
	}
	l.indexLocked(r)
	return nil
}

func (l *Ledger) indexLocked(r swap.ExecutionRecord) {
	l.all = append(l.all, r)
	l.bySchedule[r.ScheduleID] = append(l.bySchedule[r.ScheduleID], len(l.all)-1)
}

// RecordsFor returns the schedule's records, most recent first.
func (l *Ledger) RecordsFor(scheduleID string) []swap.ExecutionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.bySchedule[scheduleID]
	out := make([]swap.ExecutionRecord, 0, len(idx))
	for i := len(idx) - 1; i >= 0; i-- {
		out = append(out, l.all[idx[i]])
	}
	return out
}

// All returns every record in append order.
func (l *Ledger) All() []swap.ExecutionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]swap.ExecutionRecord, len(l.all))
	copy(out, l.all)
	return out
}

func (l *Ledger) Count(scheduleID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.bySchedule[scheduleID])
}

// Len returns the total number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.all)
}
