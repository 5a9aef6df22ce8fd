package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"recurswap/internal/swap"
)

// Memory is a process-local Store. It keeps everything in maps and is lost on
// restart; useful for tests and dry runs.
type Memory struct {
	mu        sync.Mutex
	closed    bool
	schedules map[string]swap.Schedule
	execs     []swap.ExecutionRecord
	audit     []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{schedules: map[string]swap.Schedule{}}
}

func (m *Memory) SaveSchedule(ctx context.Context, s swap.Schedule) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.schedules[s.ID] = s.Clone()
	return nil
}

func (m *Memory) DeleteSchedule(ctx context.Context, id string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.schedules, id)
	return nil
}

func (m *Memory) LoadSchedules(ctx context.Context) ([]swap.Schedule, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]swap.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s.Clone())
	}
	sortSchedules(out)
	return out, nil
}

func (m *Memory) AppendExecution(ctx context.Context, r swap.ExecutionRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.execs = append(m.execs, r)
	return nil
}

func (m *Memory) LoadExecutions(ctx context.Context) ([]swap.ExecutionRecord, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]swap.ExecutionRecord, len(m.execs))
	copy(out, m.execs)
	return out, nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the audit trail.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func sortSchedules(v []swap.Schedule) {
	sort.Slice(v, func(i, j int) bool {
		if !v[i].CreatedAt.Equal(v[j].CreatedAt) {
			return v[i].CreatedAt.Before(v[j].CreatedAt)
		}
		return v[i].ID < v[j].ID
	})
}
