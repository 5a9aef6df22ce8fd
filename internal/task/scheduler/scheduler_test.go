package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/swap"
	"recurswap/internal/task/engine"
	logx "recurswap/pkg/logx"
)

type staticSource struct {
	mu    sync.Mutex
	items []swap.Schedule
	asked []time.Time
}

func (s *staticSource) Due(now time.Time) []swap.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, now)
	out := make([]swap.Schedule, len(s.items))
	copy(out, s.items)
	return out
}

func (s *staticSource) scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.asked)
}

type scriptedEngine struct {
	mu   sync.Mutex
	errs map[string]error
	got  []string
}

func (e *scriptedEngine) Enqueue(t engine.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[t.Key]; err != nil {
		return err
	}
	e.got = append(e.got, t.Key)
	return nil
}

func taskFor(s swap.Schedule) engine.Task {
	return engine.Task{Name: "swap.attempt", Key: s.ID, Run: func(context.Context) error { return nil }}
}

func TestScanEnqueuesInDueOrderAndCounts(t *testing.T) {
	src := &staticSource{items: []swap.Schedule{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}}
	eng := &scriptedEngine{errs: map[string]error{
		"b": engine.ErrOverlapSkip,
		"c": engine.ErrQueueFull,
	}}
	svc := New(Config{Enabled: true}, Options{Log: logx.Nop(), Source: src, Engine: eng, NewTask: taskFor})

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	res := svc.Scan(now)
	assert.Equal(t, ScanResult{At: now, Due: 4, Enqueued: 2, Overlap: 1, Rejected: 1}, res)
	assert.Equal(t, []string{"a", "d"}, eng.got)
	assert.Equal(t, res, svc.Snapshot().LastScan)
}

func TestScanWithoutWiringIsNoop(t *testing.T) {
	svc := New(Config{}, Options{})
	res := svc.Scan(time.Now())
	assert.Equal(t, 0, res.Due)
}

func TestStartScansImmediatelyAndStops(t *testing.T) {
	src := &staticSource{}
	svc := New(Config{Enabled: true, Tick: "1h", Timezone: "Africa/Johannesburg"}, Options{
		Log: logx.Nop(), Source: src, Engine: &scriptedEngine{}, NewTask: taskFor,
	})
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, 1, src.scans())

	snap := svc.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "@every 1h0m0s", snap.Tick)
	assert.Equal(t, "Africa/Johannesburg", snap.Timezone)
	assert.False(t, snap.Next.IsZero())

	svc.Stop(context.Background())
	assert.False(t, svc.Snapshot().Running)
}

func TestStartDisabledDoesNothing(t *testing.T) {
	src := &staticSource{}
	svc := New(Config{Enabled: false}, Options{Source: src, Engine: &scriptedEngine{}, NewTask: taskFor})
	require.NoError(t, svc.Start(context.Background()))
	assert.False(t, svc.Snapshot().Running)
	assert.Equal(t, 0, src.scans())
}

func TestApplyRestartsOnTickChange(t *testing.T) {
	src := &staticSource{}
	svc := New(Config{Enabled: true, Tick: "1h"}, Options{Source: src, Engine: &scriptedEngine{}, NewTask: taskFor})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Apply(context.Background(), Config{Enabled: true, Tick: "30m"}))
	assert.Equal(t, "@every 30m0s", svc.Snapshot().Tick)
	assert.Equal(t, 2, src.scans())

	assert.Error(t, svc.Apply(context.Background(), Config{Enabled: true, Tick: "soon"}))
	assert.Equal(t, "@every 30m0s", svc.Snapshot().Tick)
}

func TestParseTick(t *testing.T) {
	cases := []struct {
		in    string
		cron  string
		every time.Duration
		bad   bool
	}{
		{in: "", every: time.Minute},
		{in: "30s", every: 30 * time.Second},
		{in: "00:05", every: 5 * time.Minute},
		{in: "*/30 * * * * *", cron: "*/30 * * * * *"},
		{in: "@hourly", cron: "@hourly"},
		{in: "cron:0 * * * *", cron: "0 * * * *"},
		{in: "cron:", bad: true},
		{in: "10ms", bad: true},
		{in: "00:75", bad: true},
		{in: "sometimes", bad: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTick(tc.in)
			if tc.bad {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.cron, got.Cron)
			assert.Equal(t, tc.every, got.Every)
		})
	}
}
