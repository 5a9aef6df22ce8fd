package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/eventbus"
	"recurswap/internal/swap"
	"recurswap/internal/transport"
	logx "recurswap/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []string
	targets  []transport.ChatTarget
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("flaky")
	}
	f.sent = append(f.sent, text)
	f.targets = append(f.targets, to)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func startService(t *testing.T, cfg Config, sender transport.Sender, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifyDelivers(t *testing.T) {
	f := &fakeSender{}
	s := startService(t, testConfig(), f, nil)

	require.NoError(t, s.Notify(context.Background(), transport.Message{Text: "hello"}))
	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, s.History(), 1)
	assert.Equal(t, "hello", s.History()[0].Text)
}

func TestNotifyDedupsIdenticalMessages(t *testing.T) {
	f := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, eventbus.NotifierDeduped)
	defer unsub()
	s := startService(t, testConfig(), f, bus)

	require.NoError(t, s.Notify(context.Background(), transport.Message{Text: "same"}))
	require.NoError(t, s.Notify(context.Background(), transport.Message{Text: "same"}))
	require.NoError(t, s.Notify(context.Background(), transport.Message{Text: "other"}))

	require.Eventually(t, func() bool { return f.count() == 2 }, time.Second, 5*time.Millisecond)
	select {
	case ev := <-events:
		assert.Equal(t, eventbus.NotifierDeduped, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no dedup event")
	}
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	f := &fakeSender{failures: 2}
	s := startService(t, testConfig(), f, nil)

	require.NoError(t, s.Notify(context.Background(), transport.Message{Text: "retry me"}))
	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	f := &fakeSender{failures: 10}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, eventbus.NotifierFailed)
	defer unsub()
	s := startService(t, testConfig(), f, bus)
	require.NoError(t, s.Notify(context.Background(), transport.Message{Text: "never"}))

	select {
	case ev := <-events:
		data, ok := ev.Data.(NotificationEvent)
		require.True(t, ok)
		assert.Equal(t, "flaky", data.Error)
	case <-time.After(time.Second):
		t.Fatal("no failed event")
	}
	assert.Zero(t, f.count())
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), transport.Message{Text: "x"}), ErrDisabled)

	s = New(testConfig(), &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), transport.Message{Text: "x"}), ErrStopped)
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}

func sampleSchedule() swap.Schedule {
	next := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	return swap.Schedule{
		ID:                  "s1",
		Label:               "stack sats",
		SourceAsset:         swap.AssetBTC,
		AmountPerExecution:  decimal.RequireFromString("0.01"),
		TargetCurrency:      "ZAR",
		Frequency:           swap.FrequencyWeekly,
		Duration:            swap.DurationPolicy{Kind: swap.FixedCount, Count: 12},
		PlannedExecutions:   12,
		CompletedExecutions: 3,
		NextExecutionAt:     &next,
		LastFailureReason:   "venue_rejected",
	}
}

func TestFormatNotice(t *testing.T) {
	s := sampleSchedule()
	rec := &swap.ExecutionRecord{
		ConvertedAmount: decimal.RequireFromString("15000"),
		RateApplied:     decimal.RequireFromString("1500000"),
	}

	cases := []struct {
		kind swap.NoticeKind
		rec  *swap.ExecutionRecord
		want []string
	}{
		{swap.NoticeCreated, nil, []string{"created", "stack sats (s1)", "0.01 BTC -> ZAR weekly", "2026-03-09 09:00"}},
		{swap.NoticeSucceeded, rec, []string{"executed", "Received 15000 ZAR at 1500000", "Progress: 3/12"}},
		{swap.NoticeCompleted, nil, []string{"completed", "3 executions"}},
		{swap.NoticeFailed, nil, []string{"failed", "Reason: venue_rejected"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			out := FormatNotice(swap.Notice{Kind: tc.kind, Schedule: s, Record: tc.rec})
			for _, w := range tc.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestSwapSinkQueuesPerTarget(t *testing.T) {
	f := &fakeSender{}
	cfg := testConfig()
	cfg.Targets = []transport.ChatTarget{{ChatID: 1}, {ChatID: 2, ThreadID: 7}}
	s := startService(t, cfg, f, nil)

	NewSwapSink(s, logx.Nop()).Notify(context.Background(), swap.Notice{Kind: swap.NoticeFailed, Schedule: sampleSchedule()})

	require.Eventually(t, func() bool { return f.count() == 2 }, time.Second, 5*time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.ElementsMatch(t, []transport.ChatTarget{{ChatID: 1}, {ChatID: 2, ThreadID: 7}}, f.targets)
	assert.Contains(t, f.sent[0], "⚠️ ")
}

func TestFormatNoticeHTMLEscapes(t *testing.T) {
	s := sampleSchedule()
	s.Label = "<rent> & bills"
	out := FormatNoticeHTML(swap.Notice{Kind: swap.NoticeFailed, Schedule: s})

	assert.Contains(t, out, "&lt;rent&gt; &amp; bills (<code>s1</code>)")
	assert.Contains(t, out, "<b>Scheduled swap failed</b>")
	assert.Contains(t, out, "Reason: <code>venue_rejected</code>")
	assert.NotContains(t, out, "<rent>")

	rec := &swap.ExecutionRecord{
		ConvertedAmount: decimal.RequireFromString("15000"),
		RateApplied:     decimal.RequireFromString("1500000"),
	}
	out = FormatNoticeHTML(swap.Notice{Kind: swap.NoticeSucceeded, Schedule: s, Record: rec})
	assert.Contains(t, out, "Received <b>15000 ZAR</b> at <code>1500000</code>")
	assert.Contains(t, out, "<i>Progress: 3/12</i>")
}

type namedSender struct {
	fakeSender
	name string
	opts []*transport.SendOptions
}

func (n *namedSender) Name() string { return n.name }

func (n *namedSender) Send(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	n.mu.Lock()
	n.opts = append(n.opts, opt)
	n.mu.Unlock()
	return n.fakeSender.Send(ctx, to, text, opt)
}

func TestSwapSinkUsesHTMLForTelegram(t *testing.T) {
	f := &namedSender{name: "telegram"}
	cfg := testConfig()
	cfg.Targets = []transport.ChatTarget{{ChatID: 1}}
	s := startService(t, cfg, f, nil)

	NewSwapSink(s, logx.Nop()).Notify(context.Background(), swap.Notice{Kind: swap.NoticeCompleted, Schedule: sampleSchedule()})

	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Contains(t, f.sent[0], "<b>Scheduled swap completed</b>")
	require.NotNil(t, f.opts[0])
	assert.Equal(t, "HTML", f.opts[0].ParseMode)
}
