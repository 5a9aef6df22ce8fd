package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	logx "recurswap/pkg/logx"
)

// Validate checks structure, ranges, durations, decimals and time zones.
// Domain tables (rates, balances, volatility) are validated where they are
// mapped onto components.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs error
	add := func(err error) {
		if err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	dec := func(path, raw string) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			add(errors.Wrapf(err, "%s: invalid decimal %q", path, raw))
			return
		}
		if d.IsNegative() {
			add(errors.Newf("%s: must be >= 0", path))
		}
	}
	tz := func(path, raw string) {
		if s := strings.TrimSpace(raw); s != "" {
			if _, err := time.LoadLocation(s); err != nil {
				add(errors.Wrapf(err, "%s: invalid %q", path, s))
			}
		}
	}

	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok {
		add(errors.Newf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		add(errors.Newf("logging.format: want console or json, got %q", cfg.Logging.Format))
	}

	tz("scheduler.timezone", cfg.Scheduler.Timezone)

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			add(errors.New("task_engine.workers must be >= 0"))
		}
		if te.QueueSize < 0 {
			add(errors.New("task_engine.queue_size must be >= 0"))
		}
		if te.HistorySize < 0 {
			add(errors.New("task_engine.history_size must be >= 0"))
		}
		if te.AssetConcurrency < -1 {
			add(errors.New("task_engine.asset_concurrency must be >= -1"))
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
		dur("task_engine.circuit_base_delay", te.CircuitBaseDelay)
		dur("task_engine.circuit_max_delay", te.CircuitMaxDelay)
		dur("task_engine.circuit_reset_after", te.CircuitResetAfter)
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			add(errors.New("task_engine.enabled cannot be false while scheduler.enabled is true"))
		}
	}

	if r := cfg.Retry.MaxRetries; r != nil && *r < 0 {
		add(errors.New("retry.max_retries must be >= 0"))
	}
	if j := cfg.Retry.Jitter; j != nil && (*j < 0 || *j >= 1) {
		add(errors.New("retry.jitter must be in [0, 1)"))
	}
	dur("retry.base", cfg.Retry.Base)
	dur("retry.max_delay", cfg.Retry.MaxDelay)

	switch strings.ToLower(strings.TrimSpace(cfg.Venue.Driver)) {
	case "", "paper":
	default:
		add(errors.Newf("venue.driver: unknown driver %q", cfg.Venue.Driver))
	}
	dur("venue.timeout", cfg.Venue.Timeout)
	dur("venue.latency", cfg.Venue.Latency)
	dec("venue.spread", cfg.Venue.Spread)
	if cfg.Venue.FailureRate < 0 || cfg.Venue.FailureRate > 1 {
		add(errors.New("venue.failure_rate must be in [0, 1]"))
	}
	if cfg.Venue.RatePerSec < 0 || cfg.Venue.Burst < 0 {
		add(errors.New("venue.rate_per_sec and venue.burst must be >= 0"))
	}

	dec("analytics.manual_fee_rate", cfg.Analytics.ManualFeeRate)
	dec("analytics.scheduled_fee_rate", cfg.Analytics.ScheduledFeeRate)
	tz("analytics.timezone", cfg.Analytics.Timezone)

	if s := cfg.Storage; s != nil {
		dur("storage.busy_timeout", s.BusyTimeout)
		if s.MaxOpenConns < 0 {
			add(errors.New("storage.max_open_conns must be >= 0"))
		}
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			add(errors.New("notifier: counts must be >= 0"))
		}
		switch strings.ToLower(strings.TrimSpace(n.Transport)) {
		case "", "log", "telegram":
		default:
			add(errors.Newf("notifier.transport: want log or telegram, got %q", n.Transport))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	dur("telegram.timeout", cfg.Telegram.Timeout)
	dur("api.read_timeout", cfg.API.ReadTimeout)
	dur("api.write_timeout", cfg.API.WriteTimeout)
	dur("api.idle_timeout", cfg.API.IdleTimeout)

	return errs
}
