package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"recurswap/internal/analytics"
	"recurswap/internal/api"
	"recurswap/internal/config"
	"recurswap/internal/execution"
	"recurswap/internal/notifier"
	"recurswap/internal/storage"
	"recurswap/internal/swap"
	"recurswap/internal/task/engine"
	"recurswap/internal/task/scheduler"
	"recurswap/internal/transport"
	"recurswap/internal/venue"
	logx "recurswap/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        2,
		QueueSize:      256,
		DefaultTimeout: 2 * time.Minute,
		HistorySize:    200,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}

	// Safety: avoid a config where scheduler triggers run but engine is explicitly disabled.
	if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
		return engine.Config{}, errors.New("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.CircuitTripFailures = te.CircuitTripFailures

	var err error
	if out.DefaultTimeout, err = config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, out.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitBaseDelay, err = config.ParseDurationField("task_engine.circuit_base_delay", te.CircuitBaseDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitMaxDelay, err = config.ParseDurationField("task_engine.circuit_max_delay", te.CircuitMaxDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitResetAfter, err = config.ParseDurationField("task_engine.circuit_reset_after", te.CircuitResetAfter); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	out := scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Tick:     cfg.Scheduler.Tick,
		Timezone: cfg.Scheduler.Timezone,
	}
	if _, err := scheduler.ParseTick(out.Tick); err != nil {
		return scheduler.Config{}, errors.Wrap(err, "scheduler.tick")
	}
	return out, nil
}

func mapRetryPolicy(cfg *config.Config) (swap.RetryPolicy, error) {
	def := swap.DefaultRetryPolicy()
	p := def
	r := cfg.Retry
	if r.MaxRetries != nil {
		p.MaxRetries = *r.MaxRetries
	}
	if r.Jitter != nil {
		p.Jitter = *r.Jitter
	}
	var err error
	if p.Base, err = config.ParseDurationOrDefault("retry.base", r.Base, def.Base); err != nil {
		return swap.RetryPolicy{}, err
	}
	if p.MaxDelay, err = config.ParseDurationOrDefault("retry.max_delay", r.MaxDelay, def.MaxDelay); err != nil {
		return swap.RetryPolicy{}, err
	}
	return p, nil
}

func mapExecutionConfig(cfg *config.Config) (execution.Config, error) {
	policy, err := mapRetryPolicy(cfg)
	if err != nil {
		return execution.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("venue.timeout", cfg.Venue.Timeout, 30*time.Second)
	if err != nil {
		return execution.Config{}, err
	}
	// One attempt per asset at a time unless configured; -1 lifts the bound.
	group := 1
	if te := cfg.TaskEngine; te != nil && te.AssetConcurrency != 0 {
		group = te.AssetConcurrency
	}
	if group < 0 {
		group = 0
	}
	return execution.Config{
		VenueTimeout:     timeout,
		Retry:            policy,
		AssetConcurrency: group,
	}, nil
}

// venueSetup is the paper venue config plus its optional balance book.
type venueSetup struct {
	paper    venue.PaperConfig
	balances map[swap.Asset]decimal.Decimal
	// book is false when no balances are configured: the venue never runs
	// out of funds and the low-balance guard has no oracle.
	book bool
}

func mapVenueConfig(cfg *config.Config) (venueSetup, error) {
	v := cfg.Venue
	rates, err := venue.ParseRates(v.Rates)
	if err != nil {
		return venueSetup{}, errors.Wrap(err, "venue.rates")
	}
	out := venueSetup{paper: venue.PaperConfig{
		Rates:       rates,
		FailureRate: v.FailureRate,
		RatePerSec:  v.RatePerSec,
		Burst:       v.Burst,
	}}
	if s := strings.TrimSpace(v.Spread); s != "" {
		if out.paper.Spread, err = decimal.NewFromString(s); err != nil {
			return venueSetup{}, errors.Wrap(err, "venue.spread")
		}
	}
	if out.paper.Latency, err = config.ParseDurationField("venue.latency", v.Latency); err != nil {
		return venueSetup{}, err
	}
	if v.Balances != nil {
		if out.balances, err = venue.ParseAmounts(v.Balances); err != nil {
			return venueSetup{}, errors.Wrap(err, "venue.balances")
		}
		out.book = true
	}
	return out, nil
}

type guardSetup struct {
	levels map[swap.Asset]swap.Volatility
	def    swap.Volatility
}

func mapGuardsConfig(cfg *config.Config) (guardSetup, error) {
	levels, err := venue.ParseLevels(cfg.Guards.Volatility)
	if err != nil {
		return guardSetup{}, errors.Wrap(err, "guards.volatility")
	}
	out := guardSetup{levels: levels, def: swap.VolatilityLow}
	if s := strings.TrimSpace(cfg.Guards.DefaultVolatility); s != "" {
		if out.def, err = venue.ParseVolatility(s); err != nil {
			return guardSetup{}, errors.Wrap(err, "guards.default_volatility")
		}
	}
	return out, nil
}

func mapAnalyticsConfig(cfg *config.Config) (analytics.Config, error) {
	a := cfg.Analytics
	out := analytics.Config{
		ManualFeeRate:    analytics.DefaultManualFeeRate,
		ScheduledFeeRate: analytics.DefaultScheduledFeeRate,
		Location:         time.UTC,
	}
	var err error
	if s := strings.TrimSpace(a.ManualFeeRate); s != "" {
		if out.ManualFeeRate, err = decimal.NewFromString(s); err != nil {
			return analytics.Config{}, errors.Wrap(err, "analytics.manual_fee_rate")
		}
	}
	if s := strings.TrimSpace(a.ScheduledFeeRate); s != "" {
		if out.ScheduledFeeRate, err = decimal.NewFromString(s); err != nil {
			return analytics.Config{}, errors.Wrap(err, "analytics.scheduled_fee_rate")
		}
	}
	if tz := strings.TrimSpace(a.Timezone); tz != "" {
		if out.Location, err = time.LoadLocation(tz); err != nil {
			return analytics.Config{}, errors.Wrapf(err, "analytics.timezone %q", tz)
		}
	}
	return out, nil
}

// mapStorageConfig reports enabled=false for an omitted section or driver "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "file":
		if path == "" {
			path = "./recurswap"
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, errors.WithHint(
				errors.New("storage.dsn is required when storage.driver=postgres"),
				"set storage.dsn or RECURSWAP_DATABASE_DSN")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN), MaxOpenConns: sc.MaxOpenConns}, true, nil
	default:
		return storage.Config{}, false, errors.Newf("unknown storage.driver: %s", sc.Driver)
	}
}

func notifierSection(cfg *config.Config) config.NotifierConfig {
	if cfg.Notifier == nil {
		return config.DefaultNotifier()
	}
	return *cfg.Notifier
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := notifierSection(cfg)
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, time.Minute); err != nil {
		return notifier.Config{}, err
	}

	if notifierTransport(cfg) == "telegram" {
		if len(cfg.Telegram.ChatIDs) == 0 {
			return notifier.Config{}, errors.New("telegram.chat_ids is required when notifier.transport=telegram")
		}
		for _, id := range cfg.Telegram.ChatIDs {
			out.Targets = append(out.Targets, transport.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.ThreadID})
		}
	} else {
		out.Targets = []transport.ChatTarget{{}}
	}
	return out, nil
}

func notifierTransport(cfg *config.Config) string {
	t := strings.ToLower(strings.TrimSpace(notifierSection(cfg).Transport))
	if t == "" {
		return "log"
	}
	return t
}

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	a := cfg.API
	out := api.Config{
		Enabled:       a.Enabled,
		Addr:          strings.TrimSpace(a.Addr),
		Token:         strings.TrimSpace(a.Token),
		AllowInsecure: a.AllowInsecure,
		Pprof:         a.Pprof,
	}
	if out.Addr == "" {
		out.Addr = api.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("api.read_timeout", a.ReadTimeout, 10*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("api.write_timeout", a.WriteTimeout, 30*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("api.idle_timeout", a.IdleTimeout, 60*time.Second); err != nil {
		return api.Config{}, err
	}
	// pprof's profile handler streams for up to 30s by default.
	if out.Pprof && out.WriteTimeout > 0 && out.WriteTimeout < 35*time.Second {
		out.WriteTimeout = 35 * time.Second
	}
	return out, nil
}

// ValidateConfig runs structural validation plus every mapping, so a config
// that passes can be applied without errors.
func ValidateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	te, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	ec, err := mapExecutionConfig(cfg)
	if err != nil {
		return err
	}
	if te.DefaultTimeout > 0 && te.DefaultTimeout <= ec.VenueTimeout {
		return errors.WithHint(
			errors.Newf("task_engine.default_timeout (%s) must exceed venue.timeout (%s)", te.DefaultTimeout, ec.VenueTimeout),
			"raise task_engine.default_timeout or lower venue.timeout",
		)
	}
	if _, err := mapVenueConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGuardsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAnalyticsConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err = mapAPIConfig(cfg)
	return err
}
