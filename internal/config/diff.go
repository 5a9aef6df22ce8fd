package config

import (
	"reflect"
	"sort"
	"strings"

	logx "recurswap/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens, DSNs) are never included,
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Tick) != strings.TrimSpace(newCfg.Scheduler.Tick) ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(nTE.MaxQueueDelay)),
			logx.Int("task_engine.asset_concurrency", nTE.AssetConcurrency),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retry, newCfg.Retry) {
		changed = append(changed, "retry")
		attrs = append(attrs,
			logx.String("retry.base", newCfg.Retry.Base),
			logx.String("retry.max_delay", newCfg.Retry.MaxDelay),
		)
		if newCfg.Retry.MaxRetries != nil {
			attrs = append(attrs, logx.Int("retry.max_retries", *newCfg.Retry.MaxRetries))
		}
	}

	if !reflect.DeepEqual(oldCfg.Venue, newCfg.Venue) {
		changed = append(changed, "venue")
		attrs = append(attrs,
			logx.String("venue.driver", newCfg.Venue.Driver),
			logx.String("venue.timeout", newCfg.Venue.Timeout),
			logx.Int("venue.rates", len(newCfg.Venue.Rates)),
			logx.String("venue.spread", newCfg.Venue.Spread),
			logx.Float64("venue.failure_rate", newCfg.Venue.FailureRate),
		)
	}

	if !reflect.DeepEqual(oldCfg.Guards, newCfg.Guards) {
		changed = append(changed, "guards")
		attrs = append(attrs, logx.Int("guards.volatility_entries", len(newCfg.Guards.Volatility)))
	}

	if !reflect.DeepEqual(oldCfg.Analytics, newCfg.Analytics) {
		changed = append(changed, "analytics")
		attrs = append(attrs,
			logx.String("analytics.manual_fee_rate", newCfg.Analytics.ManualFeeRate),
			logx.String("analytics.scheduled_fee_rate", newCfg.Analytics.ScheduledFeeRate),
			logx.String("analytics.timezone", newCfg.Analytics.Timezone),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS.Driver != nS.Driver || oS.Path != nS.Path || oS.BusyTimeout != nS.BusyTimeout ||
		oS.MaxOpenConns != nS.MaxOpenConns || oS.DSN != nS.DSN {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", nS.Path != ""),
			logx.Bool("storage.dsn_set", nS.DSN != ""),
		)
	}

	oN, nN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.String("notifier.transport", nN.Transport),
			logx.Int("notifier.workers", nN.Workers),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Telegram.ChatIDs, newCfg.Telegram.ChatIDs) ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		oldCfg.Telegram.Timeout != newCfg.Telegram.Timeout ||
		(oldCfg.Telegram.Token != "") != (newCfg.Telegram.Token != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.chat_count", len(newCfg.Telegram.ChatIDs)),
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(newCfg.API.Token) != ""),
			logx.Bool("api.allow_insecure", newCfg.API.AllowInsecure),
			logx.Bool("api.pprof", newCfg.API.Pprof),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "systemd":
			out = append(out, s)
		}
	}
	return out
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	out := *s
	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	out.Path = strings.TrimSpace(out.Path)
	out.DSN = strings.TrimSpace(out.DSN)
	out.BusyTimeout = strings.TrimSpace(out.BusyTimeout)
	return out
}

// DefaultNotifier is the effective notifier section when it is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Transport:       "log",
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return DefaultNotifier()
	}
	return *n
}
