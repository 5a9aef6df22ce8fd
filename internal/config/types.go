package config

// Config is the daemon configuration file.
//
// All durations are Go duration strings ("500ms", "10s", "1m"). Amounts and
// rates are decimal strings so no precision is lost on the way in.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls attempt execution. Omitted means defaults with
	// enabled following scheduler.enabled.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Retry     RetryConfig     `json:"retry"`
	Venue     VenueConfig     `json:"venue"`
	Guards    GuardsConfig    `json:"guards"`
	Analytics AnalyticsConfig `json:"analytics"`

	// Storage nil means in-memory only.
	Storage *StorageConfig `json:"storage,omitempty"`
	// Notifier nil means enabled with defaults, delivering to the log.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	API      APIConfig      `json:"api"`
	Systemd  SystemdConfig  `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format,omitempty"` // console (default) or json
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger: how often due schedules are scanned.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Tick is "30s", "@every 1m", a cron expression or "cron:<expr>". Default 1m.
	Tick string `json:"tick,omitempty"`
	// Timezone for cron ticks. Due times themselves are absolute.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "2m"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - asset_concurrency: 1
type TaskEngineConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Workers   int   `json:"workers,omitempty"`
	QueueSize int   `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`

	// AssetConcurrency bounds concurrent attempts per source asset; -1 disables.
	AssetConcurrency int `json:"asset_concurrency,omitempty"`

	// Circuit breaker on the venue. circuit_trip_failures -1 disables it.
	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
	CircuitBaseDelay    string `json:"circuit_base_delay,omitempty"`
	CircuitMaxDelay     string `json:"circuit_max_delay,omitempty"`
	CircuitResetAfter   string `json:"circuit_reset_after,omitempty"`
}

// RetryConfig is the retry policy for failed attempts within one cycle.
// MaxRetries is a pointer so an explicit 0 (no retries) differs from omitted (3).
type RetryConfig struct {
	MaxRetries *int     `json:"max_retries,omitempty"`
	Base       string   `json:"base,omitempty"`
	MaxDelay   string   `json:"max_delay,omitempty"`
	Jitter     *float64 `json:"jitter,omitempty"`
}

// VenueConfig selects and tunes the conversion venue.
//
// Example:
//
//	"venue": {
//	  "driver": "paper",
//	  "rates": { "BTC/ZAR": "1500000", "ETH/ZAR": "60000" },
//	  "spread": "0.005",
//	  "balances": { "BTC": "0.5" }
//	}
type VenueConfig struct {
	Driver  string `json:"driver,omitempty"` // paper (default)
	Timeout string `json:"timeout,omitempty"`

	Rates       map[string]string `json:"rates,omitempty"`
	Spread      string            `json:"spread,omitempty"`
	FailureRate float64           `json:"failure_rate,omitempty"`
	Latency     string            `json:"latency,omitempty"`
	RatePerSec  float64           `json:"rate_per_sec,omitempty"`
	Burst       int               `json:"burst,omitempty"`

	// Balances seeds the paper balance book. Omitted means the book is not
	// attached and conversions never run out of funds.
	Balances map[string]string `json:"balances,omitempty"`
}

type GuardsConfig struct {
	// Volatility maps assets to low, medium or high.
	Volatility        map[string]string `json:"volatility,omitempty"`
	DefaultVolatility string            `json:"default_volatility,omitempty"`
}

type AnalyticsConfig struct {
	ManualFeeRate    string `json:"manual_fee_rate,omitempty"`
	ScheduledFeeRate string `json:"scheduled_fee_rate,omitempty"`
	// Timezone used for best-window buckets. Default UTC.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./recurswap.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Transport       string `json:"transport,omitempty"` // log (default) or telegram
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type TelegramConfig struct {
	Token    string  `json:"token,omitempty"` // do not log
	ChatIDs  []int64 `json:"chat_ids,omitempty"`
	ThreadID int     `json:"thread_id,omitempty"`
	Timeout  string  `json:"timeout,omitempty"`
}

// APIConfig controls the HTTP API.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8380").
//   - A non-loopback address needs a token or allow_insecure.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Pprof mounts net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING/WATCHDOG when NOTIFY_SOCKET is set.
	Notify bool `json:"notify"`
}
