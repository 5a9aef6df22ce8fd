package config

import (
	"strings"
)

// Environment overrides. Secrets are usually supplied this way (or through a
// .env file loaded by the CLI) rather than written into the config file.
const (
	EnvAPIToken      = "RECURSWAP_API_TOKEN"
	EnvTelegramToken = "RECURSWAP_TELEGRAM_TOKEN"
	EnvDatabaseDSN   = "RECURSWAP_DATABASE_DSN"
	EnvLogLevel      = "RECURSWAP_LOG_LEVEL"
)

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvAPIToken); ok {
		cfg.API.Token = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvDatabaseDSN); ok {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		cfg.Storage.DSN = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
}
