package commands

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"recurswap/internal/app"
	"recurswap/internal/config"
)

var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect daemon configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a config file without starting the daemon",
	Long: `Decode the config file named by --config, apply environment overrides
and run the same validation the daemon runs on start and on reload.`,
	Args: cobra.NoArgs,
	RunE: runConfigCheck,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config as JSON (secrets redacted)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return describeErr(err)
		}
		redact(cfg)
		return writeJSON(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	ConfigCmd.AddCommand(configCheckCmd, configShowCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return describeErr(err)
	}
	if err := app.ValidateConfig(cfg); err != nil {
		return describeErr(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", configPath)
	return nil
}

func loadConfig() (*config.Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := config.Decode(configPath, b)
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

func redact(cfg *config.Config) {
	const hidden = "<redacted>"
	if cfg.API.Token != "" {
		cfg.API.Token = hidden
	}
	if cfg.Telegram.Token != "" {
		cfg.Telegram.Token = hidden
	}
	if cfg.Storage != nil && cfg.Storage.DSN != "" {
		cfg.Storage.DSN = hidden
	}
}
