package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"recurswap/cmd/recurswap/commands"
)

var rootCmd = &cobra.Command{
	Use:   "recurswap",
	Short: "Recurring crypto-to-fiat conversion scheduler",
	Long: `recurswap - Scheduled swaps daemon and control client.

The daemon keeps a registry of recurring conversion schedules, attempts each
one when it falls due, retries failures with backoff and records every
attempt in an append-only history.

Examples:
  recurswap serve --config ./recurswap.yaml
  recurswap schedules create --asset BTC --amount 0.01 --frequency weekly
  recurswap schedules list
  recurswap analytics
  recurswap config check --config ./recurswap.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("env-file")
		if path == "" {
			return nil
		}
		if err := godotenv.Load(path); err != nil {
			// a missing default .env is fine; an explicit one is not
			if cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load env file %s: %w", path, err)
			}
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("env-file", ".env", "dotenv file loaded before the command runs")
	commands.BindGlobalFlags(pf)

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SchedulesCmd)
	rootCmd.AddCommand(commands.AnalyticsCmd)
	rootCmd.AddCommand(commands.EngineCmd)
	rootCmd.AddCommand(commands.HealthCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
