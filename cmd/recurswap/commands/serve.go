package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // IANA zones on hosts without zoneinfo

	"github.com/spf13/cobra"

	"recurswap/internal/app"
	"recurswap/pkg/logx"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling daemon",
	Long: `Run the scheduling daemon in the foreground.

The daemon loads schedules and history from storage, scans for due
schedules on every tick, executes them on the task engine and serves the
HTTP API. SIGINT or SIGTERM triggers a graceful stop.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var stopTimeout time.Duration

func init() {
	ServeCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "graceful shutdown budget")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(configPath)
	if err != nil {
		return describeErr(err)
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return describeErr(err)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	// the app context derives from ctx, so both may be closed by a signal
	reason := app.StopSignal
	switch {
	case a.Err() != nil:
		reason = app.StopFatalError
	case ctx.Err() == nil:
		reason = app.StopAppStop
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		logx.NewConsole("info").Error("shutdown incomplete", logx.Err(err))
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
