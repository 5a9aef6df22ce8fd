package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"recurswap/internal/analytics"
)

var AnalyticsCmd = &cobra.Command{
	Use:   "analytics [schedule-id]",
	Short: "Show execution analytics for one schedule or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := analytics.ScopeAll
		if len(args) == 1 {
			scope = args[0]
		}
		snap, err := newClient().Analytics(cmd.Context(), scope)
		if err != nil {
			return describeErr(err)
		}
		return printAnalytics(cmd.OutOrStdout(), snap)
	},
}

var EngineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Show task engine state and recent task history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := newClient().Engine(cmd.Context())
		if err != nil {
			return describeErr(err)
		}
		asJSON, err := jsonOutput()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(w, snap)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Running:\t%t\n", snap.Running)
		fmt.Fprintf(tw, "Workers:\t%d\n", snap.Workers)
		fmt.Fprintf(tw, "Queue:\t%d/%d\n", snap.QueueLen, snap.QueueCap)
		fmt.Fprintf(tw, "In flight:\t%d\n", snap.InFlight)
		fmt.Fprintf(tw, "Dropped:\t%d (queue full %d, stale %d)\n", snap.Dropped, snap.DroppedQueueFull, snap.DroppedStale)
		fmt.Fprintf(tw, "Circuits open:\t%d/%d\n", snap.CircuitOpen, snap.CircuitTotal)
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(snap.History) == 0 {
			return nil
		}
		fmt.Fprintln(w)
		return writeJSON(w, snap.History)
	},
}

var HealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			return describeErr(err)
		}
		asJSON, err := jsonOutput()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(w, h)
		}
		fmt.Fprintf(w, "%s: %d schedules, %d records\n", h.Status, h.Schedules, h.Records)
		names := make([]string, 0, len(h.Supervisors))
		for n := range h.Supervisors {
			names = append(names, n)
		}
		sort.Strings(names)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, n := range names {
			s := h.Supervisors[n]
			errText := "-"
			if s.FirstError != "" {
				errText = s.FirstError
			}
			fmt.Fprintf(tw, "  %s\tgoroutines=%d\terror=%s\n", n, s.Active, errText)
		}
		return tw.Flush()
	},
}

func printAnalytics(w io.Writer, s analytics.Snapshot) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, s)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Scope:\t%s\n", s.Scope)
	fmt.Fprintf(tw, "Executions:\t%d (%d ok, %d failed)\n", s.TotalExecutions, s.SuccessfulExecutions, s.FailedExecutions)
	fmt.Fprintf(tw, "Success rate:\t%s%%\n", s.SuccessRate.Shift(2).StringFixed(1))
	fmt.Fprintf(tw, "Total converted:\t%s\n", s.TotalConverted.StringFixed(2))
	fmt.Fprintf(tw, "Average rate:\t%s\n", s.AverageRate.StringFixed(2))
	fmt.Fprintf(tw, "Fee savings:\t%s\n", s.FeeSavings.StringFixed(2))
	if s.BestWindow.Found {
		fmt.Fprintf(tw, "Best window:\t%02d:00-%02d:00 %s (%d samples, mean rate %s)\n",
			s.BestWindow.StartHour, s.BestWindow.EndHour, s.BestWindow.Zone,
			s.BestWindow.Samples, s.BestWindow.MeanRate.StringFixed(2))
	} else {
		fmt.Fprintf(tw, "Best window:\tnot enough data\n")
	}
	return tw.Flush()
}
