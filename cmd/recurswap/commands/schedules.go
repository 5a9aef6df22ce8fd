package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"recurswap/internal/api"
	"recurswap/internal/swap"
)

var SchedulesCmd = &cobra.Command{
	Use:     "schedules",
	Aliases: []string{"sch", "schedule"},
	Short:   "Manage recurring swap schedules",
	Long: `Manage the schedules of a running daemon over its HTTP API.

Examples:
  recurswap schedules list
  recurswap schedules create --asset BTC --amount 0.01 --frequency daily --count 10
  recurswap schedules pause <id>
  recurswap schedules history <id>`,
}

var schedulesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List schedules",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		views, err := newClient().ListSchedules(cmd.Context())
		if err != nil {
			return describeErr(err)
		}
		return printSchedules(cmd.OutOrStdout(), views)
	},
}

var schedulesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newClient().GetSchedule(cmd.Context(), args[0])
		if err != nil {
			return describeErr(err)
		}
		return printSchedule(cmd.OutOrStdout(), v)
	},
}

var createOpts struct {
	label      string
	asset      string
	amount     string
	currency   string
	frequency  string
	start      string
	count      int
	lowBalance bool
	volatility bool
	maxRetries int
}

var schedulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a schedule",
	Long: `Create a recurring schedule.

--count 0 runs until the schedule is deleted. --max-retries -1 uses the
daemon's retry policy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := definitionFromFlags()
		if err != nil {
			return err
		}
		v, err := newClient().CreateSchedule(cmd.Context(), def)
		if err != nil {
			return describeErr(err)
		}
		return printSchedule(cmd.OutOrStdout(), v)
	},
}

// transition builds the pause/resume/duplicate subcommands, which share a shape.
func transition(use, short string, call func(*api.Client, context.Context, string) (api.ScheduleView, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := call(newClient(), cmd.Context(), args[0])
			if err != nil {
				return describeErr(err)
			}
			return printSchedule(cmd.OutOrStdout(), v)
		},
	}
}

var schedulesDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a schedule (its history is kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
			return describeErr(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var schedulesHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the execution history of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := newClient().History(cmd.Context(), args[0])
		if err != nil {
			return describeErr(err)
		}
		return printHistory(cmd.OutOrStdout(), recs)
	},
}

func init() {
	f := schedulesCreateCmd.Flags()
	f.StringVar(&createOpts.label, "label", "", "free-form label")
	f.StringVar(&createOpts.asset, "asset", "", "source asset (BTC, ETH, XRP, LTC, SOL, USDT)")
	f.StringVar(&createOpts.amount, "amount", "", "amount of the source asset per execution")
	f.StringVar(&createOpts.currency, "currency", string(swap.DefaultCurrency), "target fiat currency")
	f.StringVar(&createOpts.frequency, "frequency", "", "daily, weekly or monthly")
	f.StringVar(&createOpts.start, "start", string(swap.StartImmediate), "immediate, next-day or next-week")
	f.IntVar(&createOpts.count, "count", 0, "number of executions (0 = until cancelled)")
	f.BoolVar(&createOpts.lowBalance, "skip-low-balance", false, "skip a cycle when the balance cannot cover it")
	f.BoolVar(&createOpts.volatility, "pause-high-volatility", false, "pause the schedule when volatility is high")
	f.IntVar(&createOpts.maxRetries, "max-retries", -1, "retries per cycle (-1 = daemon default)")
	_ = schedulesCreateCmd.MarkFlagRequired("asset")
	_ = schedulesCreateCmd.MarkFlagRequired("amount")
	_ = schedulesCreateCmd.MarkFlagRequired("frequency")

	SchedulesCmd.AddCommand(
		schedulesListCmd,
		schedulesGetCmd,
		schedulesCreateCmd,
		transition("pause", "Pause a schedule", (*api.Client).Pause),
		transition("resume", "Resume a paused or failed schedule", (*api.Client).Resume),
		transition("duplicate", "Copy a schedule's configuration into a new schedule", (*api.Client).Duplicate),
		schedulesDeleteCmd,
		schedulesHistoryCmd,
	)
}

func definitionFromFlags() (swap.Definition, error) {
	amount, err := decimal.NewFromString(createOpts.amount)
	if err != nil {
		return swap.Definition{}, errors.Wrapf(err, "invalid --amount %q", createOpts.amount)
	}
	def := swap.Definition{
		Label:              createOpts.label,
		SourceAsset:        swap.Asset(createOpts.asset),
		AmountPerExecution: amount,
		TargetCurrency:     swap.Currency(createOpts.currency),
		Frequency:          swap.Frequency(createOpts.frequency),
		StartPolicy:        swap.StartPolicy(createOpts.start),
		Duration:           swap.DurationPolicy{Kind: swap.UntilCancelled},
		Guards: swap.Guards{
			SkipIfLowBalance:      createOpts.lowBalance,
			PauseOnHighVolatility: createOpts.volatility,
		},
	}
	if createOpts.count != 0 {
		def.Duration = swap.DurationPolicy{Kind: swap.FixedCount, Count: createOpts.count}
	}
	if createOpts.maxRetries >= 0 {
		mr := createOpts.maxRetries
		def.MaxRetries = &mr
	}
	return def, nil
}

func printSchedules(w io.Writer, views []api.ScheduleView) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, views)
	}
	if len(views) == 0 {
		fmt.Fprintln(w, "no schedules")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSWAP\tFREQUENCY\tSTATUS\tPROGRESS\tNEXT")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s %s -> %s\t%s\t%s\t%s\t%s\n",
			v.ID, dash(v.Label), v.AmountPerExecution, v.SourceAsset, v.TargetCurrency,
			v.Frequency, v.DisplayStatus, progress(v.Schedule), formatNext(v.NextExecutionAt))
	}
	return tw.Flush()
}

func printSchedule(w io.Writer, v api.ScheduleView) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, v)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, val any) { fmt.Fprintf(tw, "%s:\t%v\n", k, val) }
	row("ID", v.ID)
	row("Label", dash(v.Label))
	row("Swap", fmt.Sprintf("%s %s -> %s", v.AmountPerExecution, v.SourceAsset, v.TargetCurrency))
	row("Frequency", v.Frequency)
	row("Start", v.StartPolicy)
	row("Status", v.DisplayStatus)
	row("Progress", progress(v.Schedule))
	row("Next execution", formatNext(v.NextExecutionAt))
	row("Retries", fmt.Sprintf("%d/%d", v.RetryCount, v.MaxRetries))
	row("Guards", guards(v.Guards))
	if v.LastFailureReason != "" {
		row("Last failure", v.LastFailureReason)
	}
	row("Created", v.CreatedAt.Format(time.RFC3339))
	return tw.Flush()
}

func printHistory(w io.Writer, recs []swap.ExecutionRecord) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "no executions yet")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPTED\tCYCLE\tATTEMPT\tOUTCOME\tCONVERTED\tRATE\tREASON")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			r.AttemptedAt.Format(time.RFC3339), r.Cycle, r.Attempt, r.Outcome,
			r.ConvertedAmount, r.RateApplied, dash(r.FailureReason))
	}
	return tw.Flush()
}

func progress(s swap.Schedule) string {
	if !s.Duration.Bounded() {
		return fmt.Sprintf("%d/∞", s.CompletedExecutions)
	}
	return fmt.Sprintf("%d/%d", s.CompletedExecutions, s.PlannedExecutions)
}

func formatNext(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func guards(g swap.Guards) string {
	switch {
	case g.SkipIfLowBalance && g.PauseOnHighVolatility:
		return "skip-low-balance, pause-high-volatility"
	case g.SkipIfLowBalance:
		return "skip-low-balance"
	case g.PauseOnHighVolatility:
		return "pause-high-volatility"
	default:
		return "none"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
