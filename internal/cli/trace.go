package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CChapmanbird/nessai/internal/diagnostics"
	"github.com/CChapmanbird/nessai/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
}

// runDetail is the JSON payload for `trace show`.
type runDetail struct {
	Run              trace.RunSummary    `json:"run"`
	InsertionIndices []int               `json:"insertion_indices"`
	Events           []diagnostics.Event `json:"events"`
	DeadPoints       int                 `json:"dead_points"`
}

// NewTraceCommand creates the trace command group.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
		Long: `Inspect the trace database: list recorded runs or show one run's
evidence, diagnostic events, and insertion-index record.

Examples:
  nessai trace list --db ./runs.db
  nessai trace show --db ./runs.db 0190b5e2-...-f3 --format json`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newTraceListCommand(opts))
	cmd.AddCommand(newTraceShowCommand(opts))
	return cmd
}

func newTraceListCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List recorded runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceList(opts, cmd)
		},
	}
}

func newTraceShowCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <run-id>",
		Short:         "Show one run's result and diagnostics",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceShow(opts, args[0], cmd)
		},
	}
}

func runTraceList(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tNLIVE\tITER\tLOGZ\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.4f\t%s\n",
			r.ID, r.Status, r.NLive, r.Iterations, r.LogZ, r.CreatedAt)
	}
	return w.Flush()
}

func runTraceShow(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	ctx := context.Background()
	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load run", err)
	}
	indices, err := st.InsertionIndices(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load insertion indices", err)
	}
	events, err := st.Events(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load events", err)
	}
	dead, err := st.DeadPoints(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load dead points", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(runDetail{
			Run:              *run,
			InsertionIndices: indices,
			Events:           events,
			DeadPoints:       len(dead),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(out, "  nlive=%d dims=%d seed=%d tolerance=%g\n", run.NLive, run.Dims, run.Seed, run.Tolerance)
	if run.Status == "finished" {
		fmt.Fprintf(out, "  logZ = %.4f +/- %.4f after %d iterations\n", run.LogZ, run.LogZErr, run.Iterations)
		fmt.Fprintf(out, "  information = %.4f nats, insertion KS p-value = %.4f\n", run.Information, run.FinalKSP)
	}
	fmt.Fprintf(out, "  dead points: %d, insertion indices: %d\n", len(dead), len(indices))
	if len(events) > 0 {
		fmt.Fprintln(out, "  events:")
		for _, ev := range events {
			if ev.Detail != "" {
				fmt.Fprintf(out, "    [%d] %s: %s\n", ev.Iteration, ev.Kind, ev.Detail)
			} else {
				fmt.Fprintf(out, "    [%d] %s\n", ev.Iteration, ev.Kind)
			}
		}
	}
	return nil
}
