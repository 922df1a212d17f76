package cli

import (
	"github.com/spf13/cobra"

	"github.com/CChapmanbird/nessai/internal/sampler"
	"github.com/CChapmanbird/nessai/internal/trace"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	Database string
	Spec     string
	Output   string
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue an interrupted run from its latest snapshot",
		Long: `Continue an interrupted run from the latest snapshot in the trace
database. The original run spec must be supplied again: snapshots carry the
sampler state, not the model definition.

The resumed run continues the original random stream, so the final result
matches what an uninterrupted run would have produced.

Example:
  nessai resume --db ./runs.db --spec ./gaussian.cue 0190b5e2-...-f3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Spec, "spec", "", "path to the original run spec (required)")
	_ = cmd.MarkFlagRequired("spec")
	cmd.Flags().StringVar(&opts.Output, "output", "", "write the full result as YAML to this path")

	return cmd
}

func resumeRun(opts *ResumeOptions, runID string, cmd *cobra.Command) error {
	logger := setupLogger(opts.Verbose)

	spec, err := LoadRunSpec(opts.Spec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load run spec", err)
	}
	m, err := spec.Model()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build model", err)
	}

	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing trace database", "error", closeErr)
		}
	}()

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	snap, err := st.LatestSnapshot(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load snapshot", err)
	}

	s, err := sampler.Resume(spec.SamplerConfig(), m, snap, samplerOptions(ctx, spec, st, logger)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resume sampler", err)
	}

	runOpts := &RunOptions{RootOptions: opts.RootOptions, Database: opts.Database, Output: opts.Output}
	return executeRun(ctx, s, st, spec, runOpts, cmd)
}
