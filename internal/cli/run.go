package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CChapmanbird/nessai/internal/sampler"
	"github.com/CChapmanbird/nessai/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Output   string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <run-spec.cue>",
		Short: "Run nested sampling from a run spec",
		Long: `Run nested sampling as described by a CUE run spec.

The run spec names a built-in likelihood, the prior bounds, and the sampler
settings. The trace (dead points, insertion indices, diagnostic events, and
periodic snapshots) is written to a SQLite database; an interrupted run can
be continued with 'nessai resume'.

Example:
  nessai run --db ./runs.db ./gaussian.cue
  nessai run --db ./runs.db ./gaussian.cue --output result.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSampling(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Output, "output", "", "write the full result as YAML to this path")

	return cmd
}

func runSampling(opts *RunOptions, specPath string, cmd *cobra.Command) error {
	logger := setupLogger(opts.Verbose)

	spec, err := LoadRunSpec(specPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load run spec", err)
	}
	logger.Info("run spec loaded", "name", spec.Name, "likelihood", spec.Likelihood, "dims", spec.Dims())

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

	s, err := sampler.New(spec.SamplerConfig(), m, samplerOptions(ctx, spec, st, logger)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create sampler", err)
	}
	if err := registerRun(ctx, st, spec, s.RunID()); err != nil {
		return WrapExitError(ExitCommandError, "failed to register run", err)
	}

	return executeRun(ctx, s, st, spec, opts, cmd)
}

// setupLogger configures the process-wide structured logger.
func setupLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// signalContext derives a context cancelled by SIGINT/SIGTERM. The sampler
// honors cancellation between iterations, so an interrupted run stops at a
// clean iteration boundary and stays resumable.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, func()) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after current iteration", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// samplerOptions wires the sampler to the trace store: a recorder for the
// per-iteration trace and a periodic snapshot writer when the spec asks for
// checkpoints.
func samplerOptions(ctx context.Context, spec *RunSpec, st *trace.Store, logger *slog.Logger) []sampler.Option {
	opts := []sampler.Option{
		sampler.WithLogger(logger),
		sampler.WithRecorderFactory(func(runID string) (sampler.Recorder, error) {
			return st.NewRecorder(ctx, runID)
		}),
	}
	if spec.CheckpointEvery > 0 {
		opts = append(opts, sampler.WithCheckpoint(spec.CheckpointEvery, func(snap *sampler.Snapshot) error {
			return st.SaveSnapshot(ctx, snap)
		}))
	}
	return opts
}

// registerRun records run metadata before sampling starts.
func registerRun(ctx context.Context, st *trace.Store, spec *RunSpec, runID string) error {
	return st.CreateRun(ctx, trace.RunMeta{
		ID:        runID,
		NLive:     spec.NLive,
		Dims:      spec.Dims(),
		Seed:      spec.Seed,
		Tolerance: spec.Tolerance,
	})
}

// executeRun drives the sampler to completion and reports the result. On
// interruption it saves a final snapshot so the run can be resumed; on a
// sampler error it marks the run failed in the trace.
func executeRun(ctx context.Context, s *sampler.Sampler, st *trace.Store, spec *RunSpec, opts *RunOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	res, err := s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		if snap, snapErr := s.Snapshot(); snapErr == nil {
			if saveErr := st.SaveSnapshot(context.Background(), snap); saveErr != nil {
				return WrapExitError(ExitFailure, "failed to save interrupt snapshot", saveErr)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s interrupted at iteration %d; resume with:\n  nessai resume --db %s %s\n",
			s.RunID(), s.Iteration(), opts.Database, s.RunID())
		return nil
	}
	if err != nil {
		if markErr := st.MarkFailed(context.Background(), s.RunID(), err); markErr != nil {
			slog.Error("failed to mark run failed", "error", markErr)
		}
		return WrapExitError(ExitFailure, "sampling failed", err)
	}

	if err := st.FinishRun(context.Background(), res); err != nil {
		return WrapExitError(ExitFailure, "failed to record result", err)
	}
	if opts.Output != "" {
		if err := writeResultYAML(opts.Output, res); err != nil {
			return WrapExitError(ExitFailure, "failed to write result file", err)
		}
	}
	return outputResult(formatter, spec, res)
}

// writeResultYAML exports the full result, dead points included.
func writeResultYAML(path string, res *sampler.Result) error {
	blob, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// runReport is the summary payload shown after a completed run.
type runReport struct {
	RunID         string    `json:"run_id"`
	Name          string    `json:"name"`
	LogZ          float64   `json:"logz"`
	LogZErr       float64   `json:"logz_err"`
	Information   float64   `json:"information"`
	Iterations    int       `json:"iterations"`
	FinalKS       float64   `json:"final_ks"`
	FinalKSPValue float64   `json:"final_ks_p"`
	PosteriorMean []float64 `json:"posterior_mean"`
}

func outputResult(f *OutputFormatter, spec *RunSpec, res *sampler.Result) error {
	report := runReport{
		RunID:         res.RunID,
		Name:          spec.Name,
		LogZ:          res.LogZ,
		LogZErr:       res.LogZErr,
		Information:   res.Information,
		Iterations:    res.Iterations,
		FinalKS:       res.FinalKS,
		FinalKSPValue: res.FinalKSPValue,
		PosteriorMean: res.PosteriorMean(),
	}
	if f.Format == "json" {
		return f.Success(report)
	}

	fmt.Fprintf(f.Writer, "Run %s (%s) finished after %d iterations\n", report.RunID, report.Name, report.Iterations)
	fmt.Fprintf(f.Writer, "  logZ        = %.4f +/- %.4f\n", report.LogZ, report.LogZErr)
	fmt.Fprintf(f.Writer, "  information = %.4f nats\n", report.Information)
	fmt.Fprintf(f.Writer, "  insertion KS p-value = %.4f\n", report.FinalKSPValue)
	for i, name := range spec.Parameters {
		if i < len(report.PosteriorMean) {
			fmt.Fprintf(f.Writer, "  <%s> = %.4f\n", name, report.PosteriorMean[i])
		}
	}
	return nil
}
