package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// validateReport is the JSON payload for a validated spec.
type validateReport struct {
	Valid      bool     `json:"valid"`
	Name       string   `json:"name"`
	Likelihood string   `json:"likelihood"`
	Dimensions int      `json:"dimensions"`
	Parameters []string `json:"parameters"`
	NLive      int      `json:"nlive"`
	Tolerance  float64  `json:"tolerance"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <run-spec.cue>",
		Short: "Validate a run spec without running it",
		Long: `Validate a CUE run spec against the embedded schema and report the
resolved configuration, defaults included.

Example:
  nessai validate ./gaussian.cue
  nessai validate ./gaussian.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, specPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	spec, err := LoadRunSpec(specPath)
	if err != nil {
		if ferr := formatter.Error("E001", err.Error(), nil); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, "run spec is invalid")
	}
	// the model must be constructible too, not just well-formed
	if _, err := spec.Model(); err != nil {
		if ferr := formatter.Error("E002", err.Error(), nil); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, "run spec is invalid")
	}

	if opts.Format == "json" {
		return formatter.Success(validateReport{
			Valid:      true,
			Name:       spec.Name,
			Likelihood: spec.Likelihood,
			Dimensions: spec.Dims(),
			Parameters: spec.Parameters,
			NLive:      spec.NLive,
			Tolerance:  spec.Tolerance,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", specPath)
	fmt.Fprint(cmd.OutOrStdout(), spec.Render())
	return nil
}
