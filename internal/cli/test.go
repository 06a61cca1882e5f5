package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qpdb/mentat/internal/harness"
)

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <paths...>",
		Short: "Run vocabulary scenarios",
		Long: `Run YAML vocabulary scenarios. Each path is a scenario file or a
directory whose *.yaml and *.yml files are run in name order. Every
scenario runs against a fresh in-memory store; --db is ignored.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing paths, etc.)

Examples:
  mentat test ./scenarios
  mentat test ./scenarios/upgrade.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runTests(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	result, err := harness.RunSuite(context.Background(), paths)
	if err != nil {
		var notFound *harness.ScenarioNotFoundError
		if errors.As(err, &notFound) {
			return f.Fail(ErrCodeNotFound, WrapExitError(ExitCommandError, "scenario path not found", err))
		}
		return f.Fail(ErrCodeTestFailed, WrapExitError(ExitCommandError, "failed to find scenarios", err))
	}

	if opts.Format == FormatJSON {
		return outputTestJSON(f, result)
	}
	return outputTestText(cmd, result)
}

// outputTestJSON writes the suite result; failures are still reported
// under "data" so every scenario can be inspected.
func outputTestJSON(f *OutputFormatter, result *harness.SuiteResult) error {
	if result.Failed == 0 {
		return f.Success(result)
	}

	response := CLIResponse{
		Status: "error",
		Data:   result,
		Error: &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		},
	}
	if err := encodeJSON(f.Writer, response); err != nil {
		return err
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
}

func outputTestText(cmd *cobra.Command, result *harness.SuiteResult) error {
	w := cmd.OutOrStdout()

	if result.TotalScenarios == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	for _, failure := range result.Failures {
		fmt.Fprintf(w, "✗ %s (%s)\n", failure.Scenario, failure.Path)
		for _, e := range failure.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.TotalScenarios)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
