// File: cmd/run.go
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/approval-probe/internal/observability"
	"github.com/xkilldash9x/approval-probe/internal/workflow"
)

// ErrUncleanRun is returned in strict mode when a scenario finished with
// failures or skipped actors.
var ErrUncleanRun = errors.New("scenario finished with failures")

// newSessionFactory is replaced in tests to drive a fake application.
var newSessionFactory = workflow.BrowserFactory

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Runs an approval scenario against the target application",
		Long: fmt.Sprintf(`Runs one scenario end to end and prints a summary.

Scenarios: %s (default %s).

The exit status is non-zero when the run was aborted (no browser, invalid
fixtures, interrupted) or, with --strict, when any item failed or any actor
was skipped.`, strings.Join(workflow.Scenarios(), ", "), workflow.ScenarioSingle),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: workflow.Scenarios(),
		// Flag name to config key, bound by the root command.
		Annotations: map[string]string{
			"headless":           "browser.headless",
			"base-url":           "target.base_url",
			"strict":             "workflow.strict",
			"allow-any-fallback": "workflow.allow_any_fallback",
			"parallelism":        "workflow.parallelism",
			"count":              "scenarios.bulk.count",
			"seed":               "scenarios.multi_org.seed",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			scenario := workflow.ScenarioSingle
			if len(args) == 1 {
				scenario = args[0]
			}

			logger := observability.GetLogger()
			runner, err := workflow.NewRunner(cfg, newSessionFactory(cfg, logger), logger)
			if err != nil {
				return fmt.Errorf("failed to prepare runner: %w", err)
			}

			summary, err := runner.Run(ctx, scenario)
			if errors.Is(err, workflow.ErrUnknownScenario) {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), summary.String())
			if err != nil {
				return err
			}

			if cfg.Workflow.Strict && !summary.Clean() {
				logger.Warn("Strict mode: run was not clean.", zap.Object("summary", summary))
				return fmt.Errorf("%w: %d failed, %d skipped", ErrUncleanRun, summary.Failed, summary.Skipped)
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.Bool("headless", true, "run the browser without a window")
	flags.String("base-url", "", "base URL of the application under test")
	flags.Bool("strict", false, "exit non-zero when any item fails or any actor is skipped")
	flags.Bool("allow-any-fallback", false, "approve another pending item when the created one is not listed")
	flags.Int("parallelism", 1, "concurrent approver browsers in the multi-browser scenario")
	flags.Int("count", 3, "applications created by the bulk and multi-browser scenarios")
	flags.Int64("seed", 0, "seed for the multi-org scenario's random choices (0 uses the clock)")
	return runCmd
}
