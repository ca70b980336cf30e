// -- cmd/oneshot.go --
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot-cli/internal/brain"
	"github.com/xkilldash9x/droidpilot-cli/internal/loop"
	"github.com/xkilldash9x/droidpilot-cli/internal/observability"
)

var oneshotMaxSteps int

// oneshotCmd runs a single goal to completion and exits.
var oneshotCmd = &cobra.Command{
	Use:   "oneshot <goal>",
	Short: "Run a single goal to completion and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer observability.Sync()
		logger := observability.GetLogger()
		goal := strings.Join(args, " ")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		maxSteps := oneshotMaxSteps
		if maxSteps <= 0 {
			maxSteps = loadedConfig.Agent.OneshotMaxSteps
		}

		runner := loop.NewOneshot(buildComponents(loadedConfig, logger), brain.WorkspaceContext{}, maxSteps, logger)
		res, err := runner.Run(ctx, goal)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s — %s (%d steps, %d actions, %.1fs)\n",
			res.Outcome, res.Reason, res.Steps, res.Actions, res.Elapsed.Seconds())

		if res.Outcome != loop.OutcomeDone {
			return fmt.Errorf("goal not completed: %s", res.Outcome)
		}
		return nil
	},
}

func init() {
	oneshotCmd.Flags().IntVar(&oneshotMaxSteps, "max-steps", 0, "step cap for this run (0 uses agent.oneshot_max_steps)")
	rootCmd.AddCommand(oneshotCmd)
}
