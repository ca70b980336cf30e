// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot-cli/internal/brain"
	"github.com/xkilldash9x/droidpilot-cli/internal/loop"
	"github.com/xkilldash9x/droidpilot-cli/internal/observability"
)

// runCmd starts the long-lived heartbeat loop.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the autonomous agent loop",
	Long: `Starts the heartbeat loop: the agent watches notifications, perceives
the screen, and acts on its own schedule until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer observability.Sync()
		logger := observability.GetLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l := loop.New(loadedConfig.Agent, buildComponents(loadedConfig, logger), brain.WorkspaceContext{}, logger)
		l.OnMessage = func(msg string) {
			fmt.Fprintln(cmd.OutOrStdout(), msg)
		}

		err := l.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
