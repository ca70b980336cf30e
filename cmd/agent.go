// -- cmd/agent.go --
package cmd

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/internal/adb"
	"github.com/xkilldash9x/droidpilot-cli/internal/brain"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
	"github.com/xkilldash9x/droidpilot-cli/internal/guardrail"
	"github.com/xkilldash9x/droidpilot-cli/internal/loop"
	"github.com/xkilldash9x/droidpilot-cli/internal/perception"
	"github.com/xkilldash9x/droidpilot-cli/internal/stuck"
)

// buildComponents wires the agent subsystems onto one ADB driver.
func buildComponents(cfg *config.Config, logger *zap.Logger) loop.Components {
	driver := adb.NewDriver(cfg.Perception.Device, logger)
	return loop.Components{
		Mind:          brain.New(cfg.Brain, logger),
		Observer:      perception.NewPerceiver(cfg.Perception, driver, logger),
		Notifications: perception.NewNotificationWatcher(driver, cfg.Perception.PriorityApps, logger),
		Executor:      guardrail.NewExecutor(cfg.Guardrail, driver, logger),
		Detector:      stuck.NewDetector(cfg.Stuck, logger),
	}
}
