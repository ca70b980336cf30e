// File: internal/guardrail/executor.go

// Package guardrail enforces the risk policy between the model's intent and
// the device. GREEN actions run immediately, YELLOW run with an audit trail,
// RED wait for a human unless the operator opted into auto-confirmation.
// Restricted apps can never be touched without confirmation.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// ErrNoPendingAction is returned when a confirmation references an unknown
// or already-resolved action id.
var ErrNoPendingAction = errors.New("no pending action with that id")

// BlockedResult is returned for actions whose classification is not a known
// tier. They are never executed.
const BlockedResult = "BLOCKED"

// Executor applies the guardrail policy and drives the device.
type Executor struct {
	driver schemas.DeviceDriver
	logger *zap.Logger
	cfg    config.GuardrailConfig

	mu       sync.Mutex
	pending  []schemas.PendingConfirmation
	outgoing []schemas.DeviceInstruction
	log      []schemas.ActionLogEntry

	// sleep is replaced in tests so settle polls and waits do not stall
	// the suite.
	sleep func(ctx context.Context, d time.Duration)
}

// NewExecutor builds an executor over the given device driver.
func NewExecutor(cfg config.GuardrailConfig, driver schemas.DeviceDriver, logger *zap.Logger) *Executor {
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 50 * time.Millisecond
	}
	return &Executor{
		driver: driver,
		logger: logger.Named("guardrail"),
		cfg:    cfg,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Execute runs one action under the policy. For queued RED actions the
// result is "PENDING:<id>"; the caller learns the outcome through Confirm.
func (e *Executor) Execute(ctx context.Context, action schemas.AgentAction) (string, error) {
	id := uuid.NewString()[:8]
	class := e.effectiveClassification(action)

	switch class {
	case schemas.ClassRed:
		if e.isRestricted(action) {
			e.enqueuePending(id, action)
			e.logger.Info("RED action on restricted app queued for confirmation",
				zap.String("type", action.Type), zap.String("id", id))
			return "PENDING:" + id, nil
		}
		if e.cfg.AutoConfirmRed {
			e.logger.Info("RED action auto-confirmed",
				zap.String("type", action.Type), zap.String("reason", action.Reason))
			return e.run(ctx, action, id, "RED-AUTO")
		}
		e.enqueuePending(id, action)
		e.logger.Info("RED action queued for confirmation",
			zap.String("type", action.Type), zap.String("id", id))
		return "PENDING:" + id, nil

	case schemas.ClassYellow:
		e.logger.Info("YELLOW action",
			zap.String("type", action.Type), zap.String("reason", action.Reason))
		return e.run(ctx, action, id, class)

	case schemas.ClassGreen:
		return e.run(ctx, action, id, class)

	default:
		e.logger.Warn("Unknown classification, blocking action",
			zap.String("classification", class), zap.String("type", action.Type))
		e.appendLog(action, class, BlockedResult)
		return BlockedResult, nil
	}
}

// Confirm resolves a queued RED action. An approved action executes exactly
// once; a second confirmation of the same id fails.
func (e *Executor) Confirm(ctx context.Context, actionID string, approved bool) (string, error) {
	e.mu.Lock()
	var target *schemas.PendingConfirmation
	for i := range e.pending {
		if e.pending[i].ActionID == actionID {
			target = &e.pending[i]
			break
		}
	}
	if target == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNoPendingAction, actionID)
	}
	if target.Confirmed != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s already resolved", ErrNoPendingAction, actionID)
	}
	target.Confirmed = &approved
	action := target.Action
	e.mu.Unlock()

	if !approved {
		e.logger.Info("RED action denied", zap.String("id", actionID))
		e.appendLog(action, "RED-DENIED", "DENIED")
		return "DENIED", nil
	}
	e.logger.Info("RED action confirmed", zap.String("id", actionID))
	return e.run(ctx, action, actionID, "RED-CONFIRMED")
}

// ListPending returns the confirmations still awaiting a decision.
func (e *Executor) ListPending() []schemas.PendingConfirmation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []schemas.PendingConfirmation
	for _, p := range e.pending {
		if p.Confirmed == nil {
			open = append(open, p)
		}
	}
	return open
}

// DrainOutgoing atomically takes the queued companion instructions.
func (e *Executor) DrainOutgoing() []schemas.DeviceInstruction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.outgoing
	e.outgoing = nil
	return out
}

// ActionLog returns a copy of the append-only audit trail.
func (e *Executor) ActionLog() []schemas.ActionLogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.ActionLogEntry, len(e.log))
	copy(out, e.log)
	return out
}

// effectiveClassification normalizes the declared tier and force-upgrades
// to RED when the action touches a restricted app. The model cannot bypass
// this override.
func (e *Executor) effectiveClassification(action schemas.AgentAction) string {
	if e.isRestricted(action) {
		return schemas.ClassRed
	}
	return schemas.NormalizeClassification(action.Classification)
}

func (e *Executor) isRestricted(action schemas.AgentAction) bool {
	pkg := action.TargetPackage()
	if pkg == "" {
		return false
	}
	for _, app := range e.cfg.RestrictedApps {
		if app != "" && strings.Contains(pkg, app) {
			return true
		}
	}
	return false
}

// run handles the dry-run gate, dispatch, and audit logging shared by every
// executing path.
func (e *Executor) run(ctx context.Context, action schemas.AgentAction, id, class string) (string, error) {
	if e.cfg.DryRun {
		msg := fmt.Sprintf("[DRY_RUN] %s (%s)", action.Type, class)
		e.logger.Info(msg)
		e.appendLog(action, class, "DRY_RUN")
		return msg, nil
	}
	result, err := e.dispatch(ctx, action, id)
	if err != nil {
		e.appendLog(action, class, "FAILED: "+err.Error())
		return "", err
	}
	e.appendLog(action, class, result)
	return result, nil
}

func (e *Executor) enqueuePending(id string, action schemas.AgentAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, schemas.PendingConfirmation{
		ActionID:  id,
		Action:    action,
		Timestamp: time.Now().UTC(),
	})
	e.log = append(e.log, schemas.ActionLogEntry{
		Timestamp:      time.Now().UTC(),
		ActionType:     action.Type,
		Classification: schemas.ClassRed,
		Result:         "PENDING:" + id,
	})
}

func (e *Executor) appendLog(action schemas.AgentAction, class, result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, schemas.ActionLogEntry{
		Timestamp:      time.Now().UTC(),
		ActionType:     action.Type,
		Classification: class,
		Result:         result,
	})
}
