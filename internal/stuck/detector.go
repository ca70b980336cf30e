// Package stuck watches for an agent that has stopped making progress:
// an unchanging screen, the same action hammered over and over, or long
// runs of navigation with no real interaction. When a condition trips it
// escalates through prompt hints, a back press, and finally a home +
// relaunch before recommending the goal be abandoned.
package stuck

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// StatusKind discriminates the Status variants.
type StatusKind int

const (
	// KindOK means no stuck condition; continue normally.
	KindOK StatusKind = iota
	// KindHint means a hint should be injected into the model prompt.
	KindHint
	// KindRecover means a recovery action must be executed before the
	// next model call.
	KindRecover
	// KindGiveUp means the recovery budget is exhausted and the current
	// goal should be abandoned.
	KindGiveUp
)

// RecoveryAction is a concrete device-level recovery step.
type RecoveryAction int

const (
	// RecoverNone is the zero value; only meaningful with KindRecover unset.
	RecoverNone RecoveryAction = iota
	// RecoverBack presses the back key to escape the current state.
	RecoverBack
	// RecoverHomeRelaunch goes home, waits, then relaunches the target app.
	RecoverHomeRelaunch
)

// ReasonKind identifies which detector tripped.
type ReasonKind int

const (
	ReasonNone ReasonKind = iota
	// ReasonScreenUnchanged: the screen hash was identical for N checks.
	ReasonScreenUnchanged
	// ReasonActionRepetition: the same (type, target) appeared N times in
	// the sliding window.
	ReasonActionRepetition
	// ReasonNavigationDrift: N consecutive navigation-only actions.
	ReasonNavigationDrift
)

// Reason carries the detail for hint construction and logging.
type Reason struct {
	Kind   ReasonKind
	Count  int
	Action string // populated for ReasonActionRepetition, e.g. "tap:320,480"
}

// Status is the detector's verdict after a screen check or action record.
type Status struct {
	Kind     StatusKind
	Reason   Reason
	Hint     string         // set for KindHint and KindGiveUp
	Recovery RecoveryAction // set for KindRecover
}

// OK reports whether the agent is not stuck.
func (s Status) OK() bool { return s.Kind == KindOK }

type fingerprint struct {
	actionType string
	target     string
}

// Detector tracks screen and action history for one goal run. It is not
// safe for concurrent use; the control loop owns it.
//
// Screen checks and action records share a single recovery-attempt
// budget, so one stuck episode can consume attempts from both paths.
type Detector struct {
	cfg    config.StuckConfig
	logger *zap.Logger

	screenSameCount int
	lastScreenHash  uint64

	recentActions  []fingerprint
	consecutiveNav int

	recoveryAttempts int
	escalationLevel  int
}

// NewDetector builds a Detector, filling zero thresholds with defaults.
func NewDetector(cfg config.StuckConfig, logger *zap.Logger) *Detector {
	if cfg.ScreenThreshold <= 0 {
		cfg.ScreenThreshold = 3
	}
	if cfg.RepetitionWindow <= 0 {
		cfg.RepetitionWindow = 6
	}
	if cfg.RepetitionThreshold <= 0 {
		cfg.RepetitionThreshold = 3
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = 5
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = 3
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "escalate"
	}
	return &Detector{
		cfg:           cfg,
		logger:        logger.Named("stuck"),
		recentActions: make([]fingerprint, 0, cfg.RepetitionWindow+1),
	}
}

// CheckScreen is called once per perception step with the new screen hash.
// The counter counts consecutive sightings of the hash, the first included,
// so threshold 3 trips on the third identical screen.
func (d *Detector) CheckScreen(screenHash uint64) Status {
	if screenHash == d.lastScreenHash && d.lastScreenHash != 0 {
		d.screenSameCount++
		d.logger.Debug("Screen unchanged",
			zap.Int("consecutive", d.screenSameCount),
			zap.Int("threshold", d.cfg.ScreenThreshold))

		if d.screenSameCount >= d.cfg.ScreenThreshold {
			return d.handleStuck(Reason{
				Kind:  ReasonScreenUnchanged,
				Count: d.screenSameCount,
			})
		}
		return Status{}
	}

	if d.screenSameCount > 1 {
		d.logger.Debug("Screen changed", zap.Int("after_same_steps", d.screenSameCount))
	}
	d.screenSameCount = 1
	d.lastScreenHash = screenHash

	// A screen change means the last recovery worked; step back down.
	if d.escalationLevel > 0 {
		d.escalationLevel--
	}
	return Status{}
}

// RecordAction is called once per executed action to track repetition and
// navigation drift. isNav marks movement-only actions (back, swipe, wait,
// home, scroll).
func (d *Detector) RecordAction(actionType, target string, isNav bool) Status {
	fp := fingerprint{actionType: actionType, target: target}

	d.recentActions = append(d.recentActions, fp)
	if n := len(d.recentActions) - d.cfg.RepetitionWindow; n > 0 {
		d.recentActions = d.recentActions[n:]
	}

	same := 0
	for _, a := range d.recentActions {
		if a == fp {
			same++
		}
	}
	if same >= d.cfg.RepetitionThreshold {
		return d.handleStuck(Reason{
			Kind:   ReasonActionRepetition,
			Count:  same,
			Action: actionType + ":" + target,
		})
	}

	if isNav {
		d.consecutiveNav++
		if d.consecutiveNav >= d.cfg.DriftThreshold {
			return d.handleStuck(Reason{
				Kind:  ReasonNavigationDrift,
				Count: d.consecutiveNav,
			})
		}
	} else {
		d.consecutiveNav = 0
	}
	return Status{}
}

// Reset clears all counters, e.g. when a new goal starts.
func (d *Detector) Reset() {
	d.screenSameCount = 0
	d.lastScreenHash = 0
	d.recentActions = d.recentActions[:0]
	d.consecutiveNav = 0
	d.recoveryAttempts = 0
	d.escalationLevel = 0
}

// RecoveryAttempts returns how many times recovery has triggered this run.
func (d *Detector) RecoveryAttempts() int { return d.recoveryAttempts }

func (d *Detector) handleStuck(reason Reason) Status {
	d.recoveryAttempts++

	if d.recoveryAttempts > d.cfg.MaxRecoveryAttempts {
		msg := fmt.Sprintf("Exhausted %d recovery attempts; the agent cannot make progress (%s).",
			d.cfg.MaxRecoveryAttempts, reason.describe())
		d.logger.Warn("Giving up on goal", zap.String("reason", reason.describe()))
		return Status{Kind: KindGiveUp, Reason: reason, Hint: msg}
	}

	switch d.cfg.Strategy {
	case "escalate":
		return d.escalateRecovery(reason)
	case "back":
		d.logger.Info("Stuck recovery: pressing back", zap.String("strategy", "back"))
		d.resetAfterRecovery()
		return Status{Kind: KindRecover, Reason: reason, Recovery: RecoverBack}
	case "restart":
		d.logger.Info("Stuck recovery: home and relaunch", zap.String("strategy", "restart"))
		d.resetAfterRecovery()
		return Status{Kind: KindRecover, Reason: reason, Recovery: RecoverHomeRelaunch}
	default: // "ask": let the model figure it out from a hint
		d.logger.Info("Stuck detected, injecting hint", zap.String("strategy", d.cfg.Strategy))
		return Status{Kind: KindHint, Reason: reason, Hint: BuildHint(reason)}
	}
}

func (d *Detector) escalateRecovery(reason Reason) Status {
	d.escalationLevel++

	switch d.escalationLevel {
	case 1:
		d.logger.Info("Stuck L1: injecting hint",
			zap.Int("attempt", d.recoveryAttempts),
			zap.Int("max", d.cfg.MaxRecoveryAttempts))
		return Status{Kind: KindHint, Reason: reason, Hint: BuildHint(reason)}
	case 2:
		d.logger.Info("Stuck L2: pressing back",
			zap.Int("attempt", d.recoveryAttempts),
			zap.Int("max", d.cfg.MaxRecoveryAttempts))
		d.resetAfterRecovery()
		return Status{Kind: KindRecover, Reason: reason, Recovery: RecoverBack}
	default:
		d.logger.Info("Stuck L3: home and relaunch",
			zap.Int("attempt", d.recoveryAttempts),
			zap.Int("max", d.cfg.MaxRecoveryAttempts))
		d.resetAfterRecovery()
		d.recentActions = d.recentActions[:0]
		return Status{Kind: KindRecover, Reason: reason, Recovery: RecoverHomeRelaunch}
	}
}

// resetAfterRecovery clears the same-screen and drift counters: a recovery
// action is expected to change the screen.
func (d *Detector) resetAfterRecovery() {
	d.screenSameCount = 0
	d.consecutiveNav = 0
}

func (r Reason) describe() string {
	switch r.Kind {
	case ReasonScreenUnchanged:
		return fmt.Sprintf("screen unchanged for %d steps", r.Count)
	case ReasonActionRepetition:
		return fmt.Sprintf("action %q repeated %d times", r.Action, r.Count)
	case ReasonNavigationDrift:
		return fmt.Sprintf("%d consecutive navigation actions", r.Count)
	default:
		return "unknown"
	}
}

// BuildHint renders the prompt text injected when the agent is stuck. It
// tells the model what went wrong so it can change strategy.
func BuildHint(reason Reason) string {
	switch reason.Kind {
	case ReasonScreenUnchanged:
		return fmt.Sprintf(
			"\n⚠️ STUCK: The screen has not changed for %d consecutive steps. "+
				"Your previous actions had no visible effect. Try a DIFFERENT approach:\n"+
				"- If a tap didn't work, the element might not be clickable. Try a different element.\n"+
				"- If you're waiting for something to load, try scrolling or pressing back.\n"+
				"- If the app is unresponsive, try force-closing and relaunching it.\n"+
				"- Check if there's a dialog, popup, or permission prompt blocking interaction.",
			reason.Count)
	case ReasonActionRepetition:
		return fmt.Sprintf(
			"\n⚠️ STUCK: You have repeated '%s' %d times recently. "+
				"This action is not making progress. STOP repeating it and try something completely different:\n"+
				"- If tapping the same spot repeatedly, the coordinates may be wrong. Re-read the UI elements list.\n"+
				"- If typing isn't working, the input field may not be focused. Tap the field first.\n"+
				"- Consider using a completely different path to achieve the goal.",
			reason.Action, reason.Count)
	case ReasonNavigationDrift:
		return fmt.Sprintf(
			"\n⚠️ STUCK: You have performed %d consecutive navigation actions "+
				"(back/swipe/wait) without tapping or typing anything. "+
				"You appear to be drifting without making progress. "+
				"Take a DIRECT action: tap a specific UI element or type text into a field.",
			reason.Count)
	default:
		return ""
	}
}
