package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/brain"
	"github.com/xkilldash9x/droidpilot-cli/internal/perception"
	"github.com/xkilldash9x/droidpilot-cli/internal/stuck"
)

// defaultOneshotMaxSteps caps a goal run when the config leaves it unset.
const defaultOneshotMaxSteps = 30

// thinkRetryDelay spaces out retries after a model error mid-run.
const thinkRetryDelay = 2 * time.Second

// Outcome is how a oneshot run ended.
type Outcome int

const (
	// OutcomeDone: the model declared the goal complete (or impossible,
	// with an explanation).
	OutcomeDone Outcome = iota
	// OutcomeGiveUp: the stuck detector exhausted its recovery budget.
	OutcomeGiveUp
	// OutcomeStepLimit: the step cap was reached without completion.
	OutcomeStepLimit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeGiveUp:
		return "gave up"
	case OutcomeStepLimit:
		return "step limit"
	default:
		return "unknown"
	}
}

// OneshotResult summarizes a completed goal run.
type OneshotResult struct {
	Outcome Outcome
	Reason  string
	Steps   int
	Actions int
	Elapsed time.Duration
}

// Oneshot runs a single goal to completion with a step cap. It reuses the
// loop's collaborators but drives them linearly instead of on a ticker.
type Oneshot struct {
	logger   *zap.Logger
	mind     Mind
	observer Observer
	executor ActionRunner
	detector *stuck.Detector

	workspace brain.WorkspaceContext
	maxSteps  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewOneshot builds a runner. maxSteps <= 0 selects the default cap.
func NewOneshot(parts Components, workspace brain.WorkspaceContext, maxSteps int, logger *zap.Logger) *Oneshot {
	if maxSteps <= 0 {
		maxSteps = defaultOneshotMaxSteps
	}
	return &Oneshot{
		logger:    logger.Named("oneshot"),
		mind:      parts.Mind,
		observer:  parts.Observer,
		executor:  parts.Executor,
		detector:  parts.Detector,
		workspace: workspace,
		maxSteps:  maxSteps,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Run executes the goal until done, given up, step cap, or context cancel.
func (o *Oneshot) Run(ctx context.Context, goal string) (OneshotResult, error) {
	start := o.now()
	o.logger.Info("Oneshot starting",
		zap.String("goal", goal),
		zap.Int("max_steps", o.maxSteps),
		zap.String("model", o.mind.StatusSummary()))

	systemPrompt := buildOneshotSystemPrompt(o.mind.BuildSystemPrompt(o.workspace), goal)

	res := OneshotResult{Outcome: OutcomeStepLimit, Reason: "step limit reached"}
	var hint string
	var lastApp string

	for step := 1; step <= o.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = o.now().Sub(start)
			return res, err
		}
		res.Steps = step
		o.mind.CheckPrimaryRecovery()

		obs := o.observer.Perceive(ctx)
		if obs.ForegroundApp != "" {
			lastApp = obs.ForegroundApp
		}

		switch st := o.detector.CheckScreen(obs.Fingerprint()); st.Kind {
		case stuck.KindHint:
			o.logger.Warn("Stuck, injecting recovery hint")
			hint = st.Hint
		case stuck.KindRecover:
			o.recover(ctx, st.Recovery, lastApp)
			continue // re-perceive after recovery
		case stuck.KindGiveUp:
			res.Outcome = OutcomeGiveUp
			res.Reason = st.Hint
			res.Elapsed = o.now().Sub(start)
			return res, nil
		}

		userPrompt := buildOneshotStepPrompt(
			perception.FormatForPrompt(obs), goal, step, o.maxSteps,
			o.now().UTC().Format("15:04:05 UTC"))
		if hint != "" {
			userPrompt += "\n" + hint
			hint = ""
		}

		resp, err := o.mind.ThinkAndParse(ctx, systemPrompt, userPrompt, encodeScreenshot(obs))
		if err != nil {
			if ctx.Err() != nil {
				res.Elapsed = o.now().Sub(start)
				return res, ctx.Err()
			}
			o.logger.Error("Model error, retrying next step",
				zap.Int("step", step), zap.Error(err))
			o.sleep(ctx, thinkRetryDelay)
			continue
		}

		if done, reason := goalDone(resp); done {
			o.logger.Info("Goal complete", zap.Int("step", step), zap.String("reason", reason))
			res.Outcome = OutcomeDone
			res.Reason = reason
			res.Elapsed = o.now().Sub(start)
			return res, nil
		}
		if resp.IsHeartbeat() {
			o.logger.Debug("Idle step", zap.Int("step", step))
			continue
		}
		if resp.Reflection != "" {
			o.logger.Info("Thinking", zap.Int("step", step), zap.String("reflection", resp.Reflection))
		}

		executed, stop := o.executeStep(ctx, step, resp.Actions, &hint, lastApp)
		res.Actions += executed
		if stop {
			res.Outcome = OutcomeGiveUp
			res.Reason = "recovery budget exhausted during action batch"
			res.Elapsed = o.now().Sub(start)
			return res, nil
		}
	}

	res.Elapsed = o.now().Sub(start)
	o.logger.Warn("Step limit reached without completing goal", zap.String("goal", goal))
	return res, nil
}

// executeStep runs one action batch. It returns how many actions executed
// and whether the run must stop because the detector gave up.
func (o *Oneshot) executeStep(ctx context.Context, step int, actions []schemas.AgentAction, hint *string, lastApp string) (int, bool) {
	executed := 0
	for _, action := range actions {
		if action.Type == "done" {
			continue // already handled by goalDone
		}

		result, err := o.executor.Execute(ctx, action)
		if err != nil {
			o.logger.Error("Action failed, abandoning batch",
				zap.Int("step", step), zap.String("type", action.Type), zap.Error(err))
			return executed, false
		}
		executed++
		o.logger.Info("Action done",
			zap.Int("step", step), zap.String("type", action.Type), zap.String("result", result))

		switch st := o.detector.RecordAction(action.Type, action.TargetKey(), action.IsNavigational()); st.Kind {
		case stuck.KindHint:
			*hint = st.Hint
		case stuck.KindRecover:
			o.recover(ctx, st.Recovery, lastApp)
			return executed, false
		case stuck.KindGiveUp:
			return executed, true
		}
	}
	return executed, false
}

func (o *Oneshot) recover(ctx context.Context, action stuck.RecoveryAction, lastApp string) {
	o.logger.Warn("Stuck, executing recovery", zap.String("action", recoveryName(action)))
	switch action {
	case stuck.RecoverBack:
		if _, err := o.executor.Execute(ctx, schemas.AgentAction{Type: "back", Reason: "stuck recovery"}); err != nil {
			o.logger.Error("Recovery back failed", zap.Error(err))
		}
	case stuck.RecoverHomeRelaunch:
		if _, err := o.executor.Execute(ctx, schemas.AgentAction{Type: "home", Reason: "stuck recovery"}); err != nil {
			o.logger.Error("Recovery home failed", zap.Error(err))
			return
		}
		o.sleep(ctx, time.Second)
		if lastApp != "" {
			if _, err := o.executor.Execute(ctx, schemas.AgentAction{Type: "launch_app", App: lastApp, Reason: "stuck recovery"}); err != nil {
				o.logger.Error("Recovery relaunch failed", zap.Error(err))
			}
		}
	}
}

func recoveryName(a stuck.RecoveryAction) string {
	switch a {
	case stuck.RecoverBack:
		return "back"
	case stuck.RecoverHomeRelaunch:
		return "home+relaunch"
	default:
		return "none"
	}
}

// goalDone reports whether the response declares the goal finished, either
// with an explicit "done" action or a completion phrase in the reflection.
func goalDone(resp schemas.AgentResponse) (bool, string) {
	for _, a := range resp.Actions {
		if strings.EqualFold(a.Type, "done") {
			reason := a.Reason
			if reason == "" {
				reason = resp.Reflection
			}
			if reason == "" {
				reason = "Goal completed"
			}
			return true, reason
		}
	}

	r := strings.ToLower(resp.Reflection)
	if strings.Contains(r, "goal is complete") ||
		strings.Contains(r, "goal completed") ||
		strings.Contains(r, "task is done") ||
		strings.Contains(r, "task complete") ||
		strings.HasPrefix(r, "done:") ||
		strings.HasPrefix(r, "done -") {
		return true, resp.Reflection
	}
	return false, ""
}

func buildOneshotSystemPrompt(base, goal string) string {
	return fmt.Sprintf(`%s

=== ONE-SHOT MODE ===
You are running in ONE-SHOT MODE. Your single goal is:

  %q

Rules for one-shot mode:
1. Focus ONLY on completing this goal. Do not check notifications or do other tasks.
2. After EACH step, you will see the updated screen. Plan one step at a time.
3. When the goal is FULLY COMPLETE, respond with action type "done" and explain what was accomplished.
4. If the goal is IMPOSSIBLE (app not installed, permission denied, etc.), respond with "done" and explain why.
5. Use the fewest steps possible. Be efficient.
6. ALWAYS use the @(x,y) coordinates from the UI elements list for tap actions. Never guess coordinates.
7. When you need to type text, first tap the input field, then use type_text action.
8. If the screen hasn't changed after your action, try a different approach.`, base, goal)
}

func buildOneshotStepPrompt(screenText, goal string, step, maxSteps int, now string) string {
	urgency := ""
	if step > maxSteps*3/4 {
		urgency = "\n⚠️ Running low on steps! Prioritize completing the goal quickly."
	}
	return fmt.Sprintf(`Step %d/%d | %s
Goal: %q
%s
=== CURRENT SCREEN ===
%s

What is your next action to achieve the goal? Respond in the standard action format.
If the goal is complete, use action type "done".`, step, maxSteps, now, goal, urgency, screenText)
}
