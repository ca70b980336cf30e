// Package loop orchestrates the agent: it schedules heartbeat ticks,
// drains notifications and user commands, runs perception, asks the
// model what to do, and hands the resulting actions to the guarded
// executor while the stuck detector watches for wasted effort.
package loop

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/brain"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
	"github.com/xkilldash9x/droidpilot-cli/internal/perception"
	"github.com/xkilldash9x/droidpilot-cli/internal/stuck"
)

// notifPollInterval is how often the background watcher polls the device
// notification dump.
const notifPollInterval = 5 * time.Second

// idleTickStride: when there are no notifications or user commands, only
// every Nth tick reaches the model. Keeps quiet devices cheap.
const idleTickStride = 4

// Mind is the reasoning surface the loop needs; *brain.Brain satisfies it.
type Mind interface {
	BuildSystemPrompt(ctx brain.WorkspaceContext) string
	BuildTickPrompt(ctx brain.WorkspaceContext, notifications, screenState string, userCommands []string, now string) string
	ThinkAndParse(ctx context.Context, systemPrompt, userPrompt, imageBase64 string) (schemas.AgentResponse, error)
	CheckPrimaryRecovery()
	StatusSummary() string
}

// Observer produces screen observations; *perception.Perceiver satisfies it.
type Observer interface {
	Perceive(ctx context.Context) schemas.ScreenObservation
}

// NotificationPoller surfaces new device notifications;
// *perception.NotificationWatcher satisfies it.
type NotificationPoller interface {
	Poll(ctx context.Context) ([]schemas.Notification, bool)
}

// ActionRunner executes one guarded action; *guardrail.Executor satisfies it.
type ActionRunner interface {
	Execute(ctx context.Context, action schemas.AgentAction) (string, error)
}

// Components bundles the loop's collaborators.
type Components struct {
	Mind          Mind
	Observer      Observer
	Notifications NotificationPoller // optional
	Executor      ActionRunner
	Detector      *stuck.Detector
}

// Loop is the long-lived agent scheduler. Construct with New, start with
// Run, stop with Stop or by cancelling the context.
type Loop struct {
	cfg    config.AgentConfig
	logger *zap.Logger

	mind          Mind
	observer      Observer
	notifications NotificationPoller
	executor      ActionRunner
	detector      *stuck.Detector

	mu            sync.Mutex
	workspace     brain.WorkspaceContext
	pendingNotifs []schemas.Notification
	userCommands  []string
	stuckHint     string
	lastApp       string

	// OnMessage, when set, receives model messages addressed to the user.
	OnMessage func(string)

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	tickCount uint64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New builds a Loop. The workspace context is the assembled prompt
// material (soul, tools, goals, memory); it can be updated later with
// SetWorkspace.
func New(cfg config.AgentConfig, parts Components, workspace brain.WorkspaceContext, logger *zap.Logger) *Loop {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Loop{
		cfg:           cfg,
		logger:        logger.Named("loop"),
		mind:          parts.Mind,
		observer:      parts.Observer,
		notifications: parts.Notifications,
		executor:      parts.Executor,
		detector:      parts.Detector,
		workspace:     workspace,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run drives the loop until the context is cancelled or Stop is called.
// The notification poller runs as a sibling goroutine under the same
// errgroup, so Run returns only once both have wound down.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Agent loop starting",
		zap.Duration("heartbeat", l.cfg.HeartbeatInterval),
		zap.String("model", l.mind.StatusSummary()))

	g, ctx := errgroup.WithContext(ctx)

	if l.notifications != nil {
		g.Go(func() error {
			l.notificationLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return l.tickLoop(ctx)
	})

	return g.Wait()
}

// Stop requests a shutdown; the current tick finishes first.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// PushUserCommand queues a user message for the next tick and wakes the
// scheduler so it runs immediately.
func (l *Loop) PushUserCommand(cmd string) {
	l.mu.Lock()
	l.userCommands = append(l.userCommands, cmd)
	l.mu.Unlock()
	l.wakeUp()
}

// SetWorkspace replaces the assembled prompt context.
func (l *Loop) SetWorkspace(ws brain.WorkspaceContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workspace = ws
}

func (l *Loop) wakeUp() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) notificationLoop(ctx context.Context) {
	for {
		notifs, priority := l.notifications.Poll(ctx)
		if len(notifs) > 0 {
			l.mu.Lock()
			l.pendingNotifs = append(l.pendingNotifs, notifs...)
			l.mu.Unlock()
		}
		if priority {
			l.logger.Info("Priority notification, waking loop")
			l.wakeUp()
		}

		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-time.After(notifPollInterval):
		}
	}
}

func (l *Loop) tickLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			l.logger.Info("Agent loop stopped")
			return nil
		default:
		}

		if err := l.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("Tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			l.logger.Info("Agent loop stopped")
			return nil
		case <-l.wake:
		case <-time.After(l.cfg.HeartbeatInterval):
		}
	}
}

// tick is one perceive / think / act cycle.
func (l *Loop) tick(ctx context.Context) error {
	l.tickCount++
	tick := l.tickCount

	l.mind.CheckPrimaryRecovery()

	notifs := l.drainNotifications()
	commands := l.drainUserCommands()

	if len(notifs) == 0 && len(commands) == 0 && tick%idleTickStride != 0 {
		l.logger.Debug("Idle tick, skipping model call", zap.Uint64("tick", tick))
		return nil
	}

	obs := l.observer.Perceive(ctx)
	if obs.ForegroundApp != "" {
		l.mu.Lock()
		l.lastApp = obs.ForegroundApp
		l.mu.Unlock()
	}

	hint := l.takeStuckHint()
	switch st := l.detector.CheckScreen(obs.Fingerprint()); st.Kind {
	case stuck.KindHint:
		hint = st.Hint
	case stuck.KindRecover:
		l.runRecovery(ctx, st.Recovery)
		return nil
	case stuck.KindGiveUp:
		// The daemon has no single goal to abandon; reset and tell the
		// model what happened so it can change course.
		l.logger.Warn("Recovery budget exhausted", zap.String("detail", st.Hint))
		l.detector.Reset()
		hint = st.Hint
	}

	ws := l.workspaceSnapshot()
	systemPrompt := l.mind.BuildSystemPrompt(ws)
	userPrompt := l.mind.BuildTickPrompt(ws,
		perception.FormatNotifications(notifs),
		perception.FormatForPrompt(obs),
		commands,
		l.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	if hint != "" {
		userPrompt += "\n" + hint
	}

	resp, err := l.mind.ThinkAndParse(ctx, systemPrompt, userPrompt, encodeScreenshot(obs))
	if err != nil {
		return err
	}
	if resp.IsHeartbeat() {
		l.logger.Debug("Heartbeat OK", zap.Uint64("tick", tick))
		return nil
	}

	l.handleSideChannels(resp)
	l.executeActions(ctx, tick, resp.Actions)
	return nil
}

func (l *Loop) handleSideChannels(resp schemas.AgentResponse) {
	if resp.Reflection != "" {
		l.logger.Info("Reflection", zap.String("text", resp.Reflection))
	}
	if resp.MemoryWrite != "" {
		l.logger.Info("Memory write", zap.String("text", resp.MemoryWrite))
		l.mu.Lock()
		if l.workspace.Memory != "" {
			l.workspace.Memory += "\n"
		}
		l.workspace.Memory += resp.MemoryWrite
		l.mu.Unlock()
	}
	if resp.Message != "" {
		l.logger.Info("Message to user", zap.String("text", resp.Message))
		if l.OnMessage != nil {
			l.OnMessage(resp.Message)
		}
	}
}

// executeActions runs the batch in order. A device failure abandons the
// remainder; so does a stuck-detector recovery or give-up.
func (l *Loop) executeActions(ctx context.Context, tick uint64, actions []schemas.AgentAction) {
	if len(actions) == 0 {
		l.logger.Debug("No actions", zap.Uint64("tick", tick))
		return
	}
	l.logger.Info("Executing actions", zap.Uint64("tick", tick), zap.Int("count", len(actions)))

	for _, action := range actions {
		result, err := l.executor.Execute(ctx, action)
		if err != nil {
			l.logger.Error("Action failed, abandoning batch",
				zap.String("type", action.Type), zap.Error(err))
			return
		}
		l.logger.Info("Action done",
			zap.String("type", action.Type), zap.String("result", result))

		switch st := l.detector.RecordAction(action.Type, action.TargetKey(), action.IsNavigational()); st.Kind {
		case stuck.KindHint:
			l.setStuckHint(st.Hint)
		case stuck.KindRecover:
			l.runRecovery(ctx, st.Recovery)
			return
		case stuck.KindGiveUp:
			l.logger.Warn("Recovery budget exhausted mid-batch", zap.String("detail", st.Hint))
			l.detector.Reset()
			l.setStuckHint(st.Hint)
			return
		}
	}
}

// runRecovery executes a stuck-recovery step through the same guarded
// executor, so dry-run and logging apply to it too.
func (l *Loop) runRecovery(ctx context.Context, action stuck.RecoveryAction) {
	switch action {
	case stuck.RecoverBack:
		l.logger.Info("Recovery: back")
		if _, err := l.executor.Execute(ctx, schemas.AgentAction{Type: "back", Reason: "stuck recovery"}); err != nil {
			l.logger.Error("Recovery back failed", zap.Error(err))
		}
	case stuck.RecoverHomeRelaunch:
		l.mu.Lock()
		app := l.lastApp
		l.mu.Unlock()
		l.logger.Info("Recovery: home and relaunch", zap.String("app", app))
		if _, err := l.executor.Execute(ctx, schemas.AgentAction{Type: "home", Reason: "stuck recovery"}); err != nil {
			l.logger.Error("Recovery home failed", zap.Error(err))
			return
		}
		l.sleep(ctx, time.Second)
		if app != "" {
			if _, err := l.executor.Execute(ctx, schemas.AgentAction{Type: "launch_app", App: app, Reason: "stuck recovery"}); err != nil {
				l.logger.Error("Recovery relaunch failed", zap.Error(err))
			}
		}
	}
}

func (l *Loop) drainNotifications() []schemas.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pendingNotifs
	l.pendingNotifs = nil
	return out
}

func (l *Loop) drainUserCommands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.userCommands
	l.userCommands = nil
	return out
}

func (l *Loop) workspaceSnapshot() brain.WorkspaceContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workspace
}

func (l *Loop) setStuckHint(h string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stuckHint = h
}

func (l *Loop) takeStuckHint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.stuckHint
	l.stuckHint = ""
	return h
}

func encodeScreenshot(obs schemas.ScreenObservation) string {
	if len(obs.Screenshot) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(obs.Screenshot)
}
