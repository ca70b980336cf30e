// File: internal/guardrail/executor_test.go
package guardrail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// recordingDriver captures every command and optionally fails by prefix.
type recordingDriver struct {
	mu       sync.Mutex
	commands []string
	failOn   string
}

func (d *recordingDriver) RunCommand(_ context.Context, args ...string) (string, error) {
	cmd := strings.Join(args, " ")
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()
	if d.failOn != "" && strings.HasPrefix(cmd, d.failOn) {
		return "", errors.New("command failed: " + cmd)
	}
	return "ok", nil
}

func (d *recordingDriver) RunCommandBytes(ctx context.Context, args ...string) ([]byte, error) {
	s, err := d.RunCommand(ctx, args...)
	return []byte(s), err
}

func (d *recordingDriver) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func newTestExecutor(t *testing.T, cfg config.GuardrailConfig) (*Executor, *recordingDriver) {
	t.Helper()
	d := &recordingDriver{}
	e := NewExecutor(cfg, d, zaptest.NewLogger(t))
	e.sleep = func(context.Context, time.Duration) {}
	return e, d
}

func tap(x, y int, class string) schemas.AgentAction {
	return schemas.AgentAction{
		Type:           "tap",
		Params:         map[string]any{"x": float64(x), "y": float64(y)},
		Classification: class,
	}
}

func TestExecuteGreenRunsImmediately(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), tap(100, 200, "GREEN"))
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Contains(t, d.all(), "shell input tap 100 200")

	log := e.ActionLog()
	require.Len(t, log, 1)
	assert.Equal(t, "GREEN", log[0].Classification)
}

func TestExecuteDefaultsToGreen(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, config.GuardrailConfig{})

	_, err := e.Execute(context.Background(), tap(1, 2, ""))
	require.NoError(t, err)
	assert.Equal(t, "GREEN", e.ActionLog()[0].Classification)
}

func TestExecuteRedQueuesWithoutAutoConfirm(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), tap(1, 2, "RED"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result, "PENDING:"), "got %q", result)
	assert.Empty(t, d.all(), "queued actions must not touch the device")
	assert.Len(t, e.ListPending(), 1)
}

func TestExecuteRedQueueIsAudited(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), tap(1, 2, "RED"))
	require.NoError(t, err)
	id := strings.TrimPrefix(result, "PENDING:")

	log := e.ActionLog()
	require.Len(t, log, 1)
	assert.Equal(t, "tap", log[0].ActionType)
	assert.Equal(t, schemas.ClassRed, log[0].Classification)
	assert.Equal(t, "PENDING:"+id, log[0].Result)

	// Confirmation appends a second entry rather than rewriting the first.
	_, err = e.Confirm(context.Background(), id, true)
	require.NoError(t, err)
	log = e.ActionLog()
	require.Len(t, log, 2)
	assert.Equal(t, "RED-CONFIRMED", log[1].Classification)
}

func TestExecuteFailureIsAudited(t *testing.T) {
	t.Parallel()
	d := &recordingDriver{failOn: "shell input tap"}
	e := NewExecutor(config.GuardrailConfig{}, d, zaptest.NewLogger(t))
	e.sleep = func(context.Context, time.Duration) {}

	_, err := e.Execute(context.Background(), tap(1, 2, "GREEN"))
	require.Error(t, err)

	log := e.ActionLog()
	require.Len(t, log, 1)
	assert.Equal(t, "GREEN", log[0].Classification)
	assert.True(t, strings.HasPrefix(log[0].Result, "FAILED: "), "got %q", log[0].Result)
}

func TestExecuteRedAutoConfirm(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{AutoConfirmRed: true})

	result, err := e.Execute(context.Background(), tap(1, 2, "RED"))
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.NotEmpty(t, d.all())
	assert.Equal(t, "RED-AUTO", e.ActionLog()[0].Classification)
}

func TestRestrictedAppAlwaysQueued(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{
		AutoConfirmRed: true,
		RestrictedApps: []string{"com.bank"},
	})

	action := schemas.AgentAction{
		Type:           "launch_app",
		Params:         map[string]any{"package": "com.bank.mobile"},
		Classification: "GREEN", // the model lies; the override wins
	}
	result, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result, "PENDING:"))
	assert.Empty(t, d.all())
	require.Len(t, e.ListPending(), 1)
}

func TestConfirmApprovedExecutesOnce(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), tap(5, 6, "RED"))
	require.NoError(t, err)
	id := strings.TrimPrefix(result, "PENDING:")

	got, err := e.Confirm(context.Background(), id, true)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Contains(t, d.all(), "shell input tap 5 6")
	assert.Empty(t, e.ListPending())

	// A second confirmation of the same id must not re-execute.
	_, err = e.Confirm(context.Background(), id, true)
	require.ErrorIs(t, err, ErrNoPendingAction)
	taps := 0
	for _, cmd := range d.all() {
		if strings.HasPrefix(cmd, "shell input tap") {
			taps++
		}
	}
	assert.Equal(t, 1, taps)
}

func TestConfirmDenied(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), tap(5, 6, "RED"))
	require.NoError(t, err)
	id := strings.TrimPrefix(result, "PENDING:")

	got, err := e.Confirm(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, "DENIED", got)
	assert.Empty(t, d.all())
}

func TestConfirmUnknownID(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, config.GuardrailConfig{})

	_, err := e.Confirm(context.Background(), "nope", true)
	assert.ErrorIs(t, err, ErrNoPendingAction)
}

func TestUnknownClassificationBlocked(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), tap(1, 2, "PURPLE"))
	require.NoError(t, err)
	assert.Equal(t, BlockedResult, result)
	assert.Empty(t, d.all())
	assert.Equal(t, BlockedResult, e.ActionLog()[0].Result)
}

func TestDryRunSkipsDevice(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{DryRun: true})

	result, err := e.Execute(context.Background(), tap(1, 2, "YELLOW"))
	require.NoError(t, err)
	assert.Contains(t, result, "DRY_RUN")
	assert.Empty(t, d.all())
	assert.Equal(t, "DRY_RUN", e.ActionLog()[0].Result)
}

func TestDispatchVocabulary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action schemas.AgentAction
		want   string
	}{
		{
			"long press is a stationary swipe",
			schemas.AgentAction{Type: "long_press", Params: map[string]any{"x": 10.0, "y": 20.0, "ms": 1500.0}},
			"shell input swipe 10 20 10 20 1500",
		},
		{
			"swipe with duration_ms alias",
			schemas.AgentAction{Type: "swipe", Params: map[string]any{"x1": 1.0, "y1": 2.0, "x2": 3.0, "y2": 4.0, "duration_ms": 250.0}},
			"shell input swipe 1 2 3 4 250",
		},
		{
			"press key default",
			schemas.AgentAction{Type: "press_key"},
			"shell input keyevent KEYCODE_HOME",
		},
		{
			"back alias",
			schemas.AgentAction{Type: "go_back"},
			"shell input keyevent KEYCODE_BACK",
		},
		{
			"recents",
			schemas.AgentAction{Type: "recents"},
			"shell input keyevent KEYCODE_APP_SWITCH",
		},
		{
			"open notifications",
			schemas.AgentAction{Type: "open_notifications"},
			"shell cmd statusbar expand-notifications",
		},
		{
			"scroll down preset",
			schemas.AgentAction{Type: "scroll_down"},
			"shell input swipe 540 1500 540 500 300",
		},
		{
			"scroll up preset",
			schemas.AgentAction{Type: "scroll_up"},
			"shell input swipe 540 500 540 1500 300",
		},
		{
			"launch app",
			schemas.AgentAction{Type: "launch_app", App: "com.example.app"},
			"shell monkey -p com.example.app -c android.intent.category.LAUNCHER 1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e, d := newTestExecutor(t, config.GuardrailConfig{})
			_, err := e.Execute(context.Background(), tc.action)
			require.NoError(t, err)
			assert.Contains(t, d.all(), tc.want)
		})
	}
}

func TestTypeTextEscaping(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	action := schemas.AgentAction{
		Type:   "type_text",
		Params: map[string]any{"text": "hi there & (you)"},
	}
	_, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Contains(t, d.all(), `shell input text hi%sthere%s\&%s\(you\)`)
}

func TestTypeTextEmptySkipped(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), schemas.AgentAction{Type: "type_text"})
	require.NoError(t, err)
	assert.Contains(t, result, "skipped")
	for _, cmd := range d.all() {
		assert.False(t, strings.HasPrefix(cmd, "shell input text"))
	}
}

func TestTypeTextBroadcastFallback(t *testing.T) {
	t.Parallel()
	d := &recordingDriver{failOn: "shell input text"}
	e := NewExecutor(config.GuardrailConfig{}, d, zaptest.NewLogger(t))
	e.sleep = func(context.Context, time.Duration) {}

	_, err := e.Execute(context.Background(), schemas.AgentAction{
		Type: "type_text", Text: "fancy ünïcøde",
	})
	require.NoError(t, err)
	assert.Contains(t, d.all(), "shell am broadcast -a ADB_INPUT_TEXT --es msg fancy ünïcøde")
}

func TestUnknownTypeGoesToCompanion(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), schemas.AgentAction{
		Type:   "play_sound",
		Params: map[string]any{"name": "chime"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sent_to_companion: play_sound", result)
	assert.Empty(t, d.all())

	out := e.DrainOutgoing()
	require.Len(t, out, 1)
	assert.Equal(t, "play_sound", out[0].Type)
	assert.Equal(t, "chime", out[0].Params["name"])

	assert.Empty(t, e.DrainOutgoing(), "drain must empty the queue")
}

func TestNotifyUser(t *testing.T) {
	t.Parallel()
	e, d := newTestExecutor(t, config.GuardrailConfig{})

	result, err := e.Execute(context.Background(), schemas.AgentAction{
		Type:   "notify_user",
		Params: map[string]any{"message": "done with the task"},
	})
	require.NoError(t, err)
	assert.Equal(t, "notified: done with the task", result)
	assert.Empty(t, d.all())
}

func TestWaitAction(t *testing.T) {
	t.Parallel()

	var slept time.Duration
	e, _ := newTestExecutor(t, config.GuardrailConfig{})
	e.sleep = func(_ context.Context, d time.Duration) { slept += d }

	result, err := e.Execute(context.Background(), schemas.AgentAction{
		Type: "wait", Params: map[string]any{"ms": 250.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "waited 250ms", result)
	assert.Equal(t, 250*time.Millisecond, slept)
}

func TestSettleStopsWhenActivityChanges(t *testing.T) {
	t.Parallel()

	d := &settleDriver{}
	e := NewExecutor(config.GuardrailConfig{SettleInterval: time.Millisecond}, d, zaptest.NewLogger(t))

	e.waitForSettle(context.Background(), 200*time.Millisecond)
	assert.LessOrEqual(t, d.polls, 3, "settle must return as soon as the activity changes")
}

// settleDriver reports a different foreground activity on every poll.
type settleDriver struct {
	polls int
}

func (d *settleDriver) RunCommand(_ context.Context, args ...string) (string, error) {
	d.polls++
	return "  mResumedActivity: ActivityRecord{" + strings.Repeat("x", d.polls) + "}", nil
}

func (d *settleDriver) RunCommandBytes(context.Context, ...string) ([]byte, error) {
	return nil, nil
}
