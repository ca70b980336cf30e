// File: internal/guardrail/dispatch.go
package guardrail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// Settle budgets per action type. Taps transition fast, app launches need
// time to draw their first frame.
const (
	settleBudgetTap    = 200 * time.Millisecond
	settleBudgetLaunch = 800 * time.Millisecond
	settleBudgetFocus  = 150 * time.Millisecond
)

const screenshotDevicePath = "/sdcard/droidpilot_screenshot.png"

// dispatch maps one action to its device command sequence.
func (e *Executor) dispatch(ctx context.Context, action schemas.AgentAction, id string) (string, error) {
	switch action.Type {
	case "tap":
		x, y, _ := action.Coordinates()
		result, err := e.device(ctx, "shell", "input", "tap", itoa(x), itoa(y))
		if err != nil {
			return "", err
		}
		e.waitForSettle(ctx, settleBudgetTap)
		return result, nil

	case "long_press":
		// A long press is a swipe that goes nowhere.
		x, y, _ := action.Coordinates()
		ms := action.ParamInt("ms", 1000)
		return e.device(ctx, "shell", "input", "swipe",
			itoa(x), itoa(y), itoa(x), itoa(y), itoa(ms))

	case "swipe":
		ms := action.ParamInt("ms", 0)
		if ms == 0 {
			ms = action.ParamInt("duration_ms", 300)
		}
		return e.device(ctx, "shell", "input", "swipe",
			itoa(action.ParamInt("x1", 0)), itoa(action.ParamInt("y1", 0)),
			itoa(action.ParamInt("x2", 0)), itoa(action.ParamInt("y2", 0)),
			itoa(ms))

	case "type_text":
		return e.typeText(ctx, action)

	case "press_key":
		key := action.ParamString("key")
		if key == "" {
			key = "KEYCODE_HOME"
		}
		return e.device(ctx, "shell", "input", "keyevent", key)

	case "launch_app":
		pkg := action.TargetPackage()
		result, err := e.device(ctx, "shell", "monkey", "-p", pkg,
			"-c", "android.intent.category.LAUNCHER", "1")
		if err != nil {
			return "", err
		}
		e.waitForSettle(ctx, settleBudgetLaunch)
		return result, nil

	case "home", "go_home":
		return e.device(ctx, "shell", "input", "keyevent", "KEYCODE_HOME")

	case "back", "go_back":
		return e.device(ctx, "shell", "input", "keyevent", "KEYCODE_BACK")

	case "recents":
		return e.device(ctx, "shell", "input", "keyevent", "KEYCODE_APP_SWITCH")

	case "open_notifications":
		return e.device(ctx, "shell", "cmd", "statusbar", "expand-notifications")

	case "scroll_down":
		return e.device(ctx, "shell", "input", "swipe", "540", "1500", "540", "500", "300")

	case "scroll_up":
		return e.device(ctx, "shell", "input", "swipe", "540", "500", "540", "1500", "300")

	case "wait":
		ms := action.ParamInt("ms", 1000)
		e.sleep(ctx, time.Duration(ms)*time.Millisecond)
		return fmt.Sprintf("waited %dms", ms), nil

	case "screenshot":
		if _, err := e.device(ctx, "shell", "screencap", "-p", screenshotDevicePath); err != nil {
			return "", err
		}
		return e.device(ctx, "pull", screenshotDevicePath, "/tmp/droidpilot_screenshot.png")

	case "notify_user":
		msg := action.TargetText()
		if msg == "" {
			msg = action.ParamString("message")
		}
		e.logger.Info("Message for the user", zap.String("text", msg))
		return "notified: " + msg, nil

	default:
		// Forward-compatible escape hatch: unknown vocabulary goes to the
		// companion channel untouched.
		e.mu.Lock()
		e.outgoing = append(e.outgoing, schemas.DeviceInstruction{
			ID:     id,
			Type:   action.Type,
			Params: action.Params,
		})
		e.mu.Unlock()
		return "sent_to_companion: " + action.Type, nil
	}
}

// shellTextReplacer escapes text for `input text`, which tokenizes on
// spaces and interprets shell metacharacters.
var shellTextReplacer = strings.NewReplacer(
	`\`, `\\`,
	" ", "%s",
	"&", `\&`,
	"<", `\<`,
	">", `\>`,
	"|", `\|`,
	";", `\;`,
	"(", `\(`,
	")", `\)`,
	"'", `\'`,
	`"`, `\"`,
	"$", `\$`,
	"`", "\\`",
)

func (e *Executor) typeText(ctx context.Context, action schemas.AgentAction) (string, error) {
	// Give the focused field a beat before typing into it.
	e.waitForSettle(ctx, settleBudgetFocus)

	text := action.TargetText()
	if text == "" {
		return "type_text: empty text, skipped", nil
	}

	result, err := e.device(ctx, "shell", "input", "text", shellTextReplacer.Replace(text))
	if err == nil {
		return result, nil
	}

	// Some keyboards reject injected text; companion IMEs accept it over a
	// broadcast instead.
	e.logger.Warn("input text failed, trying broadcast fallback", zap.Error(err))
	return e.device(ctx, "shell", "am", "broadcast",
		"-a", "ADB_INPUT_TEXT", "--es", "msg", text)
}

// waitForSettle polls the foreground activity signature until it changes or
// the budget runs out. Best effort: it always returns by the deadline.
func (e *Executor) waitForSettle(ctx context.Context, budget time.Duration) {
	before := e.foregroundSignature(ctx)

	start := time.Now()
	checks := int(budget / e.cfg.SettleInterval)
	if checks < 1 {
		checks = 1
	}
	for i := 0; i < checks; i++ {
		e.sleep(ctx, e.cfg.SettleInterval)
		if ctx.Err() != nil {
			return
		}
		if e.foregroundSignature(ctx) != before {
			e.logger.Debug("Screen settled",
				zap.Duration("elapsed", time.Since(start)))
			return
		}
	}
	e.logger.Debug("Screen settle timeout",
		zap.Duration("elapsed", time.Since(start)))
}

// foregroundSignature returns the resumed-activity line from the activity
// manager, or "" when unavailable.
func (e *Executor) foregroundSignature(ctx context.Context) string {
	raw, err := e.driver.RunCommand(ctx, "shell", "dumpsys", "activity", "activities")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(raw, "\n") {
		if strings.Contains(line, "mResumedActivity:") || strings.Contains(line, "topResumedActivity:") {
			return line
		}
	}
	return ""
}

func (e *Executor) device(ctx context.Context, args ...string) (string, error) {
	return e.driver.RunCommand(ctx, args...)
}

func itoa(n int) string { return strconv.Itoa(n) }
