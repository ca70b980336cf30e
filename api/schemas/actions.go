package schemas

import (
	"fmt"
	"strings"
)

// -- Risk Classification --

// Risk tiers for agent actions. GREEN executes immediately, YELLOW executes
// with logging, RED requires human confirmation unless explicitly
// auto-approved by the operator.
const (
	ClassGreen  = "GREEN"
	ClassYellow = "YELLOW"
	ClassRed    = "RED"
)

// NormalizeClassification upper-cases and trims a model-supplied
// classification string. Absent values default to GREEN.
func NormalizeClassification(s string) string {
	c := strings.ToUpper(strings.TrimSpace(s))
	if c == "" {
		return ClassGreen
	}
	return c
}

// -- Agent Actions --

// AgentAction is a single instruction emitted by the model. The Type
// vocabulary is open: unrecognized types are forwarded verbatim to the
// companion channel rather than rejected, so new model vocabulary does not
// require a core change.
type AgentAction struct {
	Type           string         `json:"type"`
	Params         map[string]any `json:"params,omitempty"`
	Classification string         `json:"classification,omitempty"`
	Reason         string         `json:"reason,omitempty"`

	// Some models place coordinates and text at the top level instead of
	// inside params. Accessors below check both locations.
	X    *int   `json:"x,omitempty"`
	Y    *int   `json:"y,omitempty"`
	Text string `json:"text,omitempty"`
	App  string `json:"app,omitempty"`
}

// ParamString returns the named parameter as a string, or "" if absent.
func (a AgentAction) ParamString(key string) string {
	if a.Params == nil {
		return ""
	}
	switch v := a.Params[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// ParamInt returns the named parameter as an int. JSON numbers decode as
// float64, so both forms are accepted.
func (a AgentAction) ParamInt(key string, fallback int) int {
	if a.Params == nil {
		return fallback
	}
	switch v := a.Params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

// Coordinates returns the tap target for the action, preferring params over
// the top-level convenience fields.
func (a AgentAction) Coordinates() (x, y int, ok bool) {
	if a.Params != nil {
		if _, has := a.Params["x"]; has {
			return a.ParamInt("x", 0), a.ParamInt("y", 0), true
		}
	}
	if a.X != nil && a.Y != nil {
		return *a.X, *a.Y, true
	}
	return 0, 0, false
}

// TargetText returns the text payload, preferring params.
func (a AgentAction) TargetText() string {
	if s := a.ParamString("text"); s != "" {
		return s
	}
	return a.Text
}

// TargetPackage returns the app package the action refers to, if any.
func (a AgentAction) TargetPackage() string {
	if s := a.ParamString("package"); s != "" {
		return s
	}
	return a.App
}

// navigationalTypes are movement-only actions that never interact with a
// concrete element. Long runs of these indicate the agent is drifting.
var navigationalTypes = map[string]bool{
	"back": true, "go_back": true,
	"home": true, "go_home": true,
	"swipe": true, "scroll_up": true, "scroll_down": true, "scroll": true,
	"wait": true,
}

// IsNavigational reports whether the action is pure navigation.
func (a AgentAction) IsNavigational() bool {
	return navigationalTypes[a.Type]
}

// TargetKey produces a compact fingerprint of the action target, used by the
// stuck detector for repetition tracking.
func (a AgentAction) TargetKey() string {
	switch a.Type {
	case "tap", "long_press":
		if x, y, ok := a.Coordinates(); ok {
			return fmt.Sprintf("%d,%d", x, y)
		}
		return "unknown"
	case "type_text":
		t := a.TargetText()
		if runes := []rune(t); len(runes) > 30 {
			t = string(runes[:30])
		}
		return t
	case "launch_app":
		if pkg := a.TargetPackage(); pkg != "" {
			return pkg
		}
		return "unknown"
	case "swipe":
		return fmt.Sprintf("%d,%d->%d,%d",
			a.ParamInt("x1", 0), a.ParamInt("y1", 0),
			a.ParamInt("x2", 0), a.ParamInt("y2", 0))
	default:
		return a.Type
	}
}

// -- Agent Responses --

// HeartbeatOK is the sentinel a model returns when nothing needs attention
// this tick. It is honored anywhere in the raw response text, valid JSON or
// not.
const HeartbeatOK = "HEARTBEAT_OK"

// AgentResponse is one parsed model turn. Actions execute in insertion
// order.
type AgentResponse struct {
	Actions     []AgentAction `json:"actions"`
	Reflection  string        `json:"reflection,omitempty"`
	Message     string        `json:"message,omitempty"`
	MemoryWrite string        `json:"memory_write,omitempty"`
}

// IsHeartbeat reports whether the response is the "nothing to do" sentinel.
func (r AgentResponse) IsHeartbeat() bool {
	return r.Reflection == HeartbeatOK
}
