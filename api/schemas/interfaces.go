package schemas

import (
	"context"
	"time"
)

// -- Device Driver --

// DeviceDriver executes primitive commands on the remote device. It is
// consumed by the core and implemented by a transport-specific shell (ADB
// over USB or network, a companion bridge, a test fake). All calls block
// until the command returns or the context is done.
type DeviceDriver interface {
	// RunCommand runs a device command and returns its trimmed stdout.
	RunCommand(ctx context.Context, args ...string) (string, error)
	// RunCommandBytes runs a device command and returns raw stdout, used
	// for binary captures such as screenshots.
	RunCommandBytes(ctx context.Context, args ...string) ([]byte, error)
}

// -- LLM Clients --

// GenerationRequest is the normalized internal contract for one model turn.
// Backend wire formats are an implementation detail of each client.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	// ImagePNGBase64 is an optional screenshot; clients for non-vision
	// models must ignore it rather than fail.
	ImagePNGBase64 string
	MaxTokens      int
	Temperature    float64
}

// LLMClient calls one model backend with a fully-formed prompt and returns
// the raw response text. Failures carry the provider's error text so the
// fallback manager can classify them.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// ModelConfig identifies one LLM backend configuration. It is used for both
// the primary provider and every fallback chain entry.
type ModelConfig struct {
	Backend       string `json:"backend" mapstructure:"backend"`
	Model         string `json:"model" mapstructure:"model"`
	Endpoint      string `json:"endpoint" mapstructure:"endpoint"`
	APIKey        string `json:"api_key" mapstructure:"api_key"`
	VisionEnabled bool   `json:"vision_enabled" mapstructure:"vision_enabled"`
}

// Key returns the provider identity used for cooldown bookkeeping.
func (m ModelConfig) Key() string {
	return m.Backend + "/" + m.Model
}

// -- Confirmation & Audit --

// PendingConfirmation is a RED action awaiting human approval. Confirmed is
// nil until an external confirmation call resolves it; the core never
// deletes entries itself.
type PendingConfirmation struct {
	ActionID  string      `json:"action_id"`
	Action    AgentAction `json:"action"`
	Timestamp time.Time   `json:"timestamp"`
	Confirmed *bool       `json:"confirmed,omitempty"`
}

// ActionLogEntry records one execution decision. The action log is
// append-only and never rewritten.
type ActionLogEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	ActionType     string    `json:"action_type"`
	Classification string    `json:"classification"`
	Result         string    `json:"result"`
}

// DeviceInstruction is a generic outgoing instruction for action types the
// executor does not recognize. It is drained by the companion channel.
type DeviceInstruction struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// -- Notifications --

// Notification is one device notification surfaced to the agent prompt.
type Notification struct {
	App       string    `json:"app"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
