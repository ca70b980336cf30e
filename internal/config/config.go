// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Brain      BrainConfig      `mapstructure:"brain" yaml:"brain"`
	Perception PerceptionConfig `mapstructure:"perception" yaml:"perception"`
	Guardrail  GuardrailConfig  `mapstructure:"guardrail" yaml:"guardrail"`
	Stuck      StuckConfig      `mapstructure:"stuck" yaml:"stuck"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig configures loop scheduling.
type AgentConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// HeartbeatInterval is the time between autonomous ticks.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	// OneshotMaxSteps caps how many perceive/think/act cycles a single
	// goal run may take before it is abandoned.
	OneshotMaxSteps int `mapstructure:"oneshot_max_steps" yaml:"oneshot_max_steps"`
}

// BrainConfig configures the primary model, generation parameters, and the
// fallback chain.
type BrainConfig struct {
	schemas.ModelConfig `mapstructure:",squash" yaml:",inline"`

	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// AuthFile is the path to an OAuth token keyfile for backends that use
	// externally refreshed credentials. "~" expands to the home directory.
	AuthFile string         `mapstructure:"auth_file" yaml:"auth_file"`
	Fallback FallbackConfig `mapstructure:"fallback" yaml:"fallback"`
}

// FallbackConfig controls when and how the fallback chain engages.
type FallbackConfig struct {
	OnRateLimit bool          `mapstructure:"on_rate_limit" yaml:"on_rate_limit"`
	OnAuthError bool          `mapstructure:"on_auth_error" yaml:"on_auth_error"`
	OnTimeout   bool          `mapstructure:"on_timeout" yaml:"on_timeout"`
	Cooldown    time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	// Models is the ordered fallback chain, tried after the primary.
	Models []schemas.ModelConfig `mapstructure:"models" yaml:"models"`
}

// PerceptionConfig configures the sanitizer and the vision policy.
type PerceptionConfig struct {
	// Device is an optional device serial for multi-device setups.
	Device      string `mapstructure:"device" yaml:"device"`
	MaxElements int    `mapstructure:"max_elements" yaml:"max_elements"`
	// VisionMode is "off", "fallback", or "always".
	VisionMode string `mapstructure:"vision_mode" yaml:"vision_mode"`
	// FallbackThreshold is the minimum interactive element count below
	// which the tree is considered too sparse to act on.
	FallbackThreshold int `mapstructure:"fallback_threshold" yaml:"fallback_threshold"`
	// ScreenshotsPerMinute rate-limits screenshot captures.
	ScreenshotsPerMinute float64  `mapstructure:"screenshots_per_minute" yaml:"screenshots_per_minute"`
	PriorityApps         []string `mapstructure:"priority_apps" yaml:"priority_apps"`
}

// GuardrailConfig configures action risk policy.
type GuardrailConfig struct {
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
	// AutoConfirmRed executes RED actions without a human step. This trades
	// safety for convenience and is off by default; it never applies to
	// restricted apps.
	AutoConfirmRed bool `mapstructure:"auto_confirm_red" yaml:"auto_confirm_red"`
	// RestrictedApps are substring-matched against action app identifiers;
	// a match forces RED and always queues for confirmation.
	RestrictedApps []string `mapstructure:"restricted_apps" yaml:"restricted_apps"`
	// SettleInterval is the poll spacing for the post-action settle wait.
	SettleInterval time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
}

// StuckConfig configures stuck detection thresholds.
type StuckConfig struct {
	ScreenThreshold     int `mapstructure:"screen_threshold" yaml:"screen_threshold"`
	RepetitionWindow    int `mapstructure:"repetition_window" yaml:"repetition_window"`
	RepetitionThreshold int `mapstructure:"repetition_threshold" yaml:"repetition_threshold"`
	DriftThreshold      int `mapstructure:"drift_threshold" yaml:"drift_threshold"`
	MaxRecoveryAttempts int `mapstructure:"max_recovery_attempts" yaml:"max_recovery_attempts"`
	// Strategy is "escalate" (recommended), "back", "restart", or "ask".
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
}

// NewDefaultConfig returns a Config populated entirely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "droidpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.name", "droidpilot")
	v.SetDefault("agent.heartbeat_interval", "30s")
	v.SetDefault("agent.oneshot_max_steps", 25)

	// -- Brain --
	v.SetDefault("brain.backend", "openai_compatible")
	v.SetDefault("brain.model", "gpt-4o-mini")
	v.SetDefault("brain.endpoint", "https://api.openai.com/v1")
	v.SetDefault("brain.vision_enabled", false)
	v.SetDefault("brain.max_tokens", 2048)
	v.SetDefault("brain.temperature", 0.7)
	v.SetDefault("brain.api_timeout", "120s")
	v.SetDefault("brain.fallback.on_rate_limit", true)
	v.SetDefault("brain.fallback.on_auth_error", true)
	v.SetDefault("brain.fallback.on_timeout", true)
	v.SetDefault("brain.fallback.cooldown", "60s")

	// -- Perception --
	v.SetDefault("perception.max_elements", 50)
	v.SetDefault("perception.vision_mode", "fallback")
	v.SetDefault("perception.fallback_threshold", 5)
	v.SetDefault("perception.screenshots_per_minute", 6.0)

	// -- Guardrail --
	v.SetDefault("guardrail.dry_run", false)
	v.SetDefault("guardrail.auto_confirm_red", false)
	v.SetDefault("guardrail.settle_interval", "50ms")

	// -- Stuck --
	v.SetDefault("stuck.screen_threshold", 3)
	v.SetDefault("stuck.repetition_window", 6)
	v.SetDefault("stuck.repetition_threshold", 3)
	v.SetDefault("stuck.drift_threshold", 5)
	v.SetDefault("stuck.max_recovery_attempts", 3)
	v.SetDefault("stuck.strategy", "escalate")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("brain.api_key", "DROIDPILOT_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.HeartbeatInterval <= 0 {
		return fmt.Errorf("agent.heartbeat_interval must be a positive duration")
	}
	if c.Brain.Backend == "" || c.Brain.Model == "" {
		return fmt.Errorf("brain.backend and brain.model are required")
	}
	for i, m := range c.Brain.Fallback.Models {
		if m.Backend == "" || m.Model == "" {
			return fmt.Errorf("brain.fallback.models[%d] must set backend and model", i)
		}
	}
	if c.Perception.MaxElements <= 0 {
		return fmt.Errorf("perception.max_elements must be a positive integer")
	}
	switch c.Perception.VisionMode {
	case "off", "fallback", "always":
	default:
		return fmt.Errorf("perception.vision_mode must be one of off, fallback, always")
	}
	if c.Stuck.RepetitionWindow < c.Stuck.RepetitionThreshold {
		return fmt.Errorf("stuck.repetition_window must be >= stuck.repetition_threshold")
	}
	return nil
}
