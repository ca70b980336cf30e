// File: internal/llmclient/factory.go

// Package llmclient provides LLMClient implementations for the model
// backends the agent can talk to: OpenAI-compatible HTTP APIs, local
// Ollama, Google Gemini, and ChatGPT via a locally cached OAuth token.
package llmclient

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// Backend identifiers accepted in config. "groq" and "llamacpp" are just
// OpenAI-compatible endpoints with different hosts.
const (
	BackendOpenAI           = "openai"
	BackendOpenAICompatible = "openai_compatible"
	BackendGroq             = "groq"
	BackendLlamaCPP         = "llamacpp"
	BackendOllama           = "ollama"
	BackendGemini           = "gemini"
	BackendCodex            = "codex"
	BackendCodexOAuth       = "codex_oauth"
)

// Options carries the client-level knobs shared by every backend.
type Options struct {
	Timeout time.Duration
	// AuthFile overrides the OAuth token file location for the codex
	// backend. Empty means ~/.codex/auth.json.
	AuthFile string
}

// NewClient builds an LLMClient for the model's backend.
func NewClient(model schemas.ModelConfig, opts Options, logger *zap.Logger) (schemas.LLMClient, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}

	switch model.Backend {
	case BackendOpenAI, BackendOpenAICompatible, BackendGroq, BackendLlamaCPP:
		return NewOpenAIClient(model, opts, logger)
	case BackendOllama:
		return NewOllamaClient(model, opts, logger)
	case BackendGemini:
		return NewGeminiClient(model, opts, logger)
	case BackendCodex, BackendCodexOAuth:
		return NewCodexClient(model, opts, logger)
	default:
		return nil, fmt.Errorf("unknown LLM backend: %q", model.Backend)
	}
}
