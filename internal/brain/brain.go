// File: internal/brain/brain.go

// Package brain turns screen state into decisions. It owns prompt assembly,
// the provider call with automatic fallback, and the repair pipeline that
// normalizes whatever text the model produced into a structured response.
package brain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
	"github.com/xkilldash9x/droidpilot-cli/internal/fallback"
	"github.com/xkilldash9x/droidpilot-cli/internal/llmclient"
)

// clientFactory builds a provider client for a model. Swapped in tests.
type clientFactory func(model schemas.ModelConfig, opts llmclient.Options, logger *zap.Logger) (schemas.LLMClient, error)

// Brain coordinates model selection, generation, and response parsing.
type Brain struct {
	cfg      config.BrainConfig
	logger   *zap.Logger
	fallback *fallback.Manager

	newClient clientFactory

	// clients caches one provider client per backend/model key so token
	// caches and HTTP pools survive across ticks.
	clientMu sync.Mutex
	clients  map[string]schemas.LLMClient
}

// New builds a Brain with a fallback manager over the configured chain.
func New(cfg config.BrainConfig, logger *zap.Logger) *Brain {
	log := logger.Named("brain")
	primary := cfg.ModelConfig

	if len(cfg.Fallback.Models) > 0 {
		log.Info("Model fallback configured",
			zap.Int("fallbacks", len(cfg.Fallback.Models)))
	}

	return &Brain{
		cfg:       cfg,
		logger:    log,
		fallback:  fallback.NewManager(primary, cfg.Fallback, logger),
		newClient: llmclient.NewClient,
		clients:   make(map[string]schemas.LLMClient),
	}
}

// ModelName returns the configured primary model identifier.
func (b *Brain) ModelName() string {
	return b.cfg.Model
}

// StatusSummary reports which provider is live.
func (b *Brain) StatusSummary() string {
	return b.fallback.StatusSummary()
}

// CheckPrimaryRecovery gives the primary provider a chance to come back.
// The loop calls it once per tick.
func (b *Brain) CheckPrimaryRecovery() {
	b.fallback.CheckPrimaryRecovery()
}

// Think sends the prompts to the active provider and returns the raw
// response text, walking the fallback chain on eligible failures.
func (b *Brain) Think(ctx context.Context, systemPrompt, userPrompt, imageBase64 string) (string, error) {
	model := b.fallback.ActiveModel()

	for {
		raw, err := b.generate(ctx, model, systemPrompt, userPrompt, imageBase64)
		if err == nil {
			b.fallback.ReportSuccess()
			return raw, nil
		}
		if ctx.Err() != nil {
			return "", err
		}

		next, ok := b.fallback.ReportFailure(err)
		if !ok {
			return "", err
		}
		b.logger.Warn("Model failed, trying fallback",
			zap.String("failed", model.Key()),
			zap.String("next", next.Key()),
			zap.Error(err))
		model = next
	}
}

// ThinkAndParse is the common tick path: generate, then normalize.
func (b *Brain) ThinkAndParse(ctx context.Context, systemPrompt, userPrompt, imageBase64 string) (schemas.AgentResponse, error) {
	raw, err := b.Think(ctx, systemPrompt, userPrompt, imageBase64)
	if err != nil {
		return schemas.AgentResponse{}, err
	}
	return b.Parse(raw), nil
}

func (b *Brain) generate(ctx context.Context, model schemas.ModelConfig, systemPrompt, userPrompt, imageBase64 string) (string, error) {
	client, err := b.clientFor(model)
	if err != nil {
		return "", err
	}
	return client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt:   systemPrompt,
		UserPrompt:     userPrompt,
		ImagePNGBase64: imageBase64,
		MaxTokens:      b.cfg.MaxTokens,
		Temperature:    b.cfg.Temperature,
	})
}

func (b *Brain) clientFor(model schemas.ModelConfig) (schemas.LLMClient, error) {
	b.clientMu.Lock()
	defer b.clientMu.Unlock()

	if client, ok := b.clients[model.Key()]; ok {
		return client, nil
	}
	client, err := b.newClient(model, llmclient.Options{
		Timeout:  b.cfg.APITimeout,
		AuthFile: b.cfg.AuthFile,
	}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build client for %s: %w", model.Key(), err)
	}
	b.clients[model.Key()] = client
	return client, nil
}
