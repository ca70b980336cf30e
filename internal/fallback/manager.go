// File: internal/fallback/manager.go

// Package fallback keeps the agent talking when a model provider stops
// answering. It classifies API failures, tracks per-provider cooldowns, and
// walks an ordered chain of alternates, returning to the primary once its
// cooldown has expired.
package fallback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// Manager tracks provider health and selects the active model. Safe for
// concurrent use.
type Manager struct {
	logger *zap.Logger
	cfg    config.FallbackConfig

	mu        sync.Mutex
	primary   schemas.ModelConfig
	cooldowns map[string]time.Time
	// currentIndex is -1 on primary, otherwise an index into cfg.Models.
	currentIndex   int
	totalFailovers int

	// now is swapped in tests to step through cooldown windows.
	now func() time.Time
}

// NewManager builds a manager starting on the primary model.
func NewManager(primary schemas.ModelConfig, cfg config.FallbackConfig, logger *zap.Logger) *Manager {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Manager{
		logger:       logger.Named("fallback"),
		cfg:          cfg,
		primary:      primary,
		cooldowns:    make(map[string]time.Time),
		currentIndex: -1,
		now:          time.Now,
	}
}

// ActiveModel returns the model requests should currently go to.
func (m *Manager) ActiveModel() schemas.ModelConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() schemas.ModelConfig {
	if m.currentIndex < 0 || m.currentIndex >= len(m.cfg.Models) {
		return m.primary
	}
	return m.cfg.Models[m.currentIndex]
}

// HasFallbacks reports whether any alternate providers are configured.
func (m *Manager) HasFallbacks() bool {
	return len(m.cfg.Models) > 0
}

// ReportSuccess marks the active model healthy. The manager stays on a
// fallback after success; CheckPrimaryRecovery handles moving back.
func (m *Manager) ReportSuccess() {
	m.mu.Lock()
	active := m.activeLocked()
	m.mu.Unlock()
	m.logger.Debug("Model success", zap.String("model", active.Key()))
}

// ReportFailure puts the active model on cooldown and advances along the
// chain. It returns the next model to try and true, or false when the error
// is not failover-eligible or every provider is cooling down.
func (m *Manager) ReportFailure(err error) (schemas.ModelConfig, bool) {
	class := Classify(err)
	if !class.ShouldFailover(m.cfg) {
		m.logger.Warn("Error not eligible for failover",
			zap.String("class", class.String()), zap.Error(err))
		return schemas.ModelConfig{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.activeLocked()
	m.logger.Info("Model failed, starting cooldown",
		zap.String("model", current.Key()),
		zap.String("class", class.String()),
		zap.Duration("cooldown", m.cfg.Cooldown))
	m.cooldowns[current.Key()] = m.now()

	return m.advanceLocked()
}

// CheckPrimaryRecovery switches back to the primary once its cooldown has
// expired. Call it once per loop tick.
func (m *Manager) CheckPrimaryRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentIndex < 0 {
		return
	}
	if !m.readyLocked(m.primary.Key()) {
		return
	}
	m.logger.Info("Primary model cooldown expired, switching back",
		zap.String("model", m.primary.Key()))
	m.currentIndex = -1
	delete(m.cooldowns, m.primary.Key())
}

// StatusSummary renders a one-line provider status for logs and the status
// command.
func (m *Manager) StatusSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.activeLocked()
	if m.currentIndex < 0 {
		return active.Key() + " (primary)"
	}
	return active.Key() + " (fallback)"
}

// advanceLocked walks the chain from the slot after the current one,
// skipping providers still cooling down, then offers the primary a retry if
// its own cooldown has lapsed.
func (m *Manager) advanceLocked() (schemas.ModelConfig, bool) {
	start := 0
	if m.currentIndex >= 0 {
		start = m.currentIndex + 1
	}

	for i := start; i < len(m.cfg.Models); i++ {
		candidate := m.cfg.Models[i]
		if !m.readyLocked(candidate.Key()) {
			m.logger.Debug("Provider still cooling down, skipping",
				zap.String("model", candidate.Key()))
			continue
		}
		m.currentIndex = i
		m.totalFailovers++
		m.logger.Info("Failing over",
			zap.String("model", candidate.Key()),
			zap.Int("chain_position", i+1),
			zap.Int("total_failovers", m.totalFailovers))
		return candidate, true
	}

	if m.currentIndex >= 0 && m.readyLocked(m.primary.Key()) {
		m.currentIndex = -1
		m.logger.Info("Chain exhausted, retrying primary",
			zap.String("model", m.primary.Key()))
		return m.primary, true
	}

	m.logger.Error("All providers exhausted or cooling down",
		zap.Int("fallbacks", len(m.cfg.Models)))
	return schemas.ModelConfig{}, false
}

func (m *Manager) readyLocked(key string) bool {
	started, found := m.cooldowns[key]
	if !found {
		return true
	}
	return m.now().Sub(started) >= m.cfg.Cooldown
}
