// Package ratecontrol enforces the process-wide per-provider call budget.
// Budgets are requests-per-minute, loaded from a YAML file with built-in
// fallbacks, and shared across all sessions.
package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/fathom/internal/metrics"
)

type fileConfig struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		ProviderOverrides map[string]struct {
			RPM int `yaml:"rpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

// Budgets for providers with no file entry. The zero provider name keys
// the default.
var builtInProviderLimits = map[string]int{
	"arxiv":  20,
	"web":    60,
	"social": 30,
	"llm":    30,
}

const builtInDefaultRPM = 45

// Manager hands out call slots per provider. One Manager is shared by the
// whole process; Acquire blocks until the provider's budget allows the
// call or ctx is done.
type Manager struct {
	mu         sync.Mutex
	defaultRPM int
	rpm        map[string]int
	limiters   map[string]*rate.Limiter
	logger     *zap.Logger
}

// NewManager creates a manager seeded from the YAML file at path. A
// missing or unreadable file leaves the built-in budgets in place.
func NewManager(path string, logger *zap.Logger) *Manager {
	m := &Manager{
		defaultRPM: builtInDefaultRPM,
		rpm:        make(map[string]int),
		limiters:   make(map[string]*rate.Limiter),
		logger:     logger,
	}
	for provider, rpm := range builtInProviderLimits {
		m.rpm[provider] = rpm
	}
	if path != "" {
		if err := m.Reload(path); err != nil {
			logger.Warn("rate limit config not loaded, using built-in budgets",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	return m
}

// Reload re-reads the YAML file and swaps limiter rates in place. Matches
// the config watcher's handler signature so edits apply without restart.
func (m *Manager) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rate limit config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("unmarshal rate limit config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.RateLimits.DefaultRPM > 0 {
		m.defaultRPM = cfg.RateLimits.DefaultRPM
	}
	for provider, override := range cfg.RateLimits.ProviderOverrides {
		if override.RPM > 0 {
			m.rpm[normalize(provider)] = override.RPM
		}
	}
	for provider, limiter := range m.limiters {
		limiter.SetLimit(perMinute(m.rpmForLocked(provider)))
	}

	m.logger.Info("Rate limit configuration loaded",
		zap.String("path", path),
		zap.Int("default_rpm", m.defaultRPM),
		zap.Int("providers", len(cfg.RateLimits.ProviderOverrides)),
	)
	return nil
}

// RPMFor returns the configured requests-per-minute budget for provider.
func (m *Manager) RPMFor(provider string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpmForLocked(normalize(provider))
}

// Acquire blocks until provider's budget allows one call. Waits are
// observable via the budget wait counter.
func (m *Manager) Acquire(ctx context.Context, provider string) error {
	limiter := m.limiterFor(normalize(provider))

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return fmt.Errorf("budget for %s cannot satisfy request", provider)
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	metrics.BudgetWaits.WithLabelValues(provider).Inc()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

func (m *Manager) limiterFor(provider string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, ok := m.limiters[provider]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(perMinute(m.rpmForLocked(provider)), 1)
	m.limiters[provider] = limiter
	return limiter
}

func (m *Manager) rpmForLocked(provider string) int {
	if rpm, ok := m.rpm[provider]; ok && rpm > 0 {
		return rpm
	}
	return m.defaultRPM
}

func perMinute(rpm int) rate.Limit {
	if rpm <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(rpm))
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
