// Package health aggregates component probes into the liveness and
// readiness signals served by the HTTP surface.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus classifies a component probe outcome.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status by name rather than as the raw enum.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult is the outcome of one component probe.
type CheckResult struct {
	Component string                 `json:"component"`
	Status    CheckStatus            `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Critical  bool                   `json:"critical"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// IsCritical marks checks whose failure makes the service not ready.
	IsCritical() bool
	Timeout() time.Duration
}

// Report aggregates one probe sweep across all registered checkers.
type Report struct {
	Status     CheckStatus            `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Ready      bool                   `json:"ready"`
	Live       bool                   `json:"live"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Manager runs registered checkers on demand for the probe endpoints and
// sweeps them in the background so component state changes show up in the
// logs between probes.
type Manager struct {
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckStatus
	started  bool
	stopCh   chan struct{}
}

// NewManager creates a health manager sweeping at the given interval.
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		interval: interval,
		logger:   logger,
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckStatus),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c

	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()))
	return nil
}

// Check probes every registered checker and aggregates the results.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		components[c.Name()] = m.runCheck(ctx, c)
	}
	return aggregate(components)
}

// IsReady reports whether every critical dependency is reachable.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Check(ctx).Ready
}

func (m *Manager) runCheck(ctx context.Context, c Checker) CheckResult {
	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := c.Check(checkCtx)
	result.Component = c.Name()
	result.Critical = c.IsCritical()
	result.Duration = time.Since(start)
	return result
}

// aggregate folds component results into the overall report. Critical
// failures take readiness away; anything less leaves the service ready
// but flagged degraded. The process answering at all means it is live.
func aggregate(components map[string]CheckResult) Report {
	rep := Report{
		Components: components,
		Timestamp:  time.Now().UTC(),
		Live:       true,
	}
	if len(components) == 0 {
		rep.Status = StatusUnknown
		rep.Message = "no health checks registered"
		return rep
	}

	criticalFailures := 0
	softFailures := 0
	degraded := 0
	for _, r := range components {
		switch r.Status {
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			if r.Critical {
				criticalFailures++
			} else {
				softFailures++
			}
		}
	}

	switch {
	case criticalFailures > 0:
		rep.Status = StatusUnhealthy
		rep.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
	case degraded > 0 || softFailures > 0:
		rep.Status = StatusDegraded
		rep.Message = fmt.Sprintf("%d component(s) degraded", degraded+softFailures)
		rep.Ready = true
	default:
		rep.Status = StatusHealthy
		rep.Message = fmt.Sprintf("all %d components healthy", len(components))
		rep.Ready = true
	}
	return rep
}

// Start launches the background sweep. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.loop()

	m.logger.Info("Health manager started",
		zap.Duration("interval", m.interval),
		zap.Int("checkers", len(m.checkers)))
}

// Stop halts the background sweep.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
}

func (m *Manager) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep probes everything once and logs components whose status changed
// since the previous sweep.
func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	rep := m.Check(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, r := range rep.Components {
		prev, seen := m.last[name]
		if seen && prev != r.Status {
			if r.Status == StatusHealthy {
				m.logger.Info("Component recovered", zap.String("component", name))
			} else {
				m.logger.Warn("component state changed",
					zap.String("component", name),
					zap.String("from", prev.String()),
					zap.String("to", r.Status.String()),
					zap.String("error", r.Error))
			}
		}
		m.last[name] = r.Status
	}
}

// FuncChecker adapts a bare function into a Checker.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

// NewFuncChecker wraps fn as a named checker.
func NewFuncChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, timeout: timeout, fn: fn}
}

func (f *FuncChecker) Name() string                          { return f.name }
func (f *FuncChecker) IsCritical() bool                      { return f.critical }
func (f *FuncChecker) Timeout() time.Duration                { return f.timeout }
func (f *FuncChecker) Check(ctx context.Context) CheckResult { return f.fn(ctx) }
