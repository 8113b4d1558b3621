package health

import (
	"context"
	"time"

	"github.com/meridian-lab/fathom/internal/db"
	"github.com/meridian-lab/fathom/internal/llm"
	"github.com/meridian-lab/fathom/internal/session"
)

const defaultCheckTimeout = 5 * time.Second

// latency above this marks an otherwise reachable backend as degraded
const slowBackendThreshold = 100 * time.Millisecond

// RedisChecker probes the session store backend. Sessions cannot be
// written without Redis, so this check gates readiness.
type RedisChecker struct {
	store   *session.Manager
	timeout time.Duration
}

// NewRedisChecker creates a checker over the session store. A timeout
// of zero or less uses the default.
func NewRedisChecker(store *session.Manager, timeout time.Duration) *RedisChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &RedisChecker{store: store, timeout: timeout}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return true }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Component: "redis", Critical: true}

	if w := r.store.RedisWrapper(); w != nil && w.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		return result
	}

	start := time.Now()
	err := r.store.Ping(ctx)
	latency := time.Since(start)
	result.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
	case latency > slowBackendThreshold:
		result.Status = StatusDegraded
		result.Message = "Redis responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	return result
}

// DatabaseChecker probes the archive database. Archival is optional, so
// a down database degrades the service instead of failing readiness.
type DatabaseChecker struct {
	client  *db.Client
	timeout time.Duration
}

// NewDatabaseChecker creates a checker over the archive client.
func NewDatabaseChecker(client *db.Client, timeout time.Duration) *DatabaseChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &DatabaseChecker{client: client, timeout: timeout}
}

func (d *DatabaseChecker) Name() string           { return "postgres" }
func (d *DatabaseChecker) IsCritical() bool       { return false }
func (d *DatabaseChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Component: "postgres"}

	wrapper := d.client.Wrapper()
	if wrapper != nil && wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "database circuit breaker is open"
		return result
	}

	start := time.Now()
	err := d.client.Ping(ctx)
	latency := time.Since(start)

	result.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}
	if wrapper != nil {
		stats := wrapper.Stats()
		result.Details["open_connections"] = stats.OpenConnections
		result.Details["in_use_connections"] = stats.InUse
	}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "database ping failed"
	case latency > slowBackendThreshold:
		result.Status = StatusDegraded
		result.Message = "database responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "database healthy"
	}
	return result
}

// SidecarChecker probes the model runtime's health endpoint. Model calls
// carry their own retry policy, so a down sidecar does not gate
// readiness either.
type SidecarChecker struct {
	client  *llm.Client
	timeout time.Duration
}

// NewSidecarChecker creates a checker over the model client.
func NewSidecarChecker(client *llm.Client, timeout time.Duration) *SidecarChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &SidecarChecker{client: client, timeout: timeout}
}

func (s *SidecarChecker) Name() string           { return "llm_sidecar" }
func (s *SidecarChecker) IsCritical() bool       { return false }
func (s *SidecarChecker) Timeout() time.Duration { return s.timeout }

func (s *SidecarChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Component: "llm_sidecar"}

	start := time.Now()
	err := s.client.Health(ctx)
	result.Details = map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()}

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "model sidecar unreachable"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "model sidecar healthy"
	return result
}
