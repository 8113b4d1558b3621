package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe endpoints.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHTTPHandler creates a handler over the health manager.
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the probe endpoints on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)
	mux.HandleFunc("GET /health/detailed", h.handleDetailed)
}

// handleHealth reports overall status without per-component detail.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := h.manager.Check(r.Context())
	rep.Components = nil
	h.write(w, statusCode(rep), rep)
}

// handleDetailed reports overall status plus every component result.
func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	rep := h.manager.Check(r.Context())
	h.write(w, statusCode(rep), rep)
}

// handleReady is the readiness probe: 200 only when every critical
// dependency is reachable.
func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := h.manager.IsReady(r.Context())
	code := http.StatusOK
	status := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		status = "not ready"
	}
	h.write(w, code, map[string]interface{}{
		"status":    status,
		"ready":     ready,
		"timestamp": time.Now().Unix(),
	})
}

func statusCode(rep Report) int {
	switch rep.Status {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *HTTPHandler) write(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
