// Package httpapi exposes the research pipeline over HTTP: session
// CRUD, one endpoint per pipeline operation, read models for findings
// and reports, and the live event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/config"
	"github.com/meridian-lab/fathom/internal/health"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/session"
	"github.com/meridian-lab/fathom/internal/streaming"
	"github.com/meridian-lab/fathom/internal/workflows"
)

// Server wires the stage controller and its read models into one
// handler tree.
type Server struct {
	controller *workflows.Controller
	events     *streaming.Manager
	health     *health.HTTPHandler
	logger     *zap.Logger
}

// NewServer creates the API server. The health handler may be nil when
// no probe endpoints are wanted, as in tests.
func NewServer(controller *workflows.Controller, events *streaming.Manager, healthHandler *health.HTTPHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		controller: controller,
		events:     events,
		health:     healthHandler,
		logger:     logger,
	}
}

// Routes returns the assembled handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{sessionId}", s.handleDeleteSession)

	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/clarify-intent", s.stageHandler(s.controller.ClarifyIntent))
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/start-research", s.stageHandler(s.controller.StartResearch))
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/deep-research", s.stageHandler(s.controller.RunDeepResearch))
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/select-agents", s.stageHandler(s.controller.SelectAgents))
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/agent-dialogue", s.handleDialogueRound)
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/evaluate-dialogue", s.handleEvaluateDialogue)
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/synthesize", s.stageHandler(s.controller.Synthesize))

	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/findings", s.handleFindings)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/dialogue", s.handleDialogueHistory)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/report", s.handleReport)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/stream", s.handleStream)

	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.RegisterRoutes(mux)
	}

	return s.logRequests(allowCORS(s.recoverPanics(mux)))
}

// NewHTTPServer assembles the standard library server around the route
// tree with the service timeouts from cfg. WriteTimeout defaults to
// zero because the stream endpoint holds its connection open.
func NewHTTPServer(cfg config.ServiceConfig, s *Server) *http.Server {
	return &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        s.Routes(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
}

// stageHandler adapts a controller operation with the common
// session-plus-error shape into an endpoint.
func (s *Server) stageHandler(op func(ctx context.Context, id string) (*models.ResearchSession, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := op(r.Context(), r.PathValue("sessionId"))
		if err != nil {
			s.sendOpError(w, sess, err)
			return
		}
		s.sendJSON(w, http.StatusOK, sess)
	}
}

// errorBody is the error envelope. Stage failures carry the session's
// position so clients can see where the pipeline stopped.
type errorBody struct {
	Message string       `json:"message"`
	Stage   models.Stage `json:"stage,omitempty"`
	Status  string       `json:"status,omitempty"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, errorBody{Message: message})
}

// sendOpError maps failures from session lookups and stage operations
// onto status codes: unknown session 404, wrong stage or stale version
// 409, bad input 400. Anything else is a stage or store failure and
// reports 500 together with the session's position when known.
func (s *Server) sendOpError(w http.ResponseWriter, sess *models.ResearchSession, err error) {
	var stageErr *workflows.StageError
	switch {
	case errors.As(err, &stageErr):
		s.sendJSON(w, http.StatusConflict, errorBody{Message: stageErr.Error(), Stage: stageErr.Current})
	case errors.Is(err, workflows.ErrEmptyQuery):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflows.ErrNoDialogue):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		s.sendError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrSessionConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		body := errorBody{Message: err.Error()}
		if sess != nil {
			body.Stage = sess.Stage
			body.Status = sess.Status
		}
		s.logger.Error("Operation failed", zap.Error(err))
		s.sendJSON(w, http.StatusInternalServerError, body)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}
