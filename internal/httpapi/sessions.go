package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/streaming"
)

type createSessionRequest struct {
	Query string `json:"query"`
}

// sessionSummary is the list-view projection of a session; the full
// envelope with results and dialogue comes from the single-session GET.
type sessionSummary struct {
	ID        string       `json:"id"`
	Query     string       `json:"query"`
	Stage     models.Stage `json:"stage"`
	Status    string       `json:"status"`
	Rounds    int          `json:"rounds"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func summarize(sess *models.ResearchSession) sessionSummary {
	return sessionSummary{
		ID:        sess.ID,
		Query:     sess.Query,
		Stage:     sess.Stage,
		Status:    sess.Status,
		Rounds:    sess.CompletedRounds(),
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.controller.CreateSession(r.Context(), req.Query)
	if err != nil {
		s.sendOpError(w, nil, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.controller.ListSessions(r.Context())
	if err != nil {
		s.sendOpError(w, nil, err)
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n < len(sessions) {
			sessions = sessions[:n]
		}
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, summarize(sess))
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.controller.GetSession(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.sendOpError(w, nil, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.DeleteSession(r.Context(), r.PathValue("sessionId")); err != nil {
		s.sendOpError(w, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFindings serves the accumulated research data without the rest
// of the session envelope.
func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	sess, err := s.controller.GetSession(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.sendOpError(w, nil, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sess.ResearchData)
}

func (s *Server) handleDialogueHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.controller.GetSession(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.sendOpError(w, nil, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"turns":          sess.DialogueHistory,
		"rounds":         sess.CompletedRounds(),
		"lastEvaluation": sess.LastEvaluation,
	})
}

// handleReport serves the synthesis result. Before synthesis has run
// the report simply does not exist yet, so the endpoint answers 404
// with the session's current position.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.controller.GetSession(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.sendOpError(w, nil, err)
		return
	}
	if sess.SynthesisResult == nil {
		s.sendJSON(w, http.StatusNotFound, errorBody{
			Message: "synthesis report not available",
			Stage:   sess.Stage,
			Status:  sess.Status,
		})
		return
	}
	s.sendJSON(w, http.StatusOK, sess.SynthesisResult)
}

// handleEvents replays buffered events newer than the since parameter.
// Clients that fell off the live stream use this to catch up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := s.events.ReplaySince(r.PathValue("sessionId"), since)
	if events == nil {
		events = []streaming.Event{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func sinceParam(r *http.Request) (uint64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid since parameter")
	}
	return n, nil
}
