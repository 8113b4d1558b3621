package httpapi

import (
	"net/http"
)

// handleDialogueRound runs one debate round and returns the new turns
// alongside the updated session.
func (s *Server) handleDialogueRound(w http.ResponseWriter, r *http.Request) {
	sess, turns, err := s.controller.RunDialogueRound(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.sendOpError(w, sess, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"turns":   turns,
	})
}

// handleEvaluateDialogue judges the debate so far and reports the
// verdict together with the alignment check that preceded it.
func (s *Server) handleEvaluateDialogue(w http.ResponseWriter, r *http.Request) {
	sess, eval, alignment, err := s.controller.EvaluateDialogue(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.sendOpError(w, sess, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"session":    sess,
		"evaluation": eval,
		"alignment":  alignment,
	})
}
