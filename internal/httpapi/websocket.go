package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/streaming"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from the research UI's origin.
		return true
	},
}

// handleStream upgrades to a websocket and pushes the session's events
// as they happen. A since parameter replays the buffered backlog first;
// replay and subscription are atomic, so nothing published in between
// is lost.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	since, err := sinceParam(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	backlog, ch := s.events.SubscribeSince(sessionID, since)
	defer s.events.Unsubscribe(sessionID, ch)

	s.logger.Debug("Stream client connected",
		zap.String("session_id", sessionID),
		zap.Uint64("since", since),
		zap.Int("backlog", len(backlog)))

	for _, evt := range backlog {
		if err := writeEvent(conn, evt); err != nil {
			return
		}
	}

	// Reader pump: the client sends nothing we act on, but reading
	// surfaces disconnects and feeds the pong handler.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(conn, evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, evt streaming.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt)
}
