package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/fathom/internal/streaming"
)

func streamURL(base, sessionID, query string) string {
	url := "ws" + strings.TrimPrefix(base, "http") + "/api/v1/sessions/" + sessionID + "/stream"
	if query != "" {
		url += "?" + query
	}
	return url
}

func dialStream(t *testing.T, base, sessionID, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(streamURL(base, sessionID, query), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) streaming.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt streaming.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestStreamReplaysBacklogThenDeliversLive(t *testing.T) {
	rig := newAPIRig(t)
	srv := httptest.NewServer(rig.handler)
	t.Cleanup(srv.Close)

	rig.events.Publish(streaming.Event{SessionID: "sess-ws", Type: streaming.EventStageStarted, Stage: "intent_clarification"})
	rig.events.Publish(streaming.Event{SessionID: "sess-ws", Type: streaming.EventStageCompleted, Stage: "intent_clarification"})

	conn := dialStream(t, srv.URL, "sess-ws", "")

	first := readEvent(t, conn)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, streaming.EventStageStarted, first.Type)
	assert.Equal(t, "sess-ws", first.SessionID)

	second := readEvent(t, conn)
	assert.Equal(t, uint64(2), second.Seq)

	rig.events.Publish(streaming.Event{SessionID: "sess-ws", Type: streaming.EventSessionCompleted})

	third := readEvent(t, conn)
	assert.Equal(t, uint64(3), third.Seq)
	assert.Equal(t, streaming.EventSessionCompleted, third.Type)
}

func TestStreamSinceSkipsAcknowledgedEvents(t *testing.T) {
	rig := newAPIRig(t)
	srv := httptest.NewServer(rig.handler)
	t.Cleanup(srv.Close)

	rig.events.Publish(streaming.Event{SessionID: "sess-ws", Type: streaming.EventStageStarted})
	rig.events.Publish(streaming.Event{SessionID: "sess-ws", Type: streaming.EventStageCompleted})

	conn := dialStream(t, srv.URL, "sess-ws", "since=2")
	rig.events.Publish(streaming.Event{SessionID: "sess-ws", Type: streaming.EventSessionCompleted})

	evt := readEvent(t, conn)
	assert.Equal(t, uint64(3), evt.Seq)
}

func TestStreamIsolatesSessions(t *testing.T) {
	rig := newAPIRig(t)
	srv := httptest.NewServer(rig.handler)
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv.URL, "sess-a", "")

	rig.events.Publish(streaming.Event{SessionID: "sess-b", Type: streaming.EventStageStarted})
	rig.events.Publish(streaming.Event{SessionID: "sess-a", Type: streaming.EventSessionCompleted})

	evt := readEvent(t, conn)
	assert.Equal(t, "sess-a", evt.SessionID)
	assert.Equal(t, uint64(1), evt.Seq)
}

func TestStreamRejectsBadSinceBeforeUpgrade(t *testing.T) {
	rig := newAPIRig(t)
	srv := httptest.NewServer(rig.handler)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(streamURL(srv.URL, "sess-ws", "since=frog"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
