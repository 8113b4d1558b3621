// Package streaming provides in-memory pub/sub of research progress events
// with a per-session replay ring for reconnecting clients.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/meridian-lab/fathom/internal/metrics"
)

// Event types published over the research lifecycle.
const (
	EventStageStarted     = "STAGE_STARTED"
	EventStageCompleted   = "STAGE_COMPLETED"
	EventStageFailed      = "STAGE_FAILED"
	EventRetryAttempt     = "RETRY_ATTEMPT"
	EventProviderFailed   = "PROVIDER_FAILED"
	EventAgentTurn        = "AGENT_TURN"
	EventRoundEvaluated   = "ROUND_EVALUATED"
	EventSessionCompleted = "SESSION_COMPLETED"
)

// Event is one progress notification. Seq is assigned at publish time and is
// strictly increasing per session, starting at 1.
type Event struct {
	SessionID string    `json:"sessionId"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Message   string    `json:"message,omitempty"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal returns the event as JSON for transport or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Config holds stream tuning. Zero values get defaults.
type Config struct {
	RingSize         int // replay buffer capacity per session
	SubscriberBuffer int // channel buffer per subscriber
}

func withDefaults(c Config) Config {
	if c.RingSize <= 0 {
		c.RingSize = 256
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	return c
}

// Manager fans events out to session subscribers. Publishing never blocks:
// a subscriber that cannot keep up loses events, and reconnecting with
// ReplaySince is the recovery path.
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
}

// NewManager creates an event manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:         withDefaults(cfg),
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
	}
}

// Subscribe registers a subscriber for the session's events. The caller must
// drain the channel and call Unsubscribe when done.
func (m *Manager) Subscribe(sessionID string) chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeLocked(sessionID)
}

// SubscribeSince atomically replays buffered events newer than since and
// registers for live delivery, so no event between replay and subscription
// can be missed.
func (m *Manager) SubscribeSince(sessionID string, since uint64) ([]Event, chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var replay []Event
	if rg := m.history[sessionID]; rg != nil {
		replay = rg.since(since)
	}
	return replay, m.subscribeLocked(sessionID)
}

func (m *Manager) subscribeLocked(sessionID string) chan Event {
	ch := make(chan Event, m.cfg.SubscriberBuffer)
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, member := subs[ch]; !member {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish assigns a sequence number, buffers the event for replay, and
// delivers it to current subscribers without blocking.
func (m *Manager) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	rg := m.history[evt.SessionID]
	if rg == nil {
		rg = newRing(m.cfg.RingSize)
		m.history[evt.SessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)

	// Delivery happens under the lock so Unsubscribe cannot close a channel
	// mid-send. Sends never block, so the hold time stays bounded.
	for ch := range m.subscribers[evt.SessionID] {
		select {
		case ch <- evt:
		default:
			metrics.EventsDropped.Inc()
		}
	}
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
}

// ReplaySince returns buffered events with Seq > since, oldest first.
// Best-effort within ring capacity.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[sessionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the session's replay buffer. Called when a session is
// deleted so the history map cannot grow without bound.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
}

// ring is a fixed-capacity event buffer.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity), nextSeq: 1}
}

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
