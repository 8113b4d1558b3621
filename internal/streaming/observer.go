package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-lab/fathom/internal/resilience"
)

// RetryObserver bridges executor retry notifications onto the event stream.
// Events are attributed to the session carried in the call scope; calls made
// outside any session (startup probes, health checks) produce no events.
type RetryObserver struct {
	Events *Manager
}

var _ resilience.Observer = (*RetryObserver)(nil)

// OnAttempt publishes a RETRY_ATTEMPT event for second and later attempts.
// The first attempt is the normal path, not a retry.
func (o *RetryObserver) OnAttempt(ctx context.Context, label string, attempt int, delay time.Duration) {
	if attempt <= 1 {
		return
	}
	sessionID := resilience.CallScope(ctx)
	if sessionID == "" || o.Events == nil {
		return
	}
	o.Events.Publish(Event{
		SessionID: sessionID,
		Type:      EventRetryAttempt,
		Message:   fmt.Sprintf("%s: attempt %d after %s backoff", label, attempt, delay),
	})
}

func (o *RetryObserver) OnFailure(ctx context.Context, label string, attempt int, err error) {}

func (o *RetryObserver) OnOutcome(ctx context.Context, label string, attempts int, err error) {}
