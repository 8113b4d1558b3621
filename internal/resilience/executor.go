package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/metrics"
)

// Policy controls one resilient call. Construct per call site; the zero
// value means a single attempt with defaults filled in by the executor.
type Policy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
	RateLimitInterval  time.Duration
	CallTimeout        time.Duration
}

// NewPolicy builds a policy from the retry vocabulary used across the
// pipeline: maxRetries additional attempts after the first, exponential
// backoff from baseDelay.
func NewPolicy(maxRetries int, baseDelay time.Duration) Policy {
	return Policy{
		InitialInterval:    baseDelay,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    maxRetries + 1,
		RateLimitInterval:  4 * baseDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaximumAttempts <= 0 {
		p.MaximumAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.BackoffCoefficient <= 0 {
		p.BackoffCoefficient = 2.0
	}
	if p.RateLimitInterval <= 0 {
		p.RateLimitInterval = 4 * p.InitialInterval
	}
	return p
}

// Observer receives attempt-level notifications. Implementations must not
// block. The context is the operation's own, so scope attached with
// WithCallScope is visible to the observer.
type Observer interface {
	OnAttempt(ctx context.Context, label string, attempt int, delay time.Duration)
	OnFailure(ctx context.Context, label string, attempt int, err error)
	OnOutcome(ctx context.Context, label string, attempts int, err error)
}

// Executor runs operations under a retry policy. It is safe for concurrent
// use; the policy travels with each call.
type Executor struct {
	observer Observer
	logger   *zap.Logger
}

// NewExecutor creates an executor. observer may be nil.
func NewExecutor(observer Observer, logger *zap.Logger) *Executor {
	return &Executor{observer: observer, logger: logger}
}

// Do runs op under the policy. The operation is attempted up to
// MaximumAttempts times; before retry k the executor sleeps
// InitialInterval * BackoffCoefficient^(k-1), longer for rate-limit
// rejections. Terminal errors (IsNonRetryable) propagate immediately;
// exhaustion returns the last error tagged with the attempt count and
// label.
func (e *Executor) Do(ctx context.Context, label string, policy Policy, op func(context.Context) error) error {
	p := policy.withDefaults()

	var lastErr error
	delay := time.Duration(0)
	for attempt := 1; ; attempt++ {
		e.notifyAttempt(ctx, label, attempt, delay)
		metrics.RetryAttempts.WithLabelValues(label).Inc()

		lastErr = e.runOnce(ctx, p, op)
		if lastErr == nil {
			e.notifyOutcome(ctx, label, attempt, nil)
			return nil
		}
		e.notifyFailure(ctx, label, attempt, lastErr)

		if IsNonRetryable(lastErr) {
			e.notifyOutcome(ctx, label, attempt, lastErr)
			return fmt.Errorf("%s: %w", label, lastErr)
		}
		if attempt >= p.MaximumAttempts {
			break
		}

		delay = e.backoff(p, attempt, lastErr)
		if e.logger != nil {
			e.logger.Debug("retrying after failure",
				zap.String("label", label),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			e.notifyOutcome(ctx, label, attempt, ctx.Err())
			return fmt.Errorf("%s canceled after %d attempts: %w", label, attempt, ctx.Err())
		}
	}

	metrics.CallsExhausted.WithLabelValues(label).Inc()
	e.notifyOutcome(ctx, label, p.MaximumAttempts, lastErr)
	return fmt.Errorf("%s failed after %d attempts: %w", label, p.MaximumAttempts, lastErr)
}

// Execute runs a value-returning operation under policy on e. Free
// function because methods cannot carry type parameters.
func Execute[T any](ctx context.Context, e *Executor, label string, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, label, policy, func(ctx context.Context) error {
		r, err := op(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (e *Executor) runOnce(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.CallTimeout > 0 {
		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		defer cancel()
		return op(callCtx)
	}
	return op(ctx)
}

// backoff computes the sleep before retry number attempt+1. A rate-limit
// rejection forces at least RateLimitInterval or the provider-suggested
// wait, whichever is longer.
func (e *Executor) backoff(p Policy, attempt int, err error) time.Duration {
	delay := time.Duration(float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt-1)))
	if p.MaximumInterval > 0 && delay > p.MaximumInterval {
		delay = p.MaximumInterval
	}
	if suggested, limited := RateLimitDelay(err); limited {
		if delay < p.RateLimitInterval {
			delay = p.RateLimitInterval
		}
		if delay < suggested {
			delay = suggested
		}
	}
	return delay
}

func (e *Executor) notifyAttempt(ctx context.Context, label string, attempt int, delay time.Duration) {
	if e.observer != nil {
		e.observer.OnAttempt(ctx, label, attempt, delay)
	}
}

func (e *Executor) notifyFailure(ctx context.Context, label string, attempt int, err error) {
	if e.observer != nil {
		e.observer.OnFailure(ctx, label, attempt, err)
	}
}

func (e *Executor) notifyOutcome(ctx context.Context, label string, attempts int, err error) {
	if e.observer != nil {
		e.observer.OnOutcome(ctx, label, attempts, err)
	}
}
