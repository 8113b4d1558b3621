// Package workflows drives the research pipeline state machine. The
// controller owns stage sequencing: every stage operation locks its
// session, verifies the session is at the stage the operation serves,
// runs the stage, and persists the advanced session before returning.
// Operations for the same session never overlap; different sessions
// proceed independently.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/db"
	"github.com/meridian-lab/fathom/internal/dialogue"
	"github.com/meridian-lab/fathom/internal/llm"
	"github.com/meridian-lab/fathom/internal/metrics"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/resilience"
	"github.com/meridian-lab/fathom/internal/search"
	"github.com/meridian-lab/fathom/internal/session"
	"github.com/meridian-lab/fathom/internal/streaming"
	"github.com/meridian-lab/fathom/internal/tracing"
)

// ErrEmptyQuery rejects session creation without a research query.
var ErrEmptyQuery = errors.New("query must not be empty")

// StageError reports an operation invoked while the session is at the
// wrong stage. The HTTP layer maps it to a conflict response.
type StageError struct {
	SessionID string
	Current   models.Stage
	Required  []models.Stage
}

func (e *StageError) Error() string {
	required := make([]string, 0, len(e.Required))
	for _, s := range e.Required {
		required = append(required, string(s))
	}
	return fmt.Sprintf("session %s is at stage %s; operation requires stage %s",
		e.SessionID, e.Current, strings.Join(required, " or "))
}

// Config carries the pipeline knobs the controller applies itself.
// Everything stage-specific lives with the stage's own component.
type Config struct {
	// TopResults bounds how many findings are re-embedded into prompts.
	TopResults int
	// Retry governs the controller's own model calls.
	Retry resilience.Policy
}

// ArchiveQueue is the slice of db.Client the controller uses to queue
// completed sessions for archival.
type ArchiveQueue interface {
	QueueWrite(writeType db.WriteType, data interface{}, callback func(error))
}

// Dependencies wires the controller to the rest of the service. Archive
// may be nil; completed sessions then live only in the session store.
type Dependencies struct {
	Sessions *session.Manager
	Search   *search.Aggregator
	LLM      llm.Completer
	Dialogue *dialogue.Engine
	Events   *streaming.Manager
	Archive  ArchiveQueue
	Executor *resilience.Executor
	Logger   *zap.Logger
}

// Controller sequences the research pipeline for every session.
type Controller struct {
	cfg    Config
	deps   Dependencies
	locks  *sessionLocks
	logger *zap.Logger
}

// NewController builds a controller. TopResults defaults to 10.
func NewController(cfg Config, deps Dependencies) *Controller {
	if cfg.TopResults <= 0 {
		cfg.TopResults = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		locks:  newSessionLocks(),
		logger: logger,
	}
}

// CreateSession opens a new research session for the query.
func (c *Controller) CreateSession(ctx context.Context, query string) (*models.ResearchSession, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	return c.deps.Sessions.Create(ctx, query)
}

// GetSession loads one session.
func (c *Controller) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	return c.deps.Sessions.Get(ctx, id)
}

// ListSessions returns all live sessions, newest first.
func (c *Controller) ListSessions(ctx context.Context) ([]*models.ResearchSession, error) {
	return c.deps.Sessions.List(ctx)
}

// DeleteSession removes a session and its event history. Deletion waits
// for any in-flight stage operation on the session to finish.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	release := c.locks.Acquire(id)
	defer release()

	if err := c.deps.Sessions.Delete(ctx, id); err != nil {
		return err
	}
	c.deps.Events.Forget(id)
	return nil
}

// beginStageOp locks the session, tags the context for retry event
// attribution, and loads the current state. The caller must invoke the
// returned release function.
func (c *Controller) beginStageOp(ctx context.Context, id string) (context.Context, *models.ResearchSession, func(), error) {
	release := c.locks.Acquire(id)
	ctx = resilience.WithCallScope(ctx, id)

	sess, err := c.deps.Sessions.Get(ctx, id)
	if err != nil {
		release()
		return ctx, nil, nil, err
	}
	return ctx, sess, release, nil
}

// requireStage gates an operation on the session's current stage.
func requireStage(sess *models.ResearchSession, allowed ...models.Stage) error {
	for _, s := range allowed {
		if sess.Stage == s {
			return nil
		}
	}
	return &StageError{SessionID: sess.ID, Current: sess.Stage, Required: allowed}
}

// runStage executes one stage under a span, publishes lifecycle events,
// and persists the outcome. fn mutates the session and returns the
// stage to advance to; returning the current stage is the hold pattern
// used by dialogue rounds. On failure the session is marked failed with
// the error recorded, already-written stage data untouched.
func (c *Controller) runStage(ctx context.Context, sess *models.ResearchSession, stage models.Stage, fn func(ctx context.Context) (models.Stage, error)) error {
	ctx, span := tracing.StartStageSpan(ctx, string(stage), sess.ID)
	defer span.End()

	// A retried stage sheds the failure marks from the previous attempt.
	if sess.Status == models.StatusFailed {
		sess.Status = models.StatusActive
		sess.LastError = ""
	}

	c.publish(streaming.Event{SessionID: sess.ID, Type: streaming.EventStageStarted, Stage: string(stage)})
	metrics.StagesStarted.WithLabelValues(string(stage)).Inc()
	c.logger.Info("Stage started",
		zap.String("session_id", sess.ID),
		zap.String("stage", string(stage)))
	start := time.Now()

	next, err := fn(ctx)
	if err == nil && !stage.CanTransitionTo(next) {
		err = fmt.Errorf("illegal transition %s -> %s", stage, next)
	}
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		sess.Status = models.StatusFailed
		sess.LastError = err.Error()
		if saveErr := c.deps.Sessions.Update(ctx, sess); saveErr != nil {
			c.logger.Error("Persisting failed session state",
				zap.String("session_id", sess.ID),
				zap.Error(saveErr))
		}
		c.publish(streaming.Event{SessionID: sess.ID, Type: streaming.EventStageFailed, Stage: string(stage), Message: err.Error()})
		metrics.StagesCompleted.WithLabelValues(string(stage), "failed").Inc()
		c.logger.Error("Stage failed",
			zap.String("session_id", sess.ID),
			zap.String("stage", string(stage)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	sess.Stage = next
	if err := c.deps.Sessions.Update(ctx, sess); err != nil {
		metrics.StagesCompleted.WithLabelValues(string(stage), "failed").Inc()
		return fmt.Errorf("persisting session after %s: %w", stage, err)
	}
	c.publish(streaming.Event{SessionID: sess.ID, Type: streaming.EventStageCompleted, Stage: string(stage)})
	metrics.StagesCompleted.WithLabelValues(string(stage), "success").Inc()
	c.logger.Info("Stage completed",
		zap.String("session_id", sess.ID),
		zap.String("stage", string(stage)),
		zap.String("next_stage", string(next)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Controller) publish(event streaming.Event) {
	if c.deps.Events != nil {
		c.deps.Events.Publish(event)
	}
}

// complete runs one model call under the controller's retry policy.
func (c *Controller) complete(ctx context.Context, sess *models.ResearchSession, purpose, system, prompt string, temperature float64) (*llm.CompletionResponse, error) {
	return resilience.Execute(ctx, c.deps.Executor, "llm."+purpose, c.cfg.Retry, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return c.deps.LLM.Complete(ctx, llm.CompletionRequest{
			Prompt:       prompt,
			SystemPrompt: system,
			Temperature:  temperature,
			Purpose:      purpose,
			SessionID:    sess.ID,
		})
	})
}

// topic returns the refined query once clarification has run, the raw
// query before that.
func topic(sess *models.ResearchSession) string {
	if sess.ClarifiedIntent != nil && sess.ClarifiedIntent.RefinedQuery != "" {
		return sess.ClarifiedIntent.RefinedQuery
	}
	return sess.Query
}
