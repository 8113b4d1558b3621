package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/streaming"
)

// ErrNoDialogue rejects an evaluation before any round has run.
var ErrNoDialogue = errors.New("no completed dialogue round to evaluate")

// RunDialogueRound executes the next debate round: both agents argue
// concurrently and their turns are appended to the history in fixed
// order. The session stays at Dialogue; only an evaluation moves it
// forward.
func (c *Controller) RunDialogueRound(ctx context.Context, id string) (*models.ResearchSession, []models.AgentDialogueTurn, error) {
	ctx, sess, release, err := c.beginStageOp(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if err := requireStage(sess, models.StageDialogue); err != nil {
		return nil, nil, err
	}

	var turns []models.AgentDialogueTurn
	if err := c.runStage(ctx, sess, models.StageDialogue, func(ctx context.Context) (models.Stage, error) {
		var err error
		turns, err = c.deps.Dialogue.RunRound(ctx, sess)
		if err != nil {
			return "", err
		}
		sess.DialogueHistory = append(sess.DialogueHistory, turns...)
		for _, turn := range turns {
			c.publish(streaming.Event{
				SessionID: sess.ID,
				Type:      streaming.EventAgentTurn,
				Stage:     string(models.StageDialogue),
				AgentID:   turn.AgentType,
				Message:   turn.Message,
			})
		}
		return models.StageDialogue, nil
	}); err != nil {
		return sess, nil, err
	}
	return sess, turns, nil
}

// EvaluateDialogue checks the accumulated dialogue for drift from the
// clarified intent and scores the round just completed. A conclude
// decision advances the session to Synthesis; continue holds it at
// Dialogue for another round.
func (c *Controller) EvaluateDialogue(ctx context.Context, id string) (*models.ResearchSession, *models.RoundEvaluation, *models.AlignmentCheck, error) {
	ctx, sess, release, err := c.beginStageOp(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	defer release()

	if err := requireStage(sess, models.StageDialogue); err != nil {
		return nil, nil, nil, err
	}
	if sess.CompletedRounds() == 0 {
		return nil, nil, nil, ErrNoDialogue
	}

	var (
		eval  *models.RoundEvaluation
		align *models.AlignmentCheck
	)
	if err := c.runStage(ctx, sess, models.StageDialogue, func(ctx context.Context) (models.Stage, error) {
		var err error
		eval, align, err = c.deps.Dialogue.EvaluateRound(ctx, sess)
		if err != nil {
			return "", err
		}
		sess.LastEvaluation = eval
		c.publish(streaming.Event{
			SessionID: sess.ID,
			Type:      streaming.EventRoundEvaluated,
			Stage:     string(models.StageDialogue),
			Message: fmt.Sprintf("round %d: quality %.2f, convergence %.2f, decision %s",
				sess.CompletedRounds(), eval.QualityScore, eval.Convergence, eval.Decision),
		})
		if eval.Decision == models.DecisionConclude {
			return models.StageSynthesis, nil
		}
		return models.StageDialogue, nil
	}); err != nil {
		return sess, nil, nil, err
	}
	return sess, eval, align, nil
}
