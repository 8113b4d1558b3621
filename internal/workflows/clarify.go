package workflows

import (
	"context"
	"strings"

	"github.com/meridian-lab/fathom/internal/extractor"
	"github.com/meridian-lab/fathom/internal/models"
)

// ClarifyIntent runs the intent clarification stage: the raw query is
// turned into a refined query plus the requirements and open questions
// that steer the later stages. Unusable model output degrades to the
// raw query; only transport failure fails the stage.
func (c *Controller) ClarifyIntent(ctx context.Context, id string) (*models.ResearchSession, error) {
	ctx, sess, release, err := c.beginStageOp(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireStage(sess, models.StageIntentClarification); err != nil {
		return nil, err
	}
	if err := c.runStage(ctx, sess, models.StageIntentClarification, func(ctx context.Context) (models.Stage, error) {
		return c.clarifyIntent(ctx, sess)
	}); err != nil {
		return sess, err
	}
	return sess, nil
}

func (c *Controller) clarifyIntent(ctx context.Context, sess *models.ResearchSession) (models.Stage, error) {
	resp, err := c.complete(ctx, sess, "clarify",
		"You refine research queries into actionable research intents.",
		clarifyPrompt(sess.Query), 0.3)
	if err != nil {
		return "", err
	}

	intent := &models.ClarifiedIntent{}
	extractor.ExtractOr(c.logger, "clarified_intent", resp.Text, intent, func() {
		*intent = models.ClarifiedIntent{RefinedQuery: sess.Query}
	})
	if strings.TrimSpace(intent.RefinedQuery) == "" {
		intent.RefinedQuery = sess.Query
	}

	sess.ClarifiedIntent = intent
	return models.StageSearchPlanning, nil
}
