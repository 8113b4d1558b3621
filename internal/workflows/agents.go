package workflows

import (
	"context"

	"github.com/meridian-lab/fathom/internal/models"
)

// SelectAgents configures the two debate profiles for the session.
// The operation is accepted while the session is parked at
// DeepResearch too: not running the optional pass is expressed by
// simply moving on, never by a blocked pipeline.
func (c *Controller) SelectAgents(ctx context.Context, id string) (*models.ResearchSession, error) {
	ctx, sess, release, err := c.beginStageOp(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireStage(sess, models.StageDeepResearch, models.StageAgentSelection); err != nil {
		return nil, err
	}
	if err := c.runStage(ctx, sess, models.StageAgentSelection, func(ctx context.Context) (models.Stage, error) {
		cfg, err := c.deps.Dialogue.SelectAgents(ctx, sess)
		if err != nil {
			return "", err
		}
		sess.AgentConfig = cfg
		return models.StageDialogue, nil
	}); err != nil {
		return sess, err
	}
	return sess, nil
}
