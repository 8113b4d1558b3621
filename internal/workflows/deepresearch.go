package workflows

import (
	"context"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/compaction"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/search"
	"github.com/meridian-lab/fathom/internal/streaming"
)

// RunDeepResearch executes the optional follow-up pass over the gaps
// the analysis flagged: a second search over the follow-up terms, new
// results merged into the finding set, and a focused report written
// into the session. Only a session the analysis actually parked at
// DeepResearch may run it.
func (c *Controller) RunDeepResearch(ctx context.Context, id string) (*models.ResearchSession, error) {
	ctx, sess, release, err := c.beginStageOp(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireStage(sess, models.StageDeepResearch); err != nil {
		return nil, err
	}
	if err := c.runStage(ctx, sess, models.StageDeepResearch, func(ctx context.Context) (models.Stage, error) {
		return c.deepResearch(ctx, sess)
	}); err != nil {
		return sess, err
	}
	return sess, nil
}

func (c *Controller) deepResearch(ctx context.Context, sess *models.ResearchSession) (models.Stage, error) {
	out, err := c.deps.Search.Aggregate(ctx, followUpTerms(sess))
	for _, failure := range out.ProviderErrors {
		c.publish(streaming.Event{
			SessionID: sess.ID,
			Type:      streaming.EventProviderFailed,
			Stage:     string(models.StageDeepResearch),
			Message:   failure,
		})
	}
	if err != nil {
		return "", err
	}

	before := len(sess.ResearchData.Results)
	sess.ResearchData.Results = search.Dedup(append(sess.ResearchData.Results, out.Results...))
	added := len(sess.ResearchData.Results) - before

	resp, err := c.complete(ctx, sess, "deep_research",
		"You write focused research reports that close identified knowledge gaps.",
		deepResearchPrompt(sess, compaction.CompactResults(out.Results, c.cfg.TopResults)), 0.3)
	if err != nil {
		return "", err
	}

	if sess.ResearchData.Reports == nil {
		sess.ResearchData.Reports = make(map[string]string)
	}
	sess.ResearchData.Reports["deep_research"] = compaction.CompactReport(resp.Text)
	sess.ResearchData.DeepResearchRan = true

	c.logger.Info("Deep research pass recorded",
		zap.String("session_id", sess.ID),
		zap.Int("new_results", added))
	return models.StageAgentSelection, nil
}

// followUpTerms returns the terms the follow-up pass should search:
// the analysis' follow-up terms, or its knowledge gaps when it named
// none. An empty slice falls through to the aggregator's fallbacks.
func followUpTerms(sess *models.ResearchSession) []string {
	analysis := sess.ResearchData.Analysis
	if analysis == nil {
		return nil
	}
	if len(analysis.FollowUpTerms) > 0 {
		return analysis.FollowUpTerms
	}
	return analysis.KnowledgeGaps
}
