package workflows

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/compaction"
	"github.com/meridian-lab/fathom/internal/extractor"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/streaming"
)

// StartResearch runs the automated research band: search planning,
// parallel search, fact extraction, and analysis, persisting the
// session between stages. A session that failed mid-band resumes at
// the failed stage rather than starting over. The band ends at
// AgentSelection when the analysis finds the evidence sufficient,
// at DeepResearch otherwise.
func (c *Controller) StartResearch(ctx context.Context, id string) (*models.ResearchSession, error) {
	ctx, sess, release, err := c.beginStageOp(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireStage(sess,
		models.StageSearchPlanning,
		models.StageParallelSearch,
		models.StageFactExtraction,
		models.StageAnalysis,
	); err != nil {
		return nil, err
	}

	for {
		var err error
		switch sess.Stage {
		case models.StageSearchPlanning:
			err = c.runStage(ctx, sess, models.StageSearchPlanning, func(ctx context.Context) (models.Stage, error) {
				return c.planSearches(ctx, sess)
			})
		case models.StageParallelSearch:
			err = c.runStage(ctx, sess, models.StageParallelSearch, func(ctx context.Context) (models.Stage, error) {
				return c.runSearches(ctx, sess)
			})
		case models.StageFactExtraction:
			err = c.runStage(ctx, sess, models.StageFactExtraction, func(ctx context.Context) (models.Stage, error) {
				return c.extractFacts(ctx, sess)
			})
		case models.StageAnalysis:
			err = c.runStage(ctx, sess, models.StageAnalysis, func(ctx context.Context) (models.Stage, error) {
				return c.analyze(ctx, sess)
			})
		default:
			return sess, nil
		}
		if err != nil {
			return sess, err
		}
	}
}

// planSearches derives the search terms from the clarified intent.
func (c *Controller) planSearches(ctx context.Context, sess *models.ResearchSession) (models.Stage, error) {
	resp, err := c.complete(ctx, sess, "search_planning",
		"You plan search strategies for research questions.",
		planPrompt(sess), 0.4)
	if err != nil {
		return "", err
	}

	plan := &models.SearchPlan{}
	extractor.ExtractOr(c.logger, "search_plan", resp.Text, plan, func() {
		*plan = models.SearchPlan{SurfaceTerms: []string{topic(sess)}}
	})
	if len(plan.AllTerms()) == 0 {
		plan.SurfaceTerms = []string{topic(sess)}
	}

	sess.ResearchData.SearchPlan = plan
	return models.StageParallelSearch, nil
}

// runSearches executes the plan against every provider and records the
// deduplicated union.
func (c *Controller) runSearches(ctx context.Context, sess *models.ResearchSession) (models.Stage, error) {
	plan := sess.ResearchData.SearchPlan
	if plan == nil {
		return "", fmt.Errorf("no search plan recorded for session %s", sess.ID)
	}

	out, err := c.deps.Search.Aggregate(ctx, plan.AllTerms())
	for _, failure := range out.ProviderErrors {
		c.publish(streaming.Event{
			SessionID: sess.ID,
			Type:      streaming.EventProviderFailed,
			Stage:     string(models.StageParallelSearch),
			Message:   failure,
		})
	}
	if err != nil {
		return "", err
	}

	sess.ResearchData.Results = out.Results
	c.logger.Info("Search pass recorded",
		zap.String("session_id", sess.ID),
		zap.Int("results", len(out.Results)),
		zap.Int("duplicates_removed", out.DupsRemoved))
	return models.StageFactExtraction, nil
}

type factsWire struct {
	Facts []models.FactClaim `json:"facts"`
}

// extractFacts pulls attributed claims out of the gathered results.
// With nothing gathered there is nothing to extract and the stage
// records an empty claim list without a model call.
func (c *Controller) extractFacts(ctx context.Context, sess *models.ResearchSession) (models.Stage, error) {
	if len(sess.ResearchData.Results) == 0 {
		c.logger.Warn("No search results to extract facts from",
			zap.String("session_id", sess.ID))
		sess.ResearchData.Facts = []models.FactClaim{}
		return models.StageAnalysis, nil
	}

	compact := compaction.CompactResults(sess.ResearchData.Results, c.cfg.TopResults)
	resp, err := c.complete(ctx, sess, "fact_extraction",
		"You extract verifiable factual claims from research findings.",
		factsPrompt(topic(sess), compact), 0.2)
	if err != nil {
		return "", err
	}

	var wire factsWire
	extractor.ExtractOr(c.logger, "fact_claims", resp.Text, &wire, func() {
		wire = factsWire{}
	})
	if wire.Facts == nil {
		wire.Facts = []models.FactClaim{}
	}

	sess.ResearchData.Facts = wire.Facts
	return models.StageAnalysis, nil
}

// analyze summarizes the evidence and decides whether the optional
// deep research pass is needed. Unusable analyzer output keeps the raw
// text as the summary and treats the evidence as sufficient, so a
// flaky model cannot force an extra search pass.
func (c *Controller) analyze(ctx context.Context, sess *models.ResearchSession) (models.Stage, error) {
	resp, err := c.complete(ctx, sess, "analysis",
		"You analyze research evidence for coverage and gaps.",
		analysisPrompt(sess), 0.3)
	if err != nil {
		return "", err
	}

	analysis := &models.AnalysisResult{}
	extractor.ExtractOr(c.logger, "analysis", resp.Text, analysis, func() {
		*analysis = models.AnalysisResult{
			Summary:            resp.Text,
			EvidenceSufficient: true,
		}
	})
	analysis.Summary = compaction.CompactReport(analysis.Summary)

	sess.ResearchData.Analysis = analysis
	if analysis.EvidenceSufficient {
		return models.StageAgentSelection, nil
	}
	c.logger.Info("Evidence insufficient, deep research pending",
		zap.String("session_id", sess.ID),
		zap.Strings("knowledge_gaps", analysis.KnowledgeGaps))
	return models.StageDeepResearch, nil
}
