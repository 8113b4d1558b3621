package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-lab/fathom/internal/db"
	"github.com/meridian-lab/fathom/internal/extractor"
	"github.com/meridian-lab/fathom/internal/metrics"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/streaming"
)

type synthesisWire struct {
	Report      string   `json:"report"`
	KeyFindings []string `json:"keyFindings"`
	Confidence  float64  `json:"confidence"`
}

// Synthesize writes the final report from the research data and the
// full dialogue history, completes the session, and queues it for
// archival. Unusable model output keeps the raw text as the report;
// a finished debate always yields a report.
func (c *Controller) Synthesize(ctx context.Context, id string) (*models.ResearchSession, error) {
	ctx, sess, release, err := c.beginStageOp(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireStage(sess, models.StageSynthesis); err != nil {
		return nil, err
	}
	if err := c.runStage(ctx, sess, models.StageSynthesis, func(ctx context.Context) (models.Stage, error) {
		return c.synthesize(ctx, sess)
	}); err != nil {
		return sess, err
	}

	metrics.SessionsCompleted.WithLabelValues(models.StatusCompleted).Inc()
	c.publish(streaming.Event{
		SessionID: sess.ID,
		Type:      streaming.EventSessionCompleted,
		Stage:     string(models.StageCompleted),
		Message:   fmt.Sprintf("report ready, %d key findings", len(sess.SynthesisResult.KeyFindings)),
	})
	c.archiveSession(sess)
	return sess, nil
}

func (c *Controller) synthesize(ctx context.Context, sess *models.ResearchSession) (models.Stage, error) {
	resp, err := c.complete(ctx, sess, "synthesis",
		"You synthesize research evidence and agent debate into a final report.",
		synthesisPrompt(sess), 0.4)
	if err != nil {
		return "", err
	}

	var wire synthesisWire
	extractor.ExtractOr(c.logger, "synthesis", resp.Text, &wire, func() {
		wire = synthesisWire{Report: resp.Text, Confidence: 0.5}
	})
	if strings.TrimSpace(wire.Report) == "" {
		wire.Report = resp.Text
	}

	sess.SynthesisResult = &models.SynthesisResult{
		Report:      wire.Report,
		KeyFindings: wire.KeyFindings,
		Confidence:  clampScore(wire.Confidence),
		GeneratedAt: time.Now().UTC(),
	}
	sess.Status = models.StatusCompleted
	return models.StageCompleted, nil
}

// archiveSession queues the completed session and its report for the
// background writers. Archival is best-effort; a missing archive
// client means completed sessions live only in the session store.
func (c *Controller) archiveSession(sess *models.ResearchSession) {
	if c.deps.Archive == nil {
		return
	}
	c.deps.Archive.QueueWrite(db.WriteTypeSessionArchive, db.NewSessionArchive(sess), nil)
	if sess.SynthesisResult != nil {
		c.deps.Archive.QueueWrite(db.WriteTypeSynthesisReport, db.NewSynthesisReport(sess.ID, sess.SynthesisResult), nil)
	}
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
