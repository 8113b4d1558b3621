// Package dialogue runs the bounded debate loop between the two
// research agents: agents argue concurrently each round, an alignment
// check audits drift, and a round evaluation decides continue or
// conclude. Rounds never exceed the configured limit.
package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/compaction"
	"github.com/meridian-lab/fathom/internal/extractor"
	"github.com/meridian-lab/fathom/internal/llm"
	"github.com/meridian-lab/fathom/internal/metrics"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/resilience"
)

// Config controls the debate loop.
type Config struct {
	MaxRounds    int
	HistoryTurns int
}

// AgentRequest carries everything one agent needs for its turn.
type AgentRequest struct {
	SessionID string
	AgentType string
	Profile   models.AgentProfile
	Round     int
	Topic     string
	Evidence  string
	History   []models.AgentDialogueTurn
	Feedback  string
}

// AgentReply is one agent's contribution before marker scanning.
type AgentReply struct {
	Message    string
	Reasoning  string
	Confidence float64
	Sources    []models.SourceRef
}

// Invoker produces one agent's contribution for a round. The default
// implementation calls the model sidecar; tests script it.
type Invoker interface {
	InvokeAgent(ctx context.Context, req AgentRequest) (AgentReply, error)
}

// Engine drives agent selection, debate rounds, and round evaluation.
type Engine struct {
	cfg       Config
	invoker   Invoker
	completer llm.Completer
	executor  *resilience.Executor
	policy    resilience.Policy
	logger    *zap.Logger
}

// NewEngine builds an engine. MaxRounds defaults to 3 and HistoryTurns
// to 8 when unset.
func NewEngine(cfg Config, invoker Invoker, completer llm.Completer, executor *resilience.Executor, policy resilience.Policy, logger *zap.Logger) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		invoker:   invoker,
		completer: completer,
		executor:  executor,
		policy:    policy,
		logger:    logger,
	}
}

// MaxRounds reports the configured round limit.
func (e *Engine) MaxRounds() int { return e.cfg.MaxRounds }

// SelectAgents asks the model to configure the two debate profiles for
// this session. Unusable model output degrades to the default pairing;
// only transport failure is an error.
func (e *Engine) SelectAgents(ctx context.Context, session *models.ResearchSession) (*models.AgentConfig, error) {
	resp, err := resilience.Execute(ctx, e.executor, "llm.agent_selection", e.policy, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return e.completer.Complete(ctx, llm.CompletionRequest{
			Prompt:       selectionPrompt(session),
			SystemPrompt: "You configure research debate agents.",
			Temperature:  0.2,
			Purpose:      "agent_selection",
			SessionID:    session.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	fallback := DefaultAgentConfig()
	var wire agentSelectionWire
	extractor.ExtractOr(e.logger, "agent_selection", resp.Text, &wire, func() {
		wire = agentSelectionWire{
			Inductive: fallback.Inductive,
			Deductive: fallback.Deductive,
			Rationale: fallback.Rationale,
		}
	})

	cfg := &models.AgentConfig{
		Inductive: normalizeProfile(wire.Inductive, fallback.Inductive),
		Deductive: normalizeProfile(wire.Deductive, fallback.Deductive),
		Rationale: wire.Rationale,
	}
	if cfg.Rationale == "" {
		cfg.Rationale = fallback.Rationale
	}
	return cfg, nil
}

type agentSelectionWire struct {
	Inductive models.AgentProfile `json:"inductive"`
	Deductive models.AgentProfile `json:"deductive"`
	Rationale string              `json:"rationale"`
}

func normalizeProfile(p, def models.AgentProfile) models.AgentProfile {
	if p.Focus == "" {
		p.Focus = def.Focus
	}
	if p.Temperature <= 0 || p.Temperature > 1 {
		p.Temperature = def.Temperature
	}
	return p
}

// RunRound invokes both agents concurrently for the next round and
// returns their turns in fixed order: inductive first, deductive
// second, regardless of which reply arrived first.
func (e *Engine) RunRound(ctx context.Context, session *models.ResearchSession) ([]models.AgentDialogueTurn, error) {
	if session.AgentConfig == nil {
		return nil, fmt.Errorf("agents not selected for session %s", session.ID)
	}
	if len(session.DialogueHistory)%2 != 0 {
		return nil, fmt.Errorf("dialogue history for session %s has an incomplete round", session.ID)
	}
	round := session.CurrentRound()
	if round > e.cfg.MaxRounds {
		return nil, fmt.Errorf("dialogue for session %s already reached the round limit (%d)", session.ID, e.cfg.MaxRounds)
	}

	evidence := buildEvidence(session)
	history := compaction.CompactTurns(session.DialogueHistory, e.cfg.HistoryTurns)
	var feedback string
	if session.LastEvaluation != nil {
		feedback = session.LastEvaluation.Feedback
	}

	agents := [2]string{models.AgentInductive, models.AgentDeductive}
	var turns [2]models.AgentDialogueTurn
	var errs [2]error

	var wg sync.WaitGroup
	for i, agentType := range agents {
		wg.Add(1)
		go func(i int, agentType string) {
			defer wg.Done()
			turns[i], errs[i] = e.runAgentTurn(ctx, session, agentType, round, evidence, history, feedback)
		}(i, agentType)
	}
	wg.Wait()

	for i, agentType := range agents {
		if errs[i] != nil {
			return nil, fmt.Errorf("agent %s round %d: %w", agentType, round, errs[i])
		}
	}
	return turns[:], nil
}

func (e *Engine) runAgentTurn(ctx context.Context, session *models.ResearchSession, agentType string, round int, evidence string, history []models.AgentDialogueTurn, feedback string) (models.AgentDialogueTurn, error) {
	req := AgentRequest{
		SessionID: session.ID,
		AgentType: agentType,
		Profile:   session.AgentConfig.Profile(agentType),
		Round:     round,
		Topic:     sessionTopic(session),
		Evidence:  evidence,
		History:   history,
		Feedback:  feedback,
	}
	reply, err := resilience.Execute(ctx, e.executor, "agent."+agentType, e.policy, func(ctx context.Context) (AgentReply, error) {
		return e.invoker.InvokeAgent(ctx, req)
	})
	if err != nil {
		return models.AgentDialogueTurn{}, err
	}

	attributions, speculation := ScanMarkers(reply.Message)
	if len(attributions) == 0 {
		metrics.UnattributedTurns.Inc()
		e.logger.Info("Agent turn carries no citation markers",
			zap.String("session_id", session.ID),
			zap.String("agent", agentType),
			zap.Int("round", round))
	}
	metrics.DialogueTurns.WithLabelValues(agentType).Inc()

	return models.AgentDialogueTurn{
		SessionID:          session.ID,
		RoundNumber:        round,
		AgentType:          agentType,
		Message:            reply.Message,
		Reasoning:          reply.Reasoning,
		ConfidenceScore:    clamp01(reply.Confidence),
		Sources:            reply.Sources,
		SourceAttributions: attributions,
		SpeculationFlags:   speculation,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// EvaluateRound runs the alignment check over the accumulated dialogue
// and then scores the round just completed. The alignment check is
// advisory: realign and clarify recommendations are logged, not acted
// on. Reaching the round limit forces the decision to conclude after
// the evaluation output has been parsed.
func (e *Engine) EvaluateRound(ctx context.Context, session *models.ResearchSession) (*models.RoundEvaluation, *models.AlignmentCheck, error) {
	if len(session.DialogueHistory) == 0 {
		return nil, nil, fmt.Errorf("no dialogue to evaluate for session %s", session.ID)
	}
	if len(session.DialogueHistory)%2 != 0 {
		return nil, nil, fmt.Errorf("dialogue history for session %s has an incomplete round", session.ID)
	}
	round := session.CompletedRounds()

	alignment := e.checkAlignment(ctx, session)
	switch alignment.Recommendation {
	case models.AlignRealign:
		e.logger.Warn("Alignment check recommends redirecting the dialogue; proceeding",
			zap.String("session_id", session.ID),
			zap.String("risk_level", alignment.RiskLevel),
			zap.String("notes", alignment.Notes))
	case models.AlignClarify:
		e.logger.Warn("Alignment check recommends clarifying intent",
			zap.String("session_id", session.ID),
			zap.String("risk_level", alignment.RiskLevel))
	}

	evaluation, err := e.scoreRound(ctx, session, round)
	if err != nil {
		return nil, alignment, err
	}

	if round >= e.cfg.MaxRounds && evaluation.Decision != models.DecisionConclude {
		e.logger.Info("Round limit reached, forcing conclusion",
			zap.String("session_id", session.ID),
			zap.Int("round", round),
			zap.Int("max_rounds", e.cfg.MaxRounds))
		evaluation.Decision = models.DecisionConclude
	}
	metrics.DialogueRounds.Inc()
	return evaluation, alignment, nil
}

// checkAlignment audits the dialogue against the clarified intent. It
// never fails: an unreachable or incoherent auditor degrades to a
// proceed recommendation with a note.
func (e *Engine) checkAlignment(ctx context.Context, session *models.ResearchSession) *models.AlignmentCheck {
	turns := compaction.CompactTurns(session.DialogueHistory, e.cfg.HistoryTurns)
	resp, err := resilience.Execute(ctx, e.executor, "llm.alignment", e.policy, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return e.completer.Complete(ctx, llm.CompletionRequest{
			Prompt:       alignmentPrompt(session, turns),
			SystemPrompt: "You audit research dialogues for drift from the user's intent.",
			Purpose:      "alignment",
			SessionID:    session.ID,
		})
	})
	if err != nil {
		e.logger.Warn("Alignment check unavailable, proceeding",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return &models.AlignmentCheck{
			RiskLevel:      "low",
			Recommendation: models.AlignProceed,
			Notes:          "alignment check unavailable",
		}
	}

	var wire models.AlignmentCheck
	extractor.ExtractOr(e.logger, "alignment", resp.Text, &wire, func() {
		wire = models.AlignmentCheck{RiskLevel: "low", Recommendation: models.AlignProceed}
	})
	if wire.RiskLevel == "" {
		wire.RiskLevel = "low"
	}
	wire.Recommendation = normalizeRecommendation(wire.Recommendation)
	return &wire
}

func (e *Engine) scoreRound(ctx context.Context, session *models.ResearchSession, round int) (*models.RoundEvaluation, error) {
	turns := compaction.CompactTurns(session.DialogueHistory, e.cfg.HistoryTurns)
	resp, err := resilience.Execute(ctx, e.executor, "llm.evaluate_round", e.policy, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return e.completer.Complete(ctx, llm.CompletionRequest{
			Prompt:       evaluationPrompt(round, turns),
			SystemPrompt: "You evaluate research dialogue rounds for quality and convergence.",
			Purpose:      "evaluator",
			SessionID:    session.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	var wire models.RoundEvaluation
	extractor.ExtractOr(e.logger, "round_evaluation", resp.Text, &wire, func() {
		wire = models.RoundEvaluation{
			QualityScore: 0.5,
			Decision:     models.DecisionContinue,
			Feedback:     "evaluation output unusable; continuing by default",
		}
	})
	wire.QualityScore = clamp01(wire.QualityScore)
	wire.Convergence = clamp01(wire.Convergence)
	wire.Decision = normalizeDecision(wire.Decision)
	return &wire, nil
}

func normalizeRecommendation(rec string) string {
	switch strings.ToLower(strings.TrimSpace(rec)) {
	case models.AlignClarify:
		return models.AlignClarify
	case models.AlignRealign:
		return models.AlignRealign
	default:
		return models.AlignProceed
	}
}

func normalizeDecision(decision string) string {
	if strings.ToLower(strings.TrimSpace(decision)) == models.DecisionConclude {
		return models.DecisionConclude
	}
	return models.DecisionContinue
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
