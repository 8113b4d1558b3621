package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridian-lab/fathom/internal/llm"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/resilience"
)

// scriptedCompleter returns canned text per purpose and records the
// order of calls.
type scriptedCompleter struct {
	mu        sync.Mutex
	byPurpose map[string]string
	calls     []string
	err       error
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Purpose)
	if s.err != nil {
		return nil, s.err
	}
	text, ok := s.byPurpose[req.Purpose]
	if !ok {
		text = "{}"
	}
	return &llm.CompletionResponse{Text: text, TokensUsed: 7, Model: "scripted"}, nil
}

func (s *scriptedCompleter) purposes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// scriptedInvoker serves replies per agent type with optional delays.
type scriptedInvoker struct {
	mu      sync.Mutex
	replies map[string]AgentReply
	errs    map[string]error
	delays  map[string]time.Duration
	reqs    []AgentRequest
}

func (s *scriptedInvoker) InvokeAgent(_ context.Context, req AgentRequest) (AgentReply, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	reply := s.replies[req.AgentType]
	err := s.errs[req.AgentType]
	delay := s.delays[req.AgentType]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return AgentReply{}, err
	}
	return reply, nil
}

func newTestEngine(t *testing.T, cfg Config, invoker Invoker, completer llm.Completer) *Engine {
	t.Helper()
	executor := resilience.NewExecutor(nil, zaptest.NewLogger(t))
	policy := resilience.Policy{InitialInterval: time.Millisecond, MaximumAttempts: 1}
	return NewEngine(cfg, invoker, completer, executor, policy, zaptest.NewLogger(t))
}

func testSession(completedTurns int) *models.ResearchSession {
	session := &models.ResearchSession{
		ID:    "sess-1",
		Query: "impact of model collapse",
		ClarifiedIntent: &models.ClarifiedIntent{
			RefinedQuery: "does recursive training degrade model quality",
		},
		AgentConfig: DefaultAgentConfig(),
	}
	agents := [2]string{models.AgentInductive, models.AgentDeductive}
	for i := 0; i < completedTurns; i++ {
		session.DialogueHistory = append(session.DialogueHistory, models.AgentDialogueTurn{
			SessionID:   session.ID,
			RoundNumber: i/2 + 1,
			AgentType:   agents[i%2],
			Message:     "earlier position",
		})
	}
	return session
}

func TestSelectAgentsParsesProfiles(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{
		"agent_selection": `{"inductive":{"model":"model-a","temperature":0.6,"focus":"field data"},
			"deductive":{"model":"model-b","temperature":0.3,"focus":"formal theory"},
			"rationale":"complementary horizons"}`,
	}}
	engine := newTestEngine(t, Config{}, &scriptedInvoker{}, completer)

	cfg, err := engine.SelectAgents(context.Background(), testSession(0))
	require.NoError(t, err)
	assert.Equal(t, "model-a", cfg.Inductive.Model)
	assert.Equal(t, 0.6, cfg.Inductive.Temperature)
	assert.Equal(t, "formal theory", cfg.Deductive.Focus)
	assert.Equal(t, "complementary horizons", cfg.Rationale)
}

func TestSelectAgentsFallsBackOnGarbage(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{
		"agent_selection": "I cannot produce JSON today, sorry.",
	}}
	engine := newTestEngine(t, Config{}, &scriptedInvoker{}, completer)

	cfg, err := engine.SelectAgents(context.Background(), testSession(0))
	require.NoError(t, err, "unusable model output must not fail selection")

	want := DefaultAgentConfig()
	assert.Equal(t, want.Inductive.Focus, cfg.Inductive.Focus)
	assert.Equal(t, want.Deductive.Temperature, cfg.Deductive.Temperature)
}

func TestRunRoundFixedOrderDespiteCompletionOrder(t *testing.T) {
	invoker := &scriptedInvoker{
		replies: map[string]AgentReply{
			models.AgentInductive: {Message: "evidence first", Confidence: 0.7},
			models.AgentDeductive: {Message: "theory first", Confidence: 0.6},
		},
		delays: map[string]time.Duration{
			models.AgentInductive: 30 * time.Millisecond,
		},
	}
	engine := newTestEngine(t, Config{}, invoker, &scriptedCompleter{})

	turns, err := engine.RunRound(context.Background(), testSession(0))
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, models.AgentInductive, turns[0].AgentType,
		"inductive turn recorded first even when its reply arrives last")
	assert.Equal(t, models.AgentDeductive, turns[1].AgentType)
	assert.Equal(t, 1, turns[0].RoundNumber)
	assert.Equal(t, 1, turns[1].RoundNumber)
}

func TestRunRoundParsesMarkers(t *testing.T) {
	invoker := &scriptedInvoker{
		replies: map[string]AgentReply{
			models.AgentInductive: {
				Message:    "Adoption is rising [Surface: Study X]. It may accelerate [SPECULATION].",
				Confidence: 0.8,
			},
			models.AgentDeductive: {Message: "Structurally bounded [Academic: arXiv 2301.07041]."},
		},
	}
	engine := newTestEngine(t, Config{}, invoker, &scriptedCompleter{})

	turns, err := engine.RunRound(context.Background(), testSession(0))
	require.NoError(t, err)

	assert.Equal(t, []string{"[Surface: Study X]"}, turns[0].SourceAttributions)
	assert.Equal(t, []string{"[SPECULATION]"}, turns[0].SpeculationFlags)
	assert.Equal(t, []string{"[Academic: arXiv 2301.07041]"}, turns[1].SourceAttributions)
	assert.Empty(t, turns[1].SpeculationFlags)
}

func TestRunRoundUnattributedTurnIsNotAnError(t *testing.T) {
	invoker := &scriptedInvoker{
		replies: map[string]AgentReply{
			models.AgentInductive: {Message: "no citations here"},
			models.AgentDeductive: {Message: "none here either"},
		},
	}
	engine := newTestEngine(t, Config{}, invoker, &scriptedCompleter{})

	turns, err := engine.RunRound(context.Background(), testSession(0))
	require.NoError(t, err)
	assert.Empty(t, turns[0].SourceAttributions)
	assert.Empty(t, turns[1].SourceAttributions)
}

func TestRunRoundAgentFailureFailsRound(t *testing.T) {
	invoker := &scriptedInvoker{
		replies: map[string]AgentReply{
			models.AgentInductive: {Message: "fine"},
		},
		errs: map[string]error{
			models.AgentDeductive: errors.New("model overloaded"),
		},
	}
	engine := newTestEngine(t, Config{}, invoker, &scriptedCompleter{})

	_, err := engine.RunRound(context.Background(), testSession(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deductive")
}

func TestRunRoundRejectsWhenLimitReached(t *testing.T) {
	engine := newTestEngine(t, Config{MaxRounds: 3}, &scriptedInvoker{}, &scriptedCompleter{})

	_, err := engine.RunRound(context.Background(), testSession(6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round limit")
}

func TestRunRoundRequiresAgentConfig(t *testing.T) {
	engine := newTestEngine(t, Config{}, &scriptedInvoker{}, &scriptedCompleter{})
	session := testSession(0)
	session.AgentConfig = nil

	_, err := engine.RunRound(context.Background(), session)
	assert.Error(t, err)
}

func TestDialogueHistoryAlternates(t *testing.T) {
	invoker := &scriptedInvoker{
		replies: map[string]AgentReply{
			models.AgentInductive: {Message: "inductive view"},
			models.AgentDeductive: {Message: "deductive view"},
		},
	}
	engine := newTestEngine(t, Config{MaxRounds: 3}, invoker, &scriptedCompleter{})
	session := testSession(0)

	for round := 1; round <= 2; round++ {
		turns, err := engine.RunRound(context.Background(), session)
		require.NoError(t, err)
		session.DialogueHistory = append(session.DialogueHistory, turns...)
	}

	require.Len(t, session.DialogueHistory, 4, "two rounds produce exactly four turns")
	for i, turn := range session.DialogueHistory {
		wantAgent := models.AgentInductive
		if i%2 == 1 {
			wantAgent = models.AgentDeductive
		}
		assert.Equal(t, wantAgent, turn.AgentType, "turn %d", i)
		assert.Equal(t, i/2+1, turn.RoundNumber, "turn %d", i)
	}
}

func TestEvaluateRoundParsesScores(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{
		"alignment": `{"riskLevel":"low","recommendation":"proceed","notes":"on track"}`,
		"evaluator": `{"qualityScore":0.8,"convergence":0.55,"decision":"continue","feedback":"go deeper","questions":["what about scale?"]}`,
	}}
	engine := newTestEngine(t, Config{MaxRounds: 3}, &scriptedInvoker{}, completer)

	evaluation, alignment, err := engine.EvaluateRound(context.Background(), testSession(2))
	require.NoError(t, err)

	assert.Equal(t, 0.8, evaluation.QualityScore)
	assert.Equal(t, 0.55, evaluation.Convergence)
	assert.Equal(t, models.DecisionContinue, evaluation.Decision)
	assert.Equal(t, "go deeper", evaluation.Feedback)
	assert.Equal(t, []string{"what about scale?"}, evaluation.Questions)
	assert.Equal(t, "low", alignment.RiskLevel)
}

func TestEvaluateRoundClampsScores(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{
		"evaluator": `{"qualityScore":1.7,"convergence":-0.2,"decision":"continue"}`,
	}}
	engine := newTestEngine(t, Config{MaxRounds: 3}, &scriptedInvoker{}, completer)

	evaluation, _, err := engine.EvaluateRound(context.Background(), testSession(2))
	require.NoError(t, err)
	assert.Equal(t, 1.0, evaluation.QualityScore)
	assert.Equal(t, 0.0, evaluation.Convergence)
}

func TestEvaluateRoundAlignmentRunsFirst(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{}}
	engine := newTestEngine(t, Config{MaxRounds: 3}, &scriptedInvoker{}, completer)

	_, _, err := engine.EvaluateRound(context.Background(), testSession(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"alignment", "evaluator"}, completer.purposes())
}

func TestEvaluateRoundForcesConcludeAtLimit(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{
		"evaluator": `{"qualityScore":0.9,"convergence":0.4,"decision":"continue"}`,
	}}
	engine := newTestEngine(t, Config{MaxRounds: 3}, &scriptedInvoker{}, completer)

	evaluation, _, err := engine.EvaluateRound(context.Background(), testSession(6))
	require.NoError(t, err)

	assert.Equal(t, models.DecisionConclude, evaluation.Decision,
		"round limit overrides the model's continue")
	assert.Contains(t, completer.purposes(), "evaluator",
		"the evaluation call still happens; only its decision is overridden")
}

func TestEvaluateRoundRealignTreatedAsProceed(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{
		"alignment": `{"riskLevel":"high","recommendation":"realign","notes":"drifting off intent"}`,
		"evaluator": `{"qualityScore":0.6,"convergence":0.3,"decision":"continue"}`,
	}}
	engine := newTestEngine(t, Config{MaxRounds: 3}, &scriptedInvoker{}, completer)

	evaluation, alignment, err := engine.EvaluateRound(context.Background(), testSession(2))
	require.NoError(t, err, "realign is advisory")
	assert.Equal(t, models.AlignRealign, alignment.Recommendation)
	assert.Equal(t, "high", alignment.RiskLevel)
	assert.Equal(t, models.DecisionContinue, evaluation.Decision)
}

func TestEvaluateRoundGarbageFallsBackToContinue(t *testing.T) {
	completer := &scriptedCompleter{byPurpose: map[string]string{
		"evaluator": "the round went great, five stars",
	}}
	engine := newTestEngine(t, Config{MaxRounds: 3}, &scriptedInvoker{}, completer)

	evaluation, _, err := engine.EvaluateRound(context.Background(), testSession(2))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionContinue, evaluation.Decision)
	assert.Equal(t, 0.5, evaluation.QualityScore)
}

func TestEvaluateRoundRequiresCompleteRound(t *testing.T) {
	engine := newTestEngine(t, Config{}, &scriptedInvoker{}, &scriptedCompleter{})

	_, _, err := engine.EvaluateRound(context.Background(), testSession(0))
	assert.Error(t, err, "no turns yet")

	_, _, err = engine.EvaluateRound(context.Background(), testSession(3))
	assert.Error(t, err, "odd turn count means a round is in flight")
}
