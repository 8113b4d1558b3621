package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		ok   bool
	}{
		{"forward step", StageIntentClarification, StageSearchPlanning, true},
		{"retry same stage", StageParallelSearch, StageParallelSearch, true},
		{"skip deep research after analysis", StageAnalysis, StageAgentSelection, true},
		{"deep research still reachable", StageAnalysis, StageDeepResearch, true},
		{"no skipping other stages", StageIntentClarification, StageParallelSearch, false},
		{"no moving backward", StageDialogue, StageAnalysis, false},
		{"completed is terminal", StageCompleted, StageIntentClarification, false},
		{"unknown source", Stage("warp"), StageSearchPlanning, false},
		{"unknown target", StageSynthesis, Stage("warp"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStageOrderCoversAllStages(t *testing.T) {
	ordered := []Stage{
		StageIntentClarification,
		StageSearchPlanning,
		StageParallelSearch,
		StageFactExtraction,
		StageAnalysis,
		StageDeepResearch,
		StageAgentSelection,
		StageDialogue,
		StageSynthesis,
		StageCompleted,
	}
	for i, s := range ordered {
		assert.True(t, s.Valid(), s)
		assert.Equal(t, i, s.Order(), s)
	}
	assert.Equal(t, -1, Stage("warp").Order())
}

func TestStagePrevious(t *testing.T) {
	assert.Equal(t, StageIntentClarification, StageIntentClarification.Previous())
	assert.Equal(t, StageAnalysis, StageDeepResearch.Previous())
	assert.Equal(t, StageSynthesis, StageCompleted.Previous())
}

func TestDialogueRoundCounting(t *testing.T) {
	sess := &ResearchSession{}
	assert.Zero(t, sess.CompletedRounds())
	assert.Equal(t, 1, sess.CurrentRound())

	sess.DialogueHistory = []AgentDialogueTurn{
		{RoundNumber: 1, AgentType: AgentInductive},
		{RoundNumber: 1, AgentType: AgentDeductive},
	}
	assert.Equal(t, 1, sess.CompletedRounds())
	assert.Equal(t, 2, sess.CurrentRound())

	// A half-recorded round never counts as completed.
	sess.DialogueHistory = append(sess.DialogueHistory,
		AgentDialogueTurn{RoundNumber: 2, AgentType: AgentInductive})
	assert.Equal(t, 1, sess.CompletedRounds())
}

func TestAgentProfileLookup(t *testing.T) {
	cfg := &AgentConfig{
		Inductive: AgentProfile{Temperature: 0.7, Focus: "experiments"},
		Deductive: AgentProfile{Temperature: 0.4, Focus: "theory"},
	}
	assert.Equal(t, "experiments", cfg.Profile(AgentInductive).Focus)
	assert.Equal(t, "theory", cfg.Profile(AgentDeductive).Focus)
	assert.Equal(t, "experiments", cfg.Profile("unknown").Focus)
}

func TestSearchPlanAllTerms(t *testing.T) {
	plan := &SearchPlan{
		SurfaceTerms: []string{"a", "b"},
		SocialTerms:  []string{"c"},
	}
	assert.Equal(t, []string{"a", "b", "c"}, plan.AllTerms())
	assert.Empty(t, (&SearchPlan{}).AllTerms())
}
