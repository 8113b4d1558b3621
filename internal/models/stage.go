package models

// Stage is one step of the research pipeline state machine.
type Stage string

// Pipeline stages in execution order
const (
	StageIntentClarification Stage = "intent_clarification"
	StageSearchPlanning      Stage = "search_planning"
	StageParallelSearch      Stage = "parallel_search"
	StageFactExtraction      Stage = "fact_extraction"
	StageAnalysis            Stage = "analysis"
	StageDeepResearch        Stage = "deep_research"
	StageAgentSelection      Stage = "agent_selection"
	StageDialogue            Stage = "dialogue"
	StageSynthesis           Stage = "synthesis"
	StageCompleted           Stage = "completed"
)

var stageOrder = map[Stage]int{
	StageIntentClarification: 0,
	StageSearchPlanning:      1,
	StageParallelSearch:      2,
	StageFactExtraction:      3,
	StageAnalysis:            4,
	StageDeepResearch:        5,
	StageAgentSelection:      6,
	StageDialogue:            7,
	StageSynthesis:           8,
	StageCompleted:           9,
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Order returns the position of s in the pipeline, or -1 for unknown stages.
func (s Stage) Order() int {
	if ord, ok := stageOrder[s]; ok {
		return ord
	}
	return -1
}

// CanTransitionTo reports whether the pipeline may move from s to next.
// The only legal moves are re-running the current stage (retry after a
// failure) and advancing to the immediate successor. DeepResearch is the
// single optional stage: Analysis may advance directly to AgentSelection
// when the gathered evidence is sufficient.
func (s Stage) CanTransitionTo(next Stage) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next == s {
		return true
	}
	if s == StageAnalysis && next == StageAgentSelection {
		return true
	}
	return next.Order() == s.Order()+1
}

// Previous returns the stage immediately before s in pipeline order.
// Sessions that skipped DeepResearch still report it as the predecessor of
// AgentSelection; callers that care use the session's recorded history.
func (s Stage) Previous() Stage {
	ord := s.Order()
	if ord <= 0 {
		return StageIntentClarification
	}
	for stage, o := range stageOrder {
		if o == ord-1 {
			return stage
		}
	}
	return StageIntentClarification
}
