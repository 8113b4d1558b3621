package models

import "time"

// Session statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Agent identities for the two-sided dialogue
const (
	AgentInductive = "inductive"
	AgentDeductive = "deductive"
)

// ResearchSession is the unit of orchestration state. It is created on the
// first clarification request and mutated by each stage handler. Stage only
// moves forward except on explicit retry of the current stage.
type ResearchSession struct {
	ID              string              `json:"id"`
	Query           string              `json:"query"`
	Stage           Stage               `json:"stage"`
	Status          string              `json:"status"`
	ClarifiedIntent *ClarifiedIntent    `json:"clarifiedIntent,omitempty"`
	ResearchData    ResearchData        `json:"researchData"`
	AgentConfig     *AgentConfig        `json:"agentConfig,omitempty"`
	DialogueHistory []AgentDialogueTurn `json:"dialogueHistory"`
	LastEvaluation  *RoundEvaluation    `json:"lastEvaluation,omitempty"`
	SynthesisResult *SynthesisResult    `json:"synthesisResult,omitempty"`
	LastError       string              `json:"lastError,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// CompletedRounds returns the number of fully recorded dialogue rounds.
// Turns are always appended in pairs, one per agent per round.
func (s *ResearchSession) CompletedRounds() int {
	return len(s.DialogueHistory) / 2
}

// CurrentRound returns the 1-based number of the next dialogue round.
func (s *ResearchSession) CurrentRound() int {
	return s.CompletedRounds() + 1
}

// ClarifiedIntent is the structured reading of the user's query produced by
// the IntentClarification stage.
type ClarifiedIntent struct {
	RefinedQuery string   `json:"refinedQuery"`
	Requirements []string `json:"requirements"`
	Questions    []string `json:"questions"`
	AnswerFormat string   `json:"answerFormat"`
}

// ResearchData accumulates everything the research stages gather. Prior
// stage writes are never rolled back on a later failure.
type ResearchData struct {
	SearchPlan      *SearchPlan       `json:"searchPlan,omitempty"`
	Results         []SearchResult    `json:"results"`
	Facts           []FactClaim       `json:"facts"`
	Analysis        *AnalysisResult   `json:"analysis,omitempty"`
	DeepResearchRan bool              `json:"deepResearchRan"`
	Reports         map[string]string `json:"reports,omitempty"`
}

// AgentConfig holds the per-agent reasoning parameters chosen by the
// AgentSelection stage. Exactly two identities exist.
type AgentConfig struct {
	Inductive AgentProfile `json:"inductive"`
	Deductive AgentProfile `json:"deductive"`
	Rationale string       `json:"rationale,omitempty"`
}

// AgentProfile configures one side of the dialogue.
type AgentProfile struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Focus       string  `json:"focus"`
}

// Profile returns the profile for the given agent identity, defaulting to
// the inductive side for unknown values.
func (c *AgentConfig) Profile(agentType string) AgentProfile {
	if agentType == AgentDeductive {
		return c.Deductive
	}
	return c.Inductive
}

// SynthesisResult is the final report produced from the research data and
// the full dialogue history.
type SynthesisResult struct {
	Report      string    `json:"report"`
	KeyFindings []string  `json:"keyFindings"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generatedAt"`
}
