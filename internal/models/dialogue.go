package models

import "time"

// AgentDialogueTurn is one agent's contribution to one dialogue round.
// Turns are immutable after creation and always recorded in pairs per
// round, inductive first.
type AgentDialogueTurn struct {
	SessionID          string      `json:"sessionId"`
	RoundNumber        int         `json:"roundNumber"`
	AgentType          string      `json:"agentType"`
	Message            string      `json:"message"`
	Reasoning          string      `json:"reasoning,omitempty"`
	ConfidenceScore    float64     `json:"confidenceScore"`
	Sources            []SourceRef `json:"sources,omitempty"`
	SourceAttributions []string    `json:"sourceAttributions"`
	SpeculationFlags   []string    `json:"speculationFlags"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// SourceRef ties a claim to the source backing it and how strongly.
type SourceRef struct {
	Claim    string  `json:"claim"`
	Source   string  `json:"source"`
	Strength float64 `json:"strength"`
}

// RoundEvaluation scores one completed dialogue round and decides whether
// the debate continues. Scores are clamped to [0,1] at the extraction
// boundary.
type RoundEvaluation struct {
	QualityScore float64  `json:"qualityScore"`
	Convergence  float64  `json:"convergence"`
	Decision     string   `json:"decision"`
	Feedback     string   `json:"feedback,omitempty"`
	Questions    []string `json:"questions,omitempty"`
}

// Round evaluation decisions
const (
	DecisionContinue = "continue"
	DecisionConclude = "conclude"
)

// AlignmentCheck is the pre-evaluation drift check run against the
// accumulated dialogue and the clarified intent.
type AlignmentCheck struct {
	RiskLevel      string `json:"riskLevel"`
	Recommendation string `json:"recommendation"`
	Notes          string `json:"notes,omitempty"`
}

// Alignment recommendations
const (
	AlignProceed = "proceed"
	AlignClarify = "clarify"
	AlignRealign = "realign"
)
