package dialogue

import (
	"fmt"
	"strings"

	"github.com/meridian-lab/fathom/internal/compaction"
	"github.com/meridian-lab/fathom/internal/models"
)

const markerInstructions = `Tag every claim you rely on with a bracketed citation naming its source category, e.g. [Surface: Study X], [Academic: arXiv 2301.07041], [Social: forum thread]. Mark any inference that goes beyond the evidence with [SPECULATION].`

// DefaultAgentConfig is used when agent selection cannot produce a
// usable configuration. Models are left empty so the completion client
// applies its configured default.
func DefaultAgentConfig() *models.AgentConfig {
	return &models.AgentConfig{
		Inductive: models.AgentProfile{
			Temperature: 0.7,
			Focus:       "concrete findings, empirical signals, near-term implications",
		},
		Deductive: models.AgentProfile{
			Temperature: 0.4,
			Focus:       "theoretical grounding, structural constraints, long-horizon implications",
		},
		Rationale: "default complementary pairing",
	}
}

// roleFraming returns the system prompt that keeps the two agents
// distinguishable across every round.
func roleFraming(agentType string, profile models.AgentProfile) string {
	var stance string
	switch agentType {
	case models.AgentDeductive:
		stance = "You reason deductively: argue from theory, structure, and long-horizon premises. Stress-test the empirical view for hidden assumptions."
	default:
		stance = "You reason inductively: argue from concrete evidence, empirical signals, and short-horizon observations. Challenge abstractions that outrun the data."
	}
	var b strings.Builder
	b.WriteString(stance)
	if profile.Focus != "" {
		fmt.Fprintf(&b, " Your focus: %s.", profile.Focus)
	}
	b.WriteString("\n\n")
	b.WriteString(markerInstructions)
	b.WriteString("\n\n")
	b.WriteString(`Respond with JSON: {"message": string, "reasoning": string, "confidence": number 0-1, "sources": [{"claim": string, "source": string, "strength": number 0-1}]}`)
	return b.String()
}

// buildAgentPrompt renders the debate context for one agent turn.
func buildAgentPrompt(req AgentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\n", req.Topic)
	fmt.Fprintf(&b, "Round %d of the dialogue.\n\n", req.Round)

	if req.Evidence != "" {
		b.WriteString("Evidence gathered so far:\n")
		b.WriteString(req.Evidence)
		b.WriteString("\n\n")
	}
	if len(req.History) > 0 {
		b.WriteString("Recent dialogue:\n")
		b.WriteString(renderHistory(req.History))
		b.WriteString("\n")
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "Evaluator feedback on the last round: %s\n\n", req.Feedback)
	}
	b.WriteString("Give your position for this round.")
	return b.String()
}

func renderHistory(turns []models.AgentDialogueTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[round %d, %s] %s\n", t.RoundNumber, t.AgentType, t.Message)
	}
	return b.String()
}

// buildEvidence condenses the session's research data for embedding in
// a prompt. Everything here has already passed through compaction, so
// repeated rounds do not grow the prompt.
func buildEvidence(session *models.ResearchSession) string {
	var b strings.Builder
	if analysis := session.ResearchData.Analysis; analysis != nil {
		b.WriteString(compaction.CompactReport(analysis.Summary))
		b.WriteString("\n")
		if len(analysis.Themes) > 0 {
			fmt.Fprintf(&b, "Themes: %s\n", strings.Join(analysis.Themes, "; "))
		}
	}
	if facts := session.ResearchData.Facts; len(facts) > 0 {
		b.WriteString("Key facts:\n")
		limit := len(facts)
		if limit > 10 {
			limit = 10
		}
		for _, f := range facts[:limit] {
			fmt.Fprintf(&b, "- %s (%s)\n", f.Claim, f.Source)
		}
	}
	if results := compaction.CompactResults(session.ResearchData.Results, compaction.PreviewResults); len(results) > 0 {
		b.WriteString("Top sources:\n")
		for _, r := range results {
			fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.URL)
		}
	}
	return strings.TrimSpace(b.String())
}

func selectionPrompt(session *models.ResearchSession) string {
	var b strings.Builder
	b.WriteString("Configure two debate agents for this research question: one arguing from concrete empirical evidence, one from theory and structure.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", sessionTopic(session))
	if evidence := buildEvidence(session); evidence != "" {
		b.WriteString(evidence)
		b.WriteString("\n\n")
	}
	b.WriteString(`Respond with JSON: {"inductive": {"model": string, "temperature": number, "focus": string}, "deductive": {"model": string, "temperature": number, "focus": string}, "rationale": string}`)
	return b.String()
}

func alignmentPrompt(session *models.ResearchSession, turns []models.AgentDialogueTurn) string {
	var b strings.Builder
	b.WriteString("Check whether this dialogue still serves the user's clarified intent.\n\n")
	fmt.Fprintf(&b, "Intent: %s\n\n", sessionTopic(session))
	b.WriteString("Dialogue so far:\n")
	b.WriteString(renderHistory(turns))
	b.WriteString("\n")
	b.WriteString(`Respond with JSON: {"riskLevel": "low"|"medium"|"high", "recommendation": "proceed"|"clarify"|"realign", "notes": string}`)
	return b.String()
}

func evaluationPrompt(round int, turns []models.AgentDialogueTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate round %d of this two-agent research dialogue.\n\n", round)
	b.WriteString(renderHistory(turns))
	b.WriteString(`
Score the round and decide whether another round would add value.
Respond with JSON: {"qualityScore": number 0-1, "convergence": number 0-1, "decision": "continue"|"conclude", "feedback": string, "questions": [string]}`)
	return b.String()
}

func sessionTopic(session *models.ResearchSession) string {
	if session.ClarifiedIntent != nil && session.ClarifiedIntent.RefinedQuery != "" {
		return session.ClarifiedIntent.RefinedQuery
	}
	return session.Query
}
