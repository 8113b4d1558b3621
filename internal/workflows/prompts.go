package workflows

import (
	"fmt"
	"strings"

	"github.com/meridian-lab/fathom/internal/compaction"
	"github.com/meridian-lab/fathom/internal/models"
)

func clarifyPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Read this research query and restate it as a precise research intent.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	b.WriteString("Name the concrete requirements the answer must satisfy, the open questions worth settling before searching, and the format the final answer should take.\n")
	b.WriteString(`Respond with JSON: {"refinedQuery": string, "requirements": [string], "questions": [string], "answerFormat": string}`)
	return b.String()
}

func planPrompt(sess *models.ResearchSession) string {
	var b strings.Builder
	b.WriteString("Plan the search pass for this research intent.\n\n")
	fmt.Fprintf(&b, "Intent: %s\n", topic(sess))
	if intent := sess.ClarifiedIntent; intent != nil {
		if len(intent.Requirements) > 0 {
			fmt.Fprintf(&b, "Requirements: %s\n", strings.Join(intent.Requirements, "; "))
		}
		if len(intent.Questions) > 0 {
			fmt.Fprintf(&b, "Open questions: %s\n", strings.Join(intent.Questions, "; "))
		}
	}
	b.WriteString("\nGive 3-5 surface terms for mainstream and academic coverage and 1-3 social terms for discussion and forum coverage. Terms must be directly searchable, not questions.\n")
	b.WriteString(`Respond with JSON: {"surfaceTerms": [string], "socialTerms": [string], "rationale": string}`)
	return b.String()
}

func factsPrompt(topic string, results []models.SearchResult) string {
	var b strings.Builder
	b.WriteString("Extract the verifiable factual claims from these findings.\n\n")
	fmt.Fprintf(&b, "Research question: %s\n\n", topic)
	b.WriteString("Findings:\n")
	b.WriteString(renderResults(results))
	b.WriteString("\nEach claim must be atomic, attributed to the finding it came from, and scored for relevance to the question. Flag claims that contradict other findings.\n")
	b.WriteString(`Respond with JSON: {"facts": [{"claim": string, "source": string, "relevanceScore": number 0-1, "isContradictory": bool}]}`)
	return b.String()
}

func analysisPrompt(sess *models.ResearchSession) string {
	var b strings.Builder
	b.WriteString("Analyze the gathered evidence for this research question.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", topic(sess))
	if facts := sess.ResearchData.Facts; len(facts) > 0 {
		b.WriteString("Extracted claims:\n")
		b.WriteString(renderFacts(facts))
		b.WriteString("\n")
	}
	if results := compaction.CompactResults(sess.ResearchData.Results, compaction.PreviewResults); len(results) > 0 {
		b.WriteString("Top findings:\n")
		b.WriteString(renderResults(results))
		b.WriteString("\n")
	}
	b.WriteString("Summarize the evidence, name its themes, and judge whether it suffices to debate the question. When it does not, name the knowledge gaps and give follow-up search terms that would close them.\n")
	b.WriteString(`Respond with JSON: {"summary": string, "themes": [string], "evidenceSufficient": bool, "knowledgeGaps": [string], "followUpTerms": [string]}`)
	return b.String()
}

func deepResearchPrompt(sess *models.ResearchSession, newResults []models.SearchResult) string {
	var b strings.Builder
	b.WriteString("Write a focused report that closes the gaps in this research.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", topic(sess))
	if analysis := sess.ResearchData.Analysis; analysis != nil {
		if len(analysis.KnowledgeGaps) > 0 {
			fmt.Fprintf(&b, "Gaps to close: %s\n\n", strings.Join(analysis.KnowledgeGaps, "; "))
		}
		if analysis.Summary != "" {
			b.WriteString("Prior analysis:\n")
			b.WriteString(compaction.CompactReport(analysis.Summary))
			b.WriteString("\n\n")
		}
	}
	if len(newResults) > 0 {
		b.WriteString("New findings from the follow-up search:\n")
		b.WriteString(renderResults(newResults))
		b.WriteString("\n")
	}
	b.WriteString("Write the report as plain prose grounded in the findings above. Note explicitly where the new findings still leave a gap open.")
	return b.String()
}

func synthesisPrompt(sess *models.ResearchSession) string {
	var b strings.Builder
	b.WriteString("Write the final research report for this session.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", topic(sess))
	if intent := sess.ClarifiedIntent; intent != nil && intent.AnswerFormat != "" {
		fmt.Fprintf(&b, "Requested format: %s\n", intent.AnswerFormat)
	}
	b.WriteString("\n")

	if analysis := sess.ResearchData.Analysis; analysis != nil && analysis.Summary != "" {
		b.WriteString("Evidence summary:\n")
		b.WriteString(compaction.CompactReport(analysis.Summary))
		b.WriteString("\n\n")
	}
	if facts := sess.ResearchData.Facts; len(facts) > 0 {
		b.WriteString("Key claims:\n")
		b.WriteString(renderFacts(facts))
		b.WriteString("\n")
	}
	if report, ok := sess.ResearchData.Reports["deep_research"]; ok && report != "" {
		b.WriteString("Deep research report:\n")
		b.WriteString(compaction.CompactReport(report))
		b.WriteString("\n\n")
	}
	if len(sess.DialogueHistory) > 0 {
		b.WriteString("Agent debate:\n")
		b.WriteString(renderDialogue(sess.DialogueHistory))
		b.WriteString("\n")
	}
	if eval := sess.LastEvaluation; eval != nil {
		fmt.Fprintf(&b, "Final round evaluation: quality %.2f, convergence %.2f.\n\n", eval.QualityScore, eval.Convergence)
	}

	b.WriteString("Weigh both agents' positions, keep the citation markers from the debate where they back a conclusion, and state confidence honestly.\n")
	b.WriteString(`Respond with JSON: {"report": string, "keyFindings": [string], "confidence": number 0-1}`)
	return b.String()
}

func renderResults(results []models.SearchResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s] %s", r.Source, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
		b.WriteString("\n")
		if r.Content != "" {
			fmt.Fprintf(&b, "  %s\n", r.Content)
		}
	}
	return b.String()
}

func renderFacts(facts []models.FactClaim) string {
	var b strings.Builder
	limit := len(facts)
	if limit > 20 {
		limit = 20
	}
	for _, f := range facts[:limit] {
		fmt.Fprintf(&b, "- %s (%s", f.Claim, f.Source)
		if f.IsContradictory {
			b.WriteString(", contradicted elsewhere")
		}
		b.WriteString(")\n")
	}
	return b.String()
}

func renderDialogue(turns []models.AgentDialogueTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[round %d, %s] %s\n", t.RoundNumber, t.AgentType, t.Message)
	}
	return b.String()
}
