// Package compaction bounds the intermediate artifacts that get re-embedded
// into prompts. Every pipeline stage feeds prior output into a new model
// call; without these limits prompt size grows without bound across stages
// and dialogue rounds. All helpers are deterministic and idempotent.
package compaction

import (
	"sort"
	"strings"

	"github.com/meridian-lab/fathom/internal/models"
)

// Centralized compaction budgets. Keep these values consistent across the
// research, dialogue and synthesis paths.
const (
	// Max length for free-text report fields embedded into prompts.
	MaxReportChars = 5000

	// Bounds for the dialogue history window, in turns. The window stays
	// symmetric across the two agents, so effective values are even.
	MinHistoryTurns = 4
	MaxHistoryTurns = 10

	// Number of leading results kept with body text when compacting a
	// finding list; everything after keeps only title, url and score.
	PreviewResults = 3

	// Max body length for the inlined preview entries.
	MaxPreviewChars = 400
)

// CompactReport truncates free-form report text to the report budget,
// rune-safe, appending an ellipsis when cut.
func CompactReport(s string) string {
	return truncate(s, MaxReportChars)
}

// CompactTurns returns the most recent n turns, clamped to
// [MinHistoryTurns, MaxHistoryTurns] and rounded down to whole rounds so
// the window never splits a round between the two agents. Input already
// inside the window is returned unchanged.
func CompactTurns(turns []models.AgentDialogueTurn, n int) []models.AgentDialogueTurn {
	if n < MinHistoryTurns {
		n = MinHistoryTurns
	}
	if n > MaxHistoryTurns {
		n = MaxHistoryTurns
	}
	n -= n % 2
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// CompactResults reduces a finding list to the topN by relevance score.
// The first PreviewResults entries keep a bounded body; the rest keep only
// title, url and score. Ties break by original position, so the output is
// stable for a given input.
func CompactResults(results []models.SearchResult, topN int) []models.SearchResult {
	if topN <= 0 || len(results) == 0 {
		return []models.SearchResult{}
	}

	type indexed struct {
		pos    int
		result models.SearchResult
	}
	ranked := make([]indexed, len(results))
	for i, r := range results {
		ranked[i] = indexed{pos: i, result: r}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].result.RelevanceScore != ranked[j].result.RelevanceScore {
			return ranked[i].result.RelevanceScore > ranked[j].result.RelevanceScore
		}
		return ranked[i].pos < ranked[j].pos
	})

	if topN > len(ranked) {
		topN = len(ranked)
	}
	compact := make([]models.SearchResult, 0, topN)
	for i := 0; i < topN; i++ {
		r := ranked[i].result
		if i < PreviewResults {
			r.Content = truncate(r.Content, MaxPreviewChars)
		} else {
			r.Content = ""
			r.Metadata = nil
		}
		compact = append(compact, r)
	}
	return compact
}

// truncate cuts s to maxLen runes, appending "..." when truncated.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return strings.Repeat(".", maxLen)
	}
	return string(runes[:maxLen-3]) + "..."
}
