package compaction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/fathom/internal/models"
)

func TestCompactReportBudget(t *testing.T) {
	long := strings.Repeat("evidence ", 2000)
	compact := CompactReport(long)

	assert.LessOrEqual(t, len([]rune(compact)), MaxReportChars)
	assert.True(t, strings.HasSuffix(compact, "..."))
}

func TestCompactReportIdempotent(t *testing.T) {
	long := strings.Repeat("x", MaxReportChars*3)
	once := CompactReport(long)
	twice := CompactReport(once)
	assert.Equal(t, once, twice)
}

func TestCompactReportShortUnchanged(t *testing.T) {
	short := "a concise report"
	assert.Equal(t, short, CompactReport(short))
}

func makeTurns(rounds int) []models.AgentDialogueTurn {
	turns := make([]models.AgentDialogueTurn, 0, rounds*2)
	for round := 1; round <= rounds; round++ {
		turns = append(turns,
			models.AgentDialogueTurn{RoundNumber: round, AgentType: models.AgentInductive},
			models.AgentDialogueTurn{RoundNumber: round, AgentType: models.AgentDeductive},
		)
	}
	return turns
}

func TestCompactTurnsWindow(t *testing.T) {
	turns := makeTurns(10) // 20 turns

	window := CompactTurns(turns, 8)
	require.Len(t, window, 8)
	// Window holds the last 4 whole rounds, inductive/deductive pairs intact
	assert.Equal(t, 7, window[0].RoundNumber)
	assert.Equal(t, models.AgentInductive, window[0].AgentType)
	assert.Equal(t, 10, window[7].RoundNumber)
	assert.Equal(t, models.AgentDeductive, window[7].AgentType)
}

func TestCompactTurnsClampsBounds(t *testing.T) {
	turns := makeTurns(10)

	assert.Len(t, CompactTurns(turns, 1), MinHistoryTurns)
	assert.Len(t, CompactTurns(turns, 99), MaxHistoryTurns)
	// Odd windows round down to keep rounds whole
	assert.Len(t, CompactTurns(turns, 7), 6)
}

func TestCompactTurnsIdempotent(t *testing.T) {
	turns := makeTurns(10)
	once := CompactTurns(turns, 8)
	twice := CompactTurns(once, 8)
	assert.Equal(t, once, twice)
}

func TestCompactTurnsShortHistoryUnchanged(t *testing.T) {
	turns := makeTurns(2)
	assert.Equal(t, turns, CompactTurns(turns, 8))
}

func makeResults(scores ...float64) []models.SearchResult {
	results := make([]models.SearchResult, len(scores))
	for i, score := range scores {
		results[i] = models.SearchResult{
			ID:             string(rune('a' + i)),
			Title:          "result",
			Content:        strings.Repeat("body ", 200),
			URL:            "https://example.com/" + string(rune('a'+i)),
			RelevanceScore: score,
			Metadata:       map[string]interface{}{"k": "v"},
		}
	}
	return results
}

func TestCompactResultsTopN(t *testing.T) {
	results := makeResults(10, 90, 50, 70, 30)

	compact := CompactResults(results, 3)
	require.Len(t, compact, 3)
	assert.Equal(t, 90.0, compact[0].RelevanceScore)
	assert.Equal(t, 70.0, compact[1].RelevanceScore)
	assert.Equal(t, 50.0, compact[2].RelevanceScore)
}

func TestCompactResultsPreviewAndStrip(t *testing.T) {
	results := makeResults(90, 80, 70, 60, 50)

	compact := CompactResults(results, 5)
	require.Len(t, compact, 5)
	for i, r := range compact {
		if i < PreviewResults {
			assert.NotEmpty(t, r.Content)
			assert.LessOrEqual(t, len([]rune(r.Content)), MaxPreviewChars)
		} else {
			assert.Empty(t, r.Content, "entry %d keeps only title/url/score", i)
			assert.Nil(t, r.Metadata)
		}
		assert.NotEmpty(t, r.Title)
		assert.NotEmpty(t, r.URL)
	}
}

func TestCompactResultsStableTies(t *testing.T) {
	results := makeResults(50, 50, 50)

	compact := CompactResults(results, 2)
	require.Len(t, compact, 2)
	assert.Equal(t, "a", compact[0].ID)
	assert.Equal(t, "b", compact[1].ID)
}

func TestCompactResultsIdempotent(t *testing.T) {
	results := makeResults(10, 90, 50, 70, 30, 20, 80)

	once := CompactResults(results, 5)
	twice := CompactResults(once, 5)
	assert.Equal(t, once, twice)
}
