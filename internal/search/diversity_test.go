package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkResult(chunkID, docID, sourceType, author, text string, score float64) *Result {
	return &Result{
		ChunkID:       chunkID,
		DocID:         docID,
		SourceType:    sourceType,
		Author:        author,
		Text:          text,
		Score:         score,
		WeightedScore: score,
	}
}

func TestScoreDiversity_UniqueSetScoresHigherThanClones(t *testing.T) {
	unique := []*Result{
		mkResult("c1", "d1", "text", "alice", "router uplink saturation on the core", 0.9),
		mkResult("c2", "d2", "ticket", "bob", "certificate expiry broke the vpn tunnel", 0.9),
		mkResult("c3", "d3", "spreadsheet", "carol", "inventory of branch office switches", 0.9),
	}
	clones := []*Result{
		mkResult("c1", "d1", "text", "alice", "router uplink saturation on the core", 0.9),
		mkResult("c2", "d1", "text", "alice", "router uplink saturation on the core", 0.9),
		mkResult("c3", "d1", "text", "alice", "router uplink saturation on the core", 0.9),
	}
	ScoreDiversity(unique, 0.3)
	ScoreDiversity(clones, 0.3)

	assert.Greater(t, unique[0].DiversityScore, clones[0].DiversityScore)
	// Identical clones share everything, so every component bottoms out.
	assert.InDelta(t, 0.0, clones[0].DiversityScore, 0.01)
	assert.Greater(t, unique[0].FinalScore, clones[0].FinalScore)
}

func TestScoreDiversity_BlendsRelevance(t *testing.T) {
	results := []*Result{mkResult("c1", "d1", "text", "alice", "single result", 0.8)}
	ScoreDiversity(results, 0.3)

	// One result: all diversity components are at their ceiling except the
	// shared-count terms, which are zero for a singleton set.
	assert.InDelta(t, 0.25, results[0].DiversityScore, 0.001) // content only
	assert.InDelta(t, 0.8*0.7+0.25*0.3, results[0].FinalScore, 0.001)
}

func TestScoreDiversity_ZeroWeightKeepsRelevance(t *testing.T) {
	results := []*Result{
		mkResult("c1", "d1", "text", "alice", "first passage", 0.9),
		mkResult("c2", "d2", "ticket", "bob", "second passage", 0.6),
	}
	ScoreDiversity(results, 0)
	assert.InDelta(t, 0.9, results[0].FinalScore, 0.001)
	assert.InDelta(t, 0.6, results[1].FinalScore, 0.001)
}

func TestSelectDiverse_CapsChunksPerDoc(t *testing.T) {
	var results []*Result
	for i := 0; i < 6; i++ {
		r := mkResult(string(rune('a'+i)), "d1", "text", "alice", "same doc chunk", 0.9-float64(i)*0.01)
		r.FinalScore = r.WeightedScore
		results = append(results, r)
	}
	fresh := mkResult("z", "d2", "ticket", "bob", "other doc", 0.5)
	fresh.FinalScore = 0.5
	results = append(results, fresh)

	selected := SelectDiverse(results, 4, 2)
	require.Len(t, selected, 3)

	perDoc := map[string]int{}
	for _, r := range selected {
		perDoc[r.DocID]++
	}
	// The per-doc cap holds even with the quota unfilled; the weaker
	// result from the second document still gets in.
	assert.Equal(t, 2, perDoc["d1"])
	assert.Equal(t, 1, perDoc["d2"])
}

func TestSelectDiverse_OrderedByFinalScore(t *testing.T) {
	results := []*Result{
		mkResult("c1", "d1", "text", "alice", "low", 0.3),
		mkResult("c2", "d2", "ticket", "bob", "high", 0.9),
		mkResult("c3", "d3", "word", "carol", "mid", 0.6),
	}
	for _, r := range results {
		r.FinalScore = r.WeightedScore
	}
	selected := SelectDiverse(results, 3, 3)
	require.Len(t, selected, 3)
	assert.Equal(t, "c2", selected[0].ChunkID)
	assert.Equal(t, "c3", selected[1].ChunkID)
	assert.Equal(t, "c1", selected[2].ChunkID)
}

func TestComputeMetrics(t *testing.T) {
	results := []*Result{
		mkResult("c1", "d1", "text", "alice", "a", 0.9),
		mkResult("c2", "d1", "text", "", "b", 0.8),
		mkResult("c3", "d2", "ticket", "bob", "c", 0.7),
	}
	for _, r := range results {
		r.DiversityScore = 0.5
	}

	m := ComputeMetrics(results, 2)
	assert.Equal(t, 2, m.UniqueDocuments)
	assert.Equal(t, 2, m.UniqueSourceTypes)
	assert.Equal(t, 2, m.UniqueAuthors)
	assert.InDelta(t, 0.5, m.DiversityIndex, 0.001)
	assert.InDelta(t, 1.0, m.CoverageScore, 0.001)

	single := ComputeMetrics(results[:1], 2)
	assert.InDelta(t, 0.5, single.CoverageScore, 0.001)
}

func TestComputeMetrics_Empty(t *testing.T) {
	assert.Equal(t, DiversityMetrics{}, ComputeMetrics(nil, 2))
}
