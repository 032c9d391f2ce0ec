package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora/internal/llm"
)

type scriptedGenerator struct {
	text  string
	err   error
	calls int
	last  llm.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Text: g.text, Provider: "scripted"}, nil
}

func newHeuristicAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(nil, AnalyzerConfig{SynonymExpansion: true})
	require.NoError(t, err)
	return a
}

func TestAnalyzer_HeuristicIntents(t *testing.T) {
	a := newHeuristicAnalyzer(t)
	ctx := context.Background()

	tests := []struct {
		query  string
		intent string
	}{
		{"hello there", IntentGreeting},
		{"goodbye", IntentGoodbye},
		{"help", IntentHelp},
		{"what is the vpn configuration", IntentQuestion},
		{"list open tickets", IntentCommand},
		{"network latency report", IntentInfoSeeking},
	}
	for _, tc := range tests {
		got := a.Analyze(ctx, tc.query)
		assert.Equal(t, tc.intent, got.Intent, tc.query)
		assert.Equal(t, "heuristic", got.Method)
	}
}

func TestAnalyzer_AggregationDetection(t *testing.T) {
	a := newHeuristicAnalyzer(t)

	got := a.Analyze(context.Background(), "how many tickets were opened last month")
	assert.Equal(t, QueryTypeAggregation, got.QueryType)
	assert.Equal(t, "count", got.Action)
	assert.Equal(t, "ticket", got.EntityType)
	assert.Equal(t, ScopeRange, got.Scope)
}

func TestAnalyzer_Decomposition(t *testing.T) {
	a := newHeuristicAnalyzer(t)

	got := a.Analyze(context.Background(), "what is the vpn status? and list the firewall rules")
	assert.True(t, got.NeedsDecomposition)
	assert.Equal(t, QueryTypeMulti, got.QueryType)
	require.Len(t, got.SubQueries, 2)
	assert.Contains(t, got.SubQueries[0], "vpn status")
	assert.Contains(t, got.SubQueries[1], "firewall rules")
}

func TestAnalyzer_DecomposesConjoinedScopeTargets(t *testing.T) {
	a := newHeuristicAnalyzer(t)

	got := a.Analyze(context.Background(), "List all AP models in Building A and Building B")
	assert.True(t, got.NeedsDecomposition)
	assert.Equal(t, QueryTypeMulti, got.QueryType)
	require.Len(t, got.SubQueries, 2)
	assert.Equal(t, "List all AP models in Building A", got.SubQueries[0])
	assert.Equal(t, "List all AP models in Building B", got.SubQueries[1])
	assert.Equal(t, "list", got.Action)
	assert.Equal(t, ScopeAll, got.Scope)
}

func TestAnalyzer_NoDecompositionForPlainConjunction(t *testing.T) {
	a := newHeuristicAnalyzer(t)

	got := a.Analyze(context.Background(), "what are the switch and router models")
	assert.False(t, got.NeedsDecomposition)
	assert.Empty(t, got.SubQueries)
}

func TestAnalyzer_PersonEntities(t *testing.T) {
	a := newHeuristicAnalyzer(t)

	got := a.Analyze(context.Background(), "who is the manager of Jane Smith")
	assert.Equal(t, "person", got.EntityType)
	assert.Contains(t, got.ScopeTargets, "Jane Smith")
}

func TestAnalyzer_SynonymExpansion(t *testing.T) {
	a := newHeuristicAnalyzer(t)

	got := a.Analyze(context.Background(), "why is the ap offline")
	require.NotNil(t, got.Synonyms)
	assert.Contains(t, got.Synonyms["ap"], "access point")
}

func TestAnalyzer_LLMPath(t *testing.T) {
	gen := &scriptedGenerator{text: `{"intent":"question","complexity":"moderate","query_type":"single","entity_type":"device","scope":"specific","action":"find","search_keywords":["vpn","gateway"]}`}
	a, err := NewAnalyzer(gen, AnalyzerConfig{UseLLM: true})
	require.NoError(t, err)

	got := a.Analyze(context.Background(), "which gateway terminates the vpn")
	assert.Equal(t, "llm", got.Method)
	assert.Equal(t, IntentQuestion, got.Intent)
	assert.Equal(t, ComplexityModerate, got.Complexity)
	assert.Equal(t, "device", got.EntityType)
	assert.Equal(t, []string{"vpn", "gateway"}, got.Keywords)
	assert.True(t, gen.last.JSONMode)
}

func TestAnalyzer_LLMGarbageFallsBackToHeuristics(t *testing.T) {
	gen := &scriptedGenerator{text: "I cannot answer that."}
	a, err := NewAnalyzer(gen, AnalyzerConfig{UseLLM: true})
	require.NoError(t, err)

	got := a.Analyze(context.Background(), "what is the dns server address")
	assert.Equal(t, "heuristic", got.Method)
	assert.Equal(t, IntentQuestion, got.Intent)
}

func TestAnalyzer_InvalidEnumsNormalized(t *testing.T) {
	got, err := parseAnalysis(`{"intent":"question","complexity":"extreme","query_type":"weird","scope":"galactic"}`)
	require.NoError(t, err)
	assert.Equal(t, ComplexitySimple, got.Complexity)
	assert.Equal(t, QueryTypeSingle, got.QueryType)
	assert.Equal(t, ScopeSpecific, got.Scope)
}

func TestAnalyzer_CachesResults(t *testing.T) {
	gen := &scriptedGenerator{text: `{"intent":"question","complexity":"simple","query_type":"single","scope":"specific"}`}
	a, err := NewAnalyzer(gen, AnalyzerConfig{UseLLM: true})
	require.NoError(t, err)
	ctx := context.Background()

	a.Analyze(ctx, "what is the uplink speed")
	a.Analyze(ctx, "what is the uplink speed")
	assert.Equal(t, 1, gen.calls)
}

func TestSynonymVariant(t *testing.T) {
	syn := map[string][]string{"ap": {"access point"}}
	assert.Equal(t, "why is the access point offline", SynonymVariant("why is the ap offline", syn))
	assert.Equal(t, "", SynonymVariant("map of the office", syn)) // no word boundary match
}
