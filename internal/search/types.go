// Package search implements retrieval: query analysis, variant expansion,
// vector search with diversity-aware selection, reranking and LLM response
// synthesis.
package search

import "time"

// Intent tags from query analysis.
const (
	IntentGreeting    = "greeting"
	IntentGoodbye     = "goodbye"
	IntentHelp        = "help"
	IntentInfoSeeking = "information_seeking"
	IntentQuestion    = "question"
	IntentFollowUp    = "follow_up"
	IntentCommand     = "command"
	IntentUnknown     = "unknown"
)

// Complexity levels.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// Query types.
const (
	QueryTypeSingle      = "single"
	QueryTypeMulti       = "multi"
	QueryTypeAggregation = "aggregation"
)

// Scope values.
const (
	ScopeSpecific = "specific"
	ScopeAll      = "all"
	ScopeRange    = "range"
)

// Analysis is the per-query analysis record.
type Analysis struct {
	Intent             string              `json:"intent"`
	Complexity         string              `json:"complexity"`
	QueryType          string              `json:"query_type"`
	NeedsDecomposition bool                `json:"needs_decomposition"`
	EntityType         string              `json:"entity_type"`
	Scope              string              `json:"scope"`
	ScopeTargets       []string            `json:"scope_targets"`
	Action             string              `json:"action"`
	Filters            map[string]string   `json:"filters"`
	SubQueries         []string            `json:"decomposed_queries"`
	Keywords           []string            `json:"search_keywords"`
	Synonyms           map[string][]string `json:"synonyms"`

	// Contextual marks queries that reference earlier conversation turns
	// and need reference resolution before retrieval.
	Contextual bool `json:"contextual"`

	// Method records how the analysis was produced: "llm" or "heuristic".
	Method string `json:"-"`
}

// Result is one retrieved chunk with its scoring trail.
type Result struct {
	ChunkID       string
	Text          string
	Score         float64 // raw similarity from the vector store
	WeightedScore float64 // similarity x variant confidence
	RerankScore   float64
	DiversityScore float64
	FinalScore    float64

	DocID       string
	SourceType  string
	Source      string
	Author      string
	CreatedDate string
	SourceLabel string
	Metadata    map[string]string
}

// Variant is one query formulation tried during retrieval.
type Variant struct {
	Text       string
	Confidence float64
	Kind       string // original, keywords, entity, topic
}

// Enhancement records a variant promotion decision.
type Enhancement struct {
	Variant    string  `json:"variant"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	AvgScore   float64 `json:"avg_score"`
	Promoted   bool    `json:"promoted"`
}

// DiversityMetrics summarises the selected result set.
type DiversityMetrics struct {
	UniqueDocuments   int     `json:"unique_documents"`
	UniqueSourceTypes int     `json:"unique_source_types"`
	UniqueAuthors     int     `json:"unique_authors"`
	DiversityIndex    float64 `json:"diversity_index"`
	CoverageScore     float64 `json:"coverage_score"`
}

// Response is the final answer to a query.
type Response struct {
	Query           string
	Answer          string
	Confidence      float64
	ConfidenceLevel string // high, medium, low
	Sources         []*Result
	TotalSources    int
	Diversity       DiversityMetrics
	Analysis        *Analysis
	Enhancement     *Enhancement
	Timestamp       time.Time
}

// SubResult groups results for one decomposed sub-query.
type SubResult struct {
	Query   string
	Results []*Result
}
