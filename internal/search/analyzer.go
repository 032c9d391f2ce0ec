package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corpora-ai/corpora/internal/llm"
	"github.com/corpora-ai/corpora/internal/store"
)

// Generator is the slice of the LLM gateway the analyzer needs.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// DefaultAnalysisCacheSize bounds the per-process analysis cache.
const DefaultAnalysisCacheSize = 256

// DefaultMaxDecomposed caps sub-queries produced by decomposition.
const DefaultMaxDecomposed = 10

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening)|greetings)\b`)
	goodbyePattern  = regexp.MustCompile(`(?i)^\s*(bye|goodbye|see you|farewell|thanks,? (bye|that'?s all))\b`)
	helpPattern     = regexp.MustCompile(`(?i)^\s*(help|what can you do|how do(es)? (this|it) work)\b`)
	questionPattern = regexp.MustCompile(`(?i)^\s*(who|what|when|where|why|how|which|is|are|do|does|can|could|should)\b`)
	commandPattern  = regexp.MustCompile(`(?i)^\s*(list|show|find|count|compare|give me|tell me)\b`)
	personPattern   = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
	contextualWords = regexp.MustCompile(`(?i)\b(it|that|this one|they|them|those|the same|also|again|what about)\b`)
	aggregationPat  = regexp.MustCompile(`(?i)\b(how many|count of|number of|total number)\b`)
	rangePattern    = regexp.MustCompile(`(?i)\b(between|from .+ to |last (week|month|year)|since)\b`)
	allPattern      = regexp.MustCompile(`(?i)\b(all|every|each|entire|everything)\b`)
)

// entityKeywords maps entity types to tokens that indicate them.
var entityKeywords = map[string][]string{
	"ticket":   {"ticket", "incident", "case", "inc", "outage", "alert"},
	"device":   {"switch", "router", "ap", "firewall", "server", "host", "device", "interface"},
	"person":   {"employee", "person", "who", "staff", "manager", "engineer", "contact"},
	"document": {"document", "file", "report", "spreadsheet", "page", "manual"},
}

// AnalyzerConfig configures the query analyzer.
type AnalyzerConfig struct {
	// UseLLM enables the LLM-backed analysis path. Heuristics are always
	// available as the fallback.
	UseLLM bool

	// MaxDecomposed caps the number of sub-queries (default 10).
	MaxDecomposed int

	// SynonymExpansion enables the domain synonym map.
	SynonymExpansion bool

	// CacheSize bounds the analysis cache (default 256).
	CacheSize int
}

// Analyzer produces an Analysis for a query, preferring the LLM and falling
// back to deterministic heuristics on any failure.
type Analyzer struct {
	gateway Generator
	cfg     AnalyzerConfig
	cache   *lru.Cache[string, *Analysis]
}

// NewAnalyzer creates an analyzer. gateway may be nil, which forces the
// heuristic path.
func NewAnalyzer(gateway Generator, cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.MaxDecomposed <= 0 {
		cfg.MaxDecomposed = DefaultMaxDecomposed
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultAnalysisCacheSize
	}
	cache, err := lru.New[string, *Analysis](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Analyzer{gateway: gateway, cfg: cfg, cache: cache}, nil
}

const analysisSystemPrompt = `You analyse search queries for a document retrieval system. Respond with a single JSON object, no prose.`

const analysisPromptTemplate = `Analyse this query and respond with JSON containing exactly these fields:
{
  "intent": "greeting|goodbye|help|information_seeking|question|follow_up|command|unknown",
  "complexity": "simple|moderate|complex",
  "query_type": "single|multi|aggregation",
  "needs_decomposition": bool,
  "entity_type": "ticket|device|person|document|general",
  "scope": "specific|all|range",
  "scope_targets": [strings],
  "action": "list|count|find|compare|identify",
  "filters": {string: string},
  "decomposed_queries": [strings],
  "search_keywords": [strings]
}

Query: `

// Analyze produces the analysis record for a query.
func (a *Analyzer) Analyze(ctx context.Context, query string) *Analysis {
	query = strings.TrimSpace(query)
	if cached, ok := a.cache.Get(query); ok {
		return cached
	}

	var analysis *Analysis
	if a.cfg.UseLLM && a.gateway != nil {
		analysis = a.analyzeLLM(ctx, query)
	}
	if analysis == nil {
		analysis = a.analyzeHeuristic(query)
	}

	if a.cfg.SynonymExpansion {
		analysis.Synonyms = ExpandSynonyms(analysis.Keywords)
	}
	analysis.Contextual = contextualWords.MatchString(query) && !questionStandsAlone(query)
	if len(analysis.SubQueries) > a.cfg.MaxDecomposed {
		analysis.SubQueries = analysis.SubQueries[:a.cfg.MaxDecomposed]
	}

	a.cache.Add(query, analysis)
	return analysis
}

func (a *Analyzer) analyzeLLM(ctx context.Context, query string) *Analysis {
	resp, err := a.gateway.Generate(ctx, llm.Request{
		System:      analysisSystemPrompt,
		Prompt:      analysisPromptTemplate + query,
		MaxTokens:   500,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		slog.Warn("llm query analysis failed, using heuristics", slog.String("error", err.Error()))
		return nil
	}

	analysis, err := parseAnalysis(resp.Text)
	if err != nil {
		slog.Warn("llm analysis unparseable, using heuristics", slog.String("error", err.Error()))
		return nil
	}
	analysis.Method = "llm"
	if len(analysis.Keywords) == 0 {
		analysis.Keywords = extractKeywords(query)
	}
	return analysis
}

// parseAnalysis extracts the JSON object from the model output, tolerating
// surrounding prose or code fences.
func parseAnalysis(text string) (*Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errNoJSON
	}
	var analysis Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
		return nil, err
	}
	if analysis.Intent == "" {
		return nil, errNoJSON
	}
	normalizeAnalysis(&analysis)
	return &analysis, nil
}

var errNoJSON = jsonError("no JSON object in analysis response")

type jsonError string

func (e jsonError) Error() string { return string(e) }

func normalizeAnalysis(a *Analysis) {
	if !validEnum(a.Intent, IntentGreeting, IntentGoodbye, IntentHelp, IntentInfoSeeking, IntentQuestion, IntentFollowUp, IntentCommand) {
		a.Intent = IntentUnknown
	}
	if !validEnum(a.Complexity, ComplexitySimple, ComplexityModerate, ComplexityComplex) {
		a.Complexity = ComplexitySimple
	}
	if !validEnum(a.QueryType, QueryTypeSingle, QueryTypeMulti, QueryTypeAggregation) {
		a.QueryType = QueryTypeSingle
	}
	if !validEnum(a.Scope, ScopeSpecific, ScopeAll, ScopeRange) {
		a.Scope = ScopeSpecific
	}
}

func validEnum(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// analyzeHeuristic is the deterministic fallback path.
func (a *Analyzer) analyzeHeuristic(query string) *Analysis {
	analysis := &Analysis{
		Method:     "heuristic",
		Complexity: ComplexitySimple,
		QueryType:  QueryTypeSingle,
		Scope:      ScopeSpecific,
		EntityType: "general",
		Action:     "find",
		Keywords:   extractKeywords(query),
	}

	switch {
	case greetingPattern.MatchString(query):
		analysis.Intent = IntentGreeting
		return analysis
	case goodbyePattern.MatchString(query):
		analysis.Intent = IntentGoodbye
		return analysis
	case helpPattern.MatchString(query):
		analysis.Intent = IntentHelp
		return analysis
	case questionPattern.MatchString(query):
		analysis.Intent = IntentQuestion
	case commandPattern.MatchString(query):
		analysis.Intent = IntentCommand
	case len(analysis.Keywords) > 0:
		analysis.Intent = IntentInfoSeeking
	default:
		analysis.Intent = IntentUnknown
	}

	lower := strings.ToLower(query)
	analysis.EntityType = detectEntityType(lower)

	if people := personPattern.FindAllString(query, -1); len(people) > 0 && analysis.EntityType == "person" {
		analysis.ScopeTargets = people
	}

	switch {
	case aggregationPat.MatchString(query):
		analysis.QueryType = QueryTypeAggregation
		analysis.Action = "count"
	case strings.HasPrefix(lower, "compare") || strings.Contains(lower, " versus ") || strings.Contains(lower, " vs "):
		analysis.Action = "compare"
	case strings.HasPrefix(lower, "list") || strings.HasPrefix(lower, "show"):
		analysis.Action = "list"
	}

	switch {
	case rangePattern.MatchString(query):
		analysis.Scope = ScopeRange
	case allPattern.MatchString(query):
		analysis.Scope = ScopeAll
	}

	words := len(strings.Fields(query))
	parts := splitQuestionParts(query)
	switch {
	case len(parts) > 1 || words > 20:
		analysis.Complexity = ComplexityComplex
	case words > 10:
		analysis.Complexity = ComplexityModerate
	}
	if len(parts) > 1 {
		analysis.QueryType = QueryTypeMulti
		analysis.NeedsDecomposition = true
		analysis.SubQueries = parts
	}

	return analysis
}

func detectEntityType(lower string) string {
	best, bestCount := "general", 0
	for entity, tokens := range entityKeywords {
		count := 0
		for _, tok := range tokens {
			// Accept the plural form too.
			if indexWord(lower, tok) >= 0 || indexWord(lower, tok+"s") >= 0 {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = entity, count
		}
	}
	return best
}

// conjoinedTargets matches two proper-noun scope targets joined by "and"
// after a scoping preposition, e.g. "in Building A and Building B".
var conjoinedTargets = regexp.MustCompile(`^(.*\b(?:in|at|for|on|between)\s+)([A-Z][\w-]*(?:\s+[\w-]+)*?)\s+and\s+([A-Z][\w-]*(?:\s+[\w-]+)*)\s*\??\s*$`)

// splitQuestionParts breaks multi-part questions into independent sub-queries.
// Conjunction-joined question clauses qualify, as does one clause scoped to
// two proper-noun targets; a plain "and" between nouns does not.
func splitQuestionParts(query string) []string {
	separators := []string{" and also ", "? and ", "; ", " as well as "}
	parts := []string{query}
	for _, sep := range separators {
		var next []string
		for _, p := range parts {
			for _, piece := range strings.Split(p, sep) {
				piece = strings.TrimSpace(piece)
				if piece != "" {
					next = append(next, piece)
				}
			}
		}
		parts = next
	}
	if len(parts) <= 1 {
		return splitConjoinedTargets(query)
	}
	// Each part must read as its own question or command.
	for _, p := range parts {
		if !questionPattern.MatchString(p) && !commandPattern.MatchString(p) {
			return nil
		}
	}
	return parts
}

// splitConjoinedTargets rewrites "list X in A and B" into one sub-query per
// target, keeping the shared stem.
func splitConjoinedTargets(query string) []string {
	if !questionPattern.MatchString(query) && !commandPattern.MatchString(query) {
		return nil
	}
	m := conjoinedTargets.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil
	}
	return []string{
		strings.TrimSpace(m[1] + m[2]),
		strings.TrimSpace(m[1] + m[3]),
	}
}

// questionStandsAlone reports whether a query is complete without prior
// context despite containing pronoun-like words.
func questionStandsAlone(query string) bool {
	// Queries with a concrete subject of 4+ content words rarely need
	// reference resolution.
	return len(extractKeywords(query)) >= 4
}

func extractKeywords(query string) []string {
	return store.FilterStopWords(store.TokenizeText(query), store.DefaultStopWordMap())
}
