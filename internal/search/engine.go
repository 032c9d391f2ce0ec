package search

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corpora-ai/corpora/internal/embed"
	"github.com/corpora-ai/corpora/internal/errors"
	"github.com/corpora-ai/corpora/internal/llm"
	"github.com/corpora-ai/corpora/internal/store"
)

const (
	// maxVariants caps query formulations tried per search.
	maxVariants = 3

	// promotionRatio is the advantage a variant needs over the original
	// before its text replaces the original in the synthesis prompt.
	promotionRatio = 1.2

	// promotionFloor is the absolute average score a variant needs for
	// promotion regardless of its relative advantage.
	promotionFloor = 0.7

	// synthesisContextChunks bounds the chunks quoted in the prompt.
	synthesisContextChunks = 5

	// retrievalFloorK widens per-variant retrieval when diversity
	// selection needs a candidate pool.
	retrievalFloorK = 20
)

// Options configures the query engine.
type Options struct {
	TopK                int
	SimilarityThreshold float64
	EnableReranking     bool
	RerankTopK          int
	EnableDiversity     bool
	DiversityWeight     float64
	MaxChunksPerDoc     int
	MinSourceTypes      int
	EnableSynthesis     bool
}

// DefaultOptions returns the standard retrieval settings.
func DefaultOptions() Options {
	return Options{
		TopK:                5,
		SimilarityThreshold: 0.5,
		RerankTopK:          20,
		EnableDiversity:     true,
		DiversityWeight:     0.3,
		MaxChunksPerDoc:     3,
		MinSourceTypes:      2,
		EnableSynthesis:     true,
	}
}

// QueryOptions adjusts a single query.
type QueryOptions struct {
	// TopK overrides the configured top-k when positive.
	TopK int

	// BypassThreshold disables the similarity floor. Set by the
	// conversation layer when weak context beats no context.
	BypassThreshold bool

	// History is recent conversation turns included in the synthesis
	// prompt, oldest first.
	History []string

	// Filters narrows aggregation counting.
	Filters map[string]string
}

// Engine runs the full retrieval pipeline for a query.
type Engine struct {
	vectors  store.VectorStore
	meta     *store.SQLiteStore
	embedder embed.Embedder
	gateway  Generator
	analyzer *Analyzer
	reranker Reranker
	fallback Reranker
	opts     Options
}

// NewEngine creates a query engine. gateway and reranker may be nil;
// synthesis then degrades to extractive answers and reranking to a
// score sort.
func NewEngine(vectors store.VectorStore, meta *store.SQLiteStore, embedder embed.Embedder, gateway Generator, analyzer *Analyzer, reranker Reranker, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = DefaultOptions().RerankTopK
	}
	if opts.MaxChunksPerDoc <= 0 {
		opts.MaxChunksPerDoc = DefaultOptions().MaxChunksPerDoc
	}
	return &Engine{
		vectors:  vectors,
		meta:     meta,
		embedder: embedder,
		gateway:  gateway,
		analyzer: analyzer,
		reranker: reranker,
		fallback: ScoreSortReranker{},
		opts:     opts,
	}
}

// Query processes a query into a response.
func (e *Engine) Query(ctx context.Context, query string, qopts QueryOptions) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeEmptyQuery, "query is empty", nil)
	}

	analysis := e.analyzer.Analyze(ctx, query)
	start := time.Now()

	var resp *Response
	var err error
	switch {
	case analysis.QueryType == QueryTypeAggregation:
		resp, err = e.aggregate(ctx, query, analysis, qopts)
	case analysis.NeedsDecomposition && len(analysis.SubQueries) > 1:
		resp, err = e.decomposed(ctx, query, analysis, qopts)
	default:
		resp, err = e.standard(ctx, query, analysis, qopts)
	}
	if err != nil {
		return nil, err
	}

	resp.Analysis = analysis
	resp.Timestamp = time.Now()
	slog.Debug("query processed",
		slog.String("query_type", analysis.QueryType),
		slog.Int("sources", resp.TotalSources),
		slog.Duration("duration", time.Since(start)))
	return resp, nil
}

func (e *Engine) standard(ctx context.Context, query string, analysis *Analysis, qopts QueryOptions) (*Response, error) {
	topK := e.opts.TopK
	if qopts.TopK > 0 {
		topK = qopts.TopK
	}

	selected, enhancement, llmQuery, err := e.retrieve(ctx, query, analysis, topK, qopts.BypassThreshold)
	if err != nil {
		return nil, err
	}

	answer, err := e.synthesize(ctx, llmQuery, selected, qopts.History)
	if err != nil {
		return nil, err
	}

	confidence := ComputeConfidence(selected)
	slog.Debug("confidence computed",
		slog.Float64("confidence", confidence),
		slog.String("level", ConfidenceLevel(confidence)),
		slog.Int("results", len(selected)))
	return &Response{
		Query:           query,
		Answer:          answer,
		Confidence:      confidence,
		ConfidenceLevel: ConfidenceLevel(confidence),
		Sources:         selected,
		TotalSources:    len(selected),
		Diversity:       ComputeMetrics(selected, e.opts.MinSourceTypes),
		Enhancement:     enhancement,
	}, nil
}

// retrieve runs variant expansion, per-variant search, merge, threshold
// filtering, reranking and diversity selection. It returns the selected
// results, the promotion record, and the query text to hand to the LLM.
func (e *Engine) retrieve(ctx context.Context, query string, analysis *Analysis, topK int, bypassThreshold bool) ([]*Result, *Enhancement, string, error) {
	variants := e.buildVariants(query, analysis)

	k := topK
	if e.opts.EnableDiversity {
		k = 3 * topK
		if k < retrievalFloorK {
			k = retrievalFloorK
		}
	}

	// Variants search in parallel; the merge runs after all complete.
	perVariant := make([][]*Result, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for vi, variant := range variants {
		g.Go(func() error {
			hits, err := e.searchVariant(gctx, variant, k)
			if err != nil {
				return err
			}
			perVariant[vi] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, "", err
	}

	merged := make(map[string]*Result)
	variantAvg := make([]float64, len(variants))
	for vi, hits := range perVariant {
		var sum float64
		for _, hit := range hits {
			sum += hit.Score
			if existing, ok := merged[hit.ChunkID]; !ok || hit.WeightedScore > existing.WeightedScore {
				merged[hit.ChunkID] = hit
			}
		}
		if len(hits) > 0 {
			variantAvg[vi] = sum / float64(len(hits))
		}
	}

	enhancement, llmQuery := choosePromotion(variants, variantAvg, query)
	if enhancement != nil {
		slog.Debug("variant promotion",
			slog.String("variant", enhancement.Variant),
			slog.Float64("avg_score", enhancement.AvgScore),
			slog.Float64("original_avg", variantAvg[0]),
			slog.Bool("promoted", enhancement.Promoted))
	}

	results := make([]*Result, 0, len(merged))
	for _, r := range merged {
		if !bypassThreshold && r.Score < e.opts.SimilarityThreshold {
			continue
		}
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].WeightedScore > results[j].WeightedScore })

	slog.Debug("retrieval filtered",
		slog.Int("variants", len(variants)),
		slog.Int("merged", len(merged)),
		slog.Int("kept", len(results)),
		slog.Float64("threshold", e.opts.SimilarityThreshold),
		slog.Bool("bypass", bypassThreshold),
		slog.Float64("diversity_weight", e.diversityWeight()))

	if err := e.hydrate(ctx, results); err != nil {
		return nil, nil, "", err
	}

	if e.opts.EnableReranking && len(results) > 0 {
		limit := e.opts.RerankTopK
		if limit > len(results) {
			limit = len(results)
		}
		results = e.rerank(ctx, query, results[:limit])
	}

	ScoreDiversity(results, e.diversityWeight())
	var selected []*Result
	if e.opts.EnableDiversity {
		selected = SelectDiverse(results, topK, e.opts.MaxChunksPerDoc)
	} else {
		sort.SliceStable(results, func(i, j int) bool { return results[i].FinalScore > results[j].FinalScore })
		if len(results) > topK {
			results = results[:topK]
		}
		selected = results
	}
	return selected, enhancement, llmQuery, nil
}

func (e *Engine) diversityWeight() float64 {
	if !e.opts.EnableDiversity {
		return 0
	}
	return e.opts.DiversityWeight
}

// buildVariants produces up to three query formulations: the original, a
// keyword-joined form, and a synonym rewrite.
func (e *Engine) buildVariants(query string, analysis *Analysis) []Variant {
	variants := []Variant{{Text: query, Confidence: 1.0, Kind: "original"}}

	if len(analysis.Keywords) >= 2 {
		joined := strings.Join(analysis.Keywords, " ")
		if !strings.EqualFold(joined, query) {
			variants = append(variants, Variant{Text: joined, Confidence: 0.8, Kind: "keywords"})
		}
	}
	if len(variants) < maxVariants && len(analysis.Synonyms) > 0 {
		if rewritten := SynonymVariant(query, analysis.Synonyms); rewritten != "" && rewritten != query {
			variants = append(variants, Variant{Text: rewritten, Confidence: 0.7, Kind: "entity"})
		}
	}
	if len(variants) < maxVariants && analysis.EntityType != "" && analysis.EntityType != "general" {
		expanded := query + " " + analysis.EntityType
		variants = append(variants, Variant{Text: expanded, Confidence: 0.6, Kind: "topic"})
	}
	if len(variants) > maxVariants {
		variants = variants[:maxVariants]
	}
	return variants
}

func (e *Engine) searchVariant(ctx context.Context, variant Variant, k int) ([]*Result, error) {
	vector, err := e.embedder.Embed(ctx, variant.Text)
	if err != nil {
		return nil, errors.RetrievalError("failed to embed query", err).WithDetail("variant", variant.Kind)
	}
	hits, err := e.vectors.SearchWithMetadata(ctx, vector, k)
	if err != nil {
		return nil, errors.RetrievalError("vector search failed", err)
	}

	results := make([]*Result, len(hits))
	for i, hit := range hits {
		score := float64(hit.Score)
		results[i] = &Result{
			ChunkID:       hit.ChunkID,
			Score:         score,
			WeightedScore: score * variant.Confidence,
			DocID:         hit.Meta.DocID,
			SourceType:    hit.Meta.SourceType,
			Source:        hit.Meta.Source,
			Author:        hit.Meta.Author,
			CreatedDate:   hit.Meta.CreatedDate,
			SourceLabel:   sourceLabel(hit.Meta.Source, hit.Meta.SourceType),
		}
	}
	return results, nil
}

// choosePromotion picks the variant whose text goes to the LLM. A non-original
// variant wins only with a clear advantage over the original.
func choosePromotion(variants []Variant, avg []float64, original string) (*Enhancement, string) {
	if len(variants) < 2 {
		return nil, original
	}
	originalAvg := avg[0]
	bestIdx := 0
	for i := 1; i < len(variants); i++ {
		if avg[i] > avg[bestIdx] {
			bestIdx = i
		}
	}
	if bestIdx == 0 {
		return nil, original
	}

	best := variants[bestIdx]
	promoted := avg[bestIdx] >= promotionFloor &&
		(originalAvg == 0 || avg[bestIdx] >= originalAvg*promotionRatio)
	enh := &Enhancement{
		Variant:    best.Text,
		Kind:       best.Kind,
		Confidence: best.Confidence,
		AvgScore:   avg[bestIdx],
		Promoted:   promoted,
	}
	if promoted {
		return enh, best.Text
	}
	return enh, original
}

// hydrate fills chunk text and metadata from the metadata store.
func (e *Engine) hydrate(ctx context.Context, results []*Result) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := e.meta.GetChunks(ctx, ids)
	if err != nil {
		return errors.RetrievalError("failed to load chunk texts", err)
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, r := range results {
		if c, ok := byID[r.ChunkID]; ok {
			r.Text = c.Text
			r.Metadata = c.Metadata
		}
	}
	return nil
}

func (e *Engine) rerank(ctx context.Context, query string, results []*Result) []*Result {
	reranker := e.reranker
	if reranker == nil {
		reranker = e.fallback
	}
	out, err := reranker.Rerank(ctx, query, results)
	if err != nil {
		slog.Warn("reranker unavailable, sorting by similarity", slog.String("error", err.Error()))
		out, _ = e.fallback.Rerank(ctx, query, results)
	}
	return out
}

// synthesize produces the answer text for the selected chunks.
func (e *Engine) synthesize(ctx context.Context, query string, results []*Result, history []string) (string, error) {
	if len(results) == 0 {
		return "I could not find relevant information for that query.", nil
	}
	if !e.opts.EnableSynthesis || e.gateway == nil {
		return extractiveAnswer(results), nil
	}

	var b strings.Builder
	b.WriteString("Answer the question using only the context below. Cite sources by their labels. If the context does not contain the answer, say so.\n\n")
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			b.WriteString(turn)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Context:\n")
	limit := synthesisContextChunks
	if limit > len(results) {
		limit = len(results)
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", results[i].SourceLabel, results[i].Text)
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer:", query)

	resp, err := e.gateway.Generate(ctx, llm.Request{Prompt: b.String(), Temperature: -1})
	if err != nil {
		slog.Warn("synthesis failed, returning extractive answer", slog.String("error", err.Error()))
		return extractiveAnswer(results), nil
	}
	return strings.TrimSpace(resp.Text), nil
}

// extractiveAnswer concatenates the strongest snippets when no LLM is
// available.
func extractiveAnswer(results []*Result) string {
	var b strings.Builder
	limit := synthesisContextChunks
	if limit > len(results) {
		limit = len(results)
	}
	b.WriteString("Most relevant passages:\n")
	for i := 0; i < limit; i++ {
		snippet := results[i].Text
		if len(snippet) > 300 {
			snippet = snippet[:300] + "..."
		}
		fmt.Fprintf(&b, "\n[%s] %s\n", results[i].SourceLabel, snippet)
	}
	return b.String()
}

// decomposed answers a multi-part query by retrieving per sub-query and
// synthesising once over all collected results.
func (e *Engine) decomposed(ctx context.Context, query string, analysis *Analysis, qopts QueryOptions) (*Response, error) {
	topK := e.opts.TopK
	if qopts.TopK > 0 {
		topK = qopts.TopK
	}

	var subResults []SubResult
	var all []*Result
	for _, sub := range analysis.SubQueries {
		subAnalysis := e.analyzer.Analyze(ctx, sub)
		selected, _, _, err := e.retrieve(ctx, sub, subAnalysis, topK, qopts.BypassThreshold)
		if err != nil {
			return nil, err
		}
		subResults = append(subResults, SubResult{Query: sub, Results: selected})
		all = append(all, selected...)
	}

	answer, err := e.synthesizeDecomposed(ctx, query, subResults)
	if err != nil {
		return nil, err
	}

	confidence := ComputeConfidence(all)
	return &Response{
		Query:           query,
		Answer:          answer,
		Confidence:      confidence,
		ConfidenceLevel: ConfidenceLevel(confidence),
		Sources:         all,
		TotalSources:    len(all),
		Diversity:       ComputeMetrics(all, e.opts.MinSourceTypes),
	}, nil
}

func (e *Engine) synthesizeDecomposed(ctx context.Context, query string, subResults []SubResult) (string, error) {
	if e.gateway == nil || !e.opts.EnableSynthesis {
		var b strings.Builder
		for _, sr := range subResults {
			fmt.Fprintf(&b, "## %s\n%s\n", sr.Query, extractiveAnswer(sr.Results))
		}
		return b.String(), nil
	}

	var b strings.Builder
	b.WriteString("Answer the overall question by combining the findings for each part. Use only the provided context.\n\n")
	for _, sr := range subResults {
		fmt.Fprintf(&b, "Part: %s\n", sr.Query)
		limit := synthesisContextChunks
		if limit > len(sr.Results) {
			limit = len(sr.Results)
		}
		for i := 0; i < limit; i++ {
			fmt.Fprintf(&b, "[%s]\n%s\n", sr.Results[i].SourceLabel, sr.Results[i].Text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Overall question: %s\nAnswer:", query)

	resp, err := e.gateway.Generate(ctx, llm.Request{Prompt: b.String(), Temperature: -1})
	if err != nil {
		return "", errors.RetrievalError("decomposed synthesis failed", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// aggregate answers counting queries from the metadata store instead of
// vector retrieval.
func (e *Engine) aggregate(ctx context.Context, query string, analysis *Analysis, qopts QueryOptions) (*Response, error) {
	filters := buildAggregationFilters(analysis, qopts.Filters)

	total := 0
	for _, f := range filters {
		count, err := e.meta.CountDocuments(ctx, f)
		if err != nil {
			return nil, errors.RetrievalError("aggregation count failed", err)
		}
		total += count
	}

	noun := analysis.EntityType
	if noun == "" || noun == "general" {
		noun = "document"
	}
	answer := fmt.Sprintf("Found %d matching %ss.", total, noun)
	if total == 1 {
		answer = fmt.Sprintf("Found 1 matching %s.", noun)
	}

	return &Response{
		Query:           query,
		Answer:          answer,
		Confidence:      1.0,
		ConfidenceLevel: "high",
	}, nil
}

// buildAggregationFilters maps the analysis onto document filters. Scope
// targets each get their own filter; counts are summed across them.
func buildAggregationFilters(analysis *Analysis, extra map[string]string) []store.DocumentFilter {
	base := store.DocumentFilter{}
	switch analysis.EntityType {
	case "ticket":
		base.SourceType = string(store.SourceTypeTicket)
	case "document":
		// All source types count.
	}

	metadataEq := make(map[string]string)
	for k, v := range analysis.Filters {
		switch k {
		case "source_type":
			base.SourceType = v
		case "created_month", "month":
			base.CreatedMonth = v
		default:
			metadataEq[k] = v
		}
	}
	for k, v := range extra {
		switch k {
		case "source_type":
			base.SourceType = v
		case "created_month", "month":
			base.CreatedMonth = v
		default:
			metadataEq[k] = v
		}
	}
	if len(metadataEq) > 0 {
		base.MetadataEq = metadataEq
	}

	if len(analysis.ScopeTargets) == 0 {
		return []store.DocumentFilter{base}
	}
	filters := make([]store.DocumentFilter, 0, len(analysis.ScopeTargets))
	for _, target := range analysis.ScopeTargets {
		f := base
		eq := make(map[string]string, len(f.MetadataEq)+1)
		for k, v := range f.MetadataEq {
			eq[k] = v
		}
		eq["topic"] = target
		f.MetadataEq = eq
		filters = append(filters, f)
	}
	return filters
}

func sourceLabel(source, sourceType string) string {
	name := filepath.Base(source)
	if name == "." || name == "" {
		name = source
	}
	if sourceType == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, sourceType)
}
