package search

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora/internal/embed"
	"github.com/corpora-ai/corpora/internal/errors"
	"github.com/corpora-ai/corpora/internal/store"
)

type searchEnv struct {
	vectors  *store.HNSWStore
	meta     *store.SQLiteStore
	embedder *embed.StaticEmbedder
}

func newSearchEnv(t *testing.T) *searchEnv {
	t.Helper()
	embedder := embed.NewStaticEmbedder(64)
	vectors, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: embedder.Dimensions()})
	require.NoError(t, err)
	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vectors.Close()
		_ = meta.Close()
	})
	return &searchEnv{vectors: vectors, meta: meta, embedder: embedder}
}

func (env *searchEnv) seed(t *testing.T, docID, source string, sourceType store.SourceType, author string, texts []string) {
	t.Helper()
	ctx := context.Background()

	doc := &store.Document{
		ID:          docID,
		Source:      source,
		SourceType:  sourceType,
		ContentHash: docID,
		Processor:   "test",
		UploadedAt:  time.Now(),
		Metadata:    map[string]string{"author": author},
	}
	chunks := make([]*store.Chunk, len(texts))
	ids := make([]string, len(texts))
	vectors := make([][]float32, len(texts))
	metas := make([]store.VectorMeta, len(texts))
	for i, text := range texts {
		vec, err := env.embedder.Embed(ctx, text)
		require.NoError(t, err)
		id := docID + "-" + strconv.Itoa(i)
		chunks[i] = &store.Chunk{ID: id, DocID: docID, Index: i, Text: text, CreatedAt: time.Now()}
		ids[i] = id
		vectors[i] = vec
		metas[i] = store.VectorMeta{
			ChunkID:    id,
			DocID:      docID,
			SourceType: string(sourceType),
			Source:     source,
			Author:     author,
		}
	}
	require.NoError(t, env.meta.SaveDocumentWithChunks(ctx, doc, chunks))
	require.NoError(t, env.vectors.AddVectors(ctx, ids, vectors, metas))
}

func (env *searchEnv) newEngine(t *testing.T, gateway Generator, opts Options) *Engine {
	t.Helper()
	analyzer, err := NewAnalyzer(gateway, AnalyzerConfig{SynonymExpansion: true})
	require.NoError(t, err)
	return NewEngine(env.vectors, env.meta, env.embedder, gateway, analyzer, nil, opts)
}

func TestEngine_QueryReturnsMatchingChunk(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, "doc1", "/data/network.txt", store.SourceTypeText, "alice", []string{
		"the core router uplink saturates every evening",
		"branch office wan failover uses cellular backup",
	})
	env.seed(t, "doc2", "/data/outage.txt", store.SourceTypeText, "bob", []string{
		"certificate expiry caused the vpn outage last week",
	})

	engine := env.newEngine(t, nil, DefaultOptions())
	resp, err := engine.Query(context.Background(), "certificate expiry caused the vpn outage last week", QueryOptions{})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Sources)
	top := resp.Sources[0]
	assert.Equal(t, "doc2-0", top.ChunkID)
	assert.InDelta(t, 1.0, top.Score, 0.01)
	assert.Contains(t, top.Text, "certificate expiry")
	assert.Equal(t, "outage.txt (text)", top.SourceLabel)

	// No gateway configured: the answer is extractive.
	assert.Contains(t, resp.Answer, "certificate expiry")
	assert.NotEmpty(t, resp.ConfidenceLevel)
	assert.Equal(t, len(resp.Sources), resp.TotalSources)
	require.NotNil(t, resp.Analysis)
}

func TestEngine_ThresholdFiltersAndBypass(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, "doc1", "/data/unrelated.txt", store.SourceTypeText, "alice", []string{
		"quarterly budget spreadsheet totals",
	})

	opts := DefaultOptions()
	opts.SimilarityThreshold = 0.8
	engine := env.newEngine(t, nil, opts)
	ctx := context.Background()

	resp, err := engine.Query(ctx, "zebra migration patterns kenya", QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.Contains(t, resp.Answer, "could not find")

	bypassed, err := engine.Query(ctx, "zebra migration patterns kenya", QueryOptions{BypassThreshold: true})
	require.NoError(t, err)
	assert.NotEmpty(t, bypassed.Sources)
}

func TestEngine_SynthesisUsesGateway(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, "doc1", "/data/dns.txt", store.SourceTypeText, "alice", []string{
		"primary dns resolver runs on the infra segment",
	})

	gen := &scriptedGenerator{text: "The resolver runs on the infra segment."}
	engine := env.newEngine(t, gen, DefaultOptions())

	resp, err := engine.Query(context.Background(), "primary dns resolver runs on the infra segment", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "The resolver runs on the infra segment.", resp.Answer)
	assert.Contains(t, gen.last.Prompt, "dns.txt")
	assert.Contains(t, gen.last.Prompt, "primary dns resolver")
}

func TestEngine_SynthesisFailureDegradesToExtractive(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, "doc1", "/data/dns.txt", store.SourceTypeText, "alice", []string{
		"primary dns resolver runs on the infra segment",
	})

	gen := &scriptedGenerator{err: errors.LLMError("all providers failed", nil)}
	analyzer, err := NewAnalyzer(nil, AnalyzerConfig{})
	require.NoError(t, err)
	engine := NewEngine(env.vectors, env.meta, env.embedder, gen, analyzer, nil, DefaultOptions())

	resp, err := engine.Query(context.Background(), "primary dns resolver runs on the infra segment", QueryOptions{})
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "Most relevant passages")
	assert.Contains(t, resp.Answer, "dns resolver")
}

func TestEngine_AggregationCountsDocuments(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, "t1", "INC00000001", store.SourceTypeTicket, "", []string{"printer offline in finance"})
	env.seed(t, "t2", "INC00000002", store.SourceTypeTicket, "", []string{"vpn outage in the east region"})
	env.seed(t, "doc1", "/data/report.txt", store.SourceTypeText, "alice", []string{"annual network report"})

	engine := env.newEngine(t, nil, DefaultOptions())
	resp, err := engine.Query(context.Background(), "how many tickets are open", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Found 2 matching tickets.", resp.Answer)
	assert.Equal(t, "high", resp.ConfidenceLevel)
	assert.Empty(t, resp.Sources)
}

func TestEngine_EmptyQuery(t *testing.T) {
	env := newSearchEnv(t)
	engine := env.newEngine(t, nil, DefaultOptions())

	_, err := engine.Query(context.Background(), "   ", QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmptyQuery, errors.GetCode(err))
}

func TestEngine_TopKOverride(t *testing.T) {
	env := newSearchEnv(t)
	texts := make([]string, 8)
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	for i := range texts {
		texts[i] = "network segment " + words[i] + " status report"
	}
	env.seed(t, "doc1", "/data/segments.txt", store.SourceTypeText, "alice", texts)

	opts := DefaultOptions()
	opts.SimilarityThreshold = 0
	opts.MaxChunksPerDoc = 8
	engine := env.newEngine(t, nil, opts)

	resp, err := engine.Query(context.Background(), "network segment status report", QueryOptions{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 2)
}

func TestBuildVariants(t *testing.T) {
	analyzer, err := NewAnalyzer(nil, AnalyzerConfig{SynonymExpansion: true})
	require.NoError(t, err)
	engine := &Engine{analyzer: analyzer}

	analysis := analyzer.Analyze(context.Background(), "why is the ap offline")
	variants := engine.buildVariants("why is the ap offline", analysis)

	require.LessOrEqual(t, len(variants), maxVariants)
	assert.Equal(t, "original", variants[0].Kind)
	assert.Equal(t, 1.0, variants[0].Confidence)

	kinds := make(map[string]bool)
	for _, v := range variants {
		kinds[v.Kind] = true
		assert.Greater(t, v.Confidence, 0.0)
		assert.LessOrEqual(t, v.Confidence, 1.0)
	}
	assert.True(t, kinds["keywords"])
}

func TestChoosePromotion(t *testing.T) {
	variants := []Variant{
		{Text: "original query", Confidence: 1.0, Kind: "original"},
		{Text: "rewritten query", Confidence: 0.8, Kind: "keywords"},
	}

	// Clear advantage above the floor: promoted.
	enh, llmQuery := choosePromotion(variants, []float64{0.5, 0.75}, "original query")
	require.NotNil(t, enh)
	assert.True(t, enh.Promoted)
	assert.Equal(t, "rewritten query", llmQuery)

	// Advantage but below the absolute floor: not promoted.
	enh, llmQuery = choosePromotion(variants, []float64{0.4, 0.6}, "original query")
	require.NotNil(t, enh)
	assert.False(t, enh.Promoted)
	assert.Equal(t, "original query", llmQuery)

	// Better but under the 20% margin: not promoted.
	enh, llmQuery = choosePromotion(variants, []float64{0.7, 0.75}, "original query")
	require.NotNil(t, enh)
	assert.False(t, enh.Promoted)
	assert.Equal(t, "original query", llmQuery)
}

func TestSourceLabel(t *testing.T) {
	assert.Equal(t, "report.txt (text)", sourceLabel("/data/report.txt", "text"))
	assert.Equal(t, "INC00012345 (ticket)", sourceLabel("INC00012345", "ticket"))
}
