package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/corpora-ai/corpora/internal/chunk"
	"github.com/corpora-ai/corpora/internal/config"
	"github.com/corpora-ai/corpora/internal/convo"
	"github.com/corpora-ai/corpora/internal/embed"
	"github.com/corpora-ai/corpora/internal/ingest"
	"github.com/corpora-ai/corpora/internal/llm"
	"github.com/corpora-ai/corpora/internal/models"
	"github.com/corpora-ai/corpora/internal/search"
	"github.com/corpora-ai/corpora/internal/store"
	"github.com/corpora-ai/corpora/internal/telemetry"
	"github.com/corpora-ai/corpora/internal/ticket"
)

// sentenceEncoderID is the model-manager key for the semantic chunker's
// sentence encoder. The encoder is a second embedder instance that is only
// resident while semantic chunking is actually running; the manager evicts
// it after the idle timeout.
const sentenceEncoderID = "sentence-encoder"

// App holds the wired service stack shared by all commands.
type App struct {
	Config    *config.Config
	Vectors   *store.HNSWStore
	Meta      *store.SQLiteStore
	Keyword   store.KeywordIndex
	Embedder  embed.Embedder
	Gateway   *llm.Gateway
	Ingestor  *ingest.Engine
	Engine    *search.Engine
	Analyzer  *search.Analyzer
	Convos    *convo.Manager
	Scheduler *ticket.Scheduler
	Metrics   *telemetry.QueryMetrics
	Models    *models.Manager
	Compactor *store.Compactor

	lock *flock.Flock
}

// openApp loads configuration and builds the full stack. The data directory
// is guarded with a non-blocking file lock so two processes cannot mutate
// one index.
func openApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire data directory lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("data directory %s is locked by another corpora process", cfg.Paths.DataDir)
	}

	app := &App{Config: cfg, lock: lock}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	// An existing index pins the embedding dimension.
	storedDims, err := store.ReadStoredDimensions(cfg.VectorStorePath())
	if err != nil {
		return err
	}
	dims := cfg.Embedder.Dimensions
	if dims == 0 {
		dims = storedDims
	}

	embedder, err := embed.NewEmbedder(ctx, embedderFactoryConfig(cfg, dims))
	if err != nil {
		return err
	}
	a.Embedder = embedder

	if storedDims > 0 && embedder.Dimensions() != storedDims {
		return fmt.Errorf("embedder produces %d dimensions but the index was built with %d; re-ingest with the new embedder or restore the old one",
			embedder.Dimensions(), storedDims)
	}

	vectors, err := store.NewHNSWStore(store.VectorStoreConfig{
		Path:       cfg.VectorStorePath(),
		Dimensions: embedder.Dimensions(),
	})
	if err != nil {
		return err
	}
	a.Vectors = vectors
	if storedDims > 0 {
		if err := vectors.Load(); err != nil {
			return fmt.Errorf("failed to load vector index: %w", err)
		}
	}

	meta, err := store.NewSQLiteStore(cfg.MetadataDBPath())
	if err != nil {
		return err
	}
	a.Meta = meta

	keyword, err := store.NewKeywordIndex(filepath.Join(cfg.Paths.DataDir, "keyword"), cfg.Keyword.Backend)
	if err != nil {
		return err
	}
	a.Keyword = keyword

	gateway, err := llm.NewGatewayFromConfig(llm.FactoryConfig{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.ModelName,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		MinInterval:       cfg.LLM.MinInterval,
		FallbackProviders: cfg.LLM.FallbackProviders,
		OllamaHost:        cfg.LLM.OllamaHost,
		OpenAIKey:         cfg.LLM.OpenAIKey,
		OpenAIBaseURL:     cfg.LLM.OpenAIBaseURL,
	})
	if err != nil {
		return err
	}
	a.Gateway = gateway

	a.Models = models.NewManager(models.Config{
		MaxMemoryBytes: int64(cfg.Models.MaxTotalMemoryMB) << 20,
		IdleTimeout:    cfg.Models.IdleTimeout,
		SweepInterval:  cfg.Models.SweepInterval,
	})

	var chunker chunk.Chunker
	if cfg.Ingestion.UseSemanticChunking {
		a.Models.Register(sentenceEncoderID, func(ctx context.Context) (models.Model, error) {
			e, err := embed.NewEmbedder(ctx, embedderFactoryConfig(cfg, embedder.Dimensions()))
			if err != nil {
				return nil, err
			}
			return &encoderModel{Embedder: e}, nil
		})
		encoder := &managedEncoder{manager: a.Models}
		chunker = chunk.NewSemanticChunker(encoder, 0, cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	} else {
		chunker = chunk.NewRecursiveChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	}

	registry := ingest.DefaultRegistry(chunker)
	a.Ingestor = ingest.NewEngine(vectors, meta, embedder, registry,
		ingest.WithKeywordIndex(keyword),
		ingest.WithMaxWorkers(cfg.Ingestion.MaxWorkers),
		ingest.WithMaxChunkChars(cfg.Ingestion.MaxChunkChars),
	)

	analyzer, err := search.NewAnalyzer(gateway, search.AnalyzerConfig{
		UseLLM:           cfg.Conversation.EnableLLMQueryAnalysis,
		MaxDecomposed:    cfg.Conversation.MaxDecomposedQueries,
		SynonymExpansion: cfg.Conversation.SynonymExpansionEnabled,
	})
	if err != nil {
		return err
	}
	a.Analyzer = analyzer

	var reranker search.Reranker
	if cfg.Retrieval.EnableReranking && cfg.Retrieval.RerankerEndpoint != "" {
		reranker = search.NewHTTPReranker(cfg.Retrieval.RerankerEndpoint)
	}

	a.Engine = search.NewEngine(vectors, meta, embedder, gateway, analyzer, reranker, search.Options{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		EnableReranking:     cfg.Retrieval.EnableReranking,
		RerankTopK:          cfg.Retrieval.RerankTopK,
		EnableDiversity:     cfg.Retrieval.EnableSourceDiversity,
		DiversityWeight:     cfg.Retrieval.DiversityWeight,
		MaxChunksPerDoc:     cfg.Retrieval.MaxChunksPerDoc,
		MinSourceTypes:      cfg.Retrieval.MinSourceTypes,
		EnableSynthesis:     cfg.Conversation.EnableResponseSynthesis,
	})

	graph := convo.NewGraph(a.Engine, analyzer, gateway, convo.NewQuarantine())
	a.Convos = convo.NewManager(graph, time.Duration(cfg.Memory.ConversationTimeoutHours)*time.Hour)

	if cfg.ExternalSource.Enabled {
		connector, err := ticket.NewConnector(ticket.ConnectorConfig{
			BaseURL:      cfg.ExternalSource.BaseURL,
			TokenURL:     cfg.ExternalSource.TokenURL,
			ClientID:     cfg.ExternalSource.ClientID,
			ClientSecret: cfg.ExternalSource.ClientSecret,
			PageSize:     cfg.ExternalSource.BatchSize,
		})
		if err != nil {
			return err
		}
		a.Scheduler = ticket.NewScheduler(connector, meta, a.Ingestor, ticket.SchedulerConfig{
			FetchInterval: time.Duration(cfg.ExternalSource.FetchIntervalMinutes) * time.Minute,
			MaxPerFetch:   cfg.ExternalSource.MaxIncidentsPerFetch,
			Priorities:    cfg.ExternalSource.PriorityFilter,
			States:        cfg.ExternalSource.StateFilter,
			DaysBack:      cfg.ExternalSource.DaysBack,
			AutoIngest:    cfg.ExternalSource.AutoIngest,
		})
	}

	a.Compactor = store.NewCompactor(vectors, meta, store.CompactorConfig{
		Enabled:         cfg.Compaction.Enabled,
		OrphanThreshold: cfg.Compaction.OrphanThreshold,
		MinOrphanCount:  cfg.Compaction.MinOrphanCount,
		IdleTimeout:     cfg.Compaction.IdleTimeout,
		Cooldown:        cfg.Compaction.Cooldown,
	})
	a.Compactor.Start(ctx)

	a.Metrics = telemetry.NewQueryMetrics()
	return nil
}

// Close shuts the stack down in reverse dependency order and releases the
// data directory lock. Safe to call on a partially built App.
func (a *App) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Compactor != nil {
		a.Compactor.Stop()
	}
	if a.Convos != nil {
		record(a.Convos.Close())
	}
	if a.Models != nil {
		record(a.Models.Close())
	}
	if a.Gateway != nil {
		record(a.Gateway.Close())
	}
	if a.Vectors != nil {
		record(a.Vectors.Save())
		record(a.Vectors.Close())
	}
	if a.Keyword != nil {
		record(a.Keyword.Close())
	}
	if a.Meta != nil {
		record(a.Meta.Close())
	}
	if a.Embedder != nil {
		record(a.Embedder.Close())
	}
	if a.lock != nil {
		record(a.lock.Unlock())
	}
	return firstErr
}

func embedderFactoryConfig(cfg *config.Config, dims int) embed.FactoryConfig {
	return embed.FactoryConfig{
		Provider:      cfg.Embedder.Provider,
		Model:         cfg.Embedder.ModelName,
		Dimensions:    dims,
		BatchSize:     cfg.Embedder.BatchSize,
		CacheSize:     cfg.Embedder.CacheSize,
		OllamaHost:    cfg.Embedder.OllamaHost,
		OpenAIKey:     cfg.Embedder.OpenAIKey,
		OpenAIBaseURL: cfg.Embedder.OpenAIBaseURL,
	}
}

// encoderModel adapts an embedder to the model-manager contract.
type encoderModel struct {
	embed.Embedder
}

// Known resident-set sizes for common embedding models, used for the
// manager's memory accounting.
var modelFootprints = map[string]int64{
	"nomic-embed-text":  274 << 20,
	"mxbai-embed-large": 670 << 20,
	"all-minilm":        46 << 20,
}

func (m *encoderModel) MemoryBytes() int64 {
	if bytes, ok := modelFootprints[m.ModelName()]; ok {
		return bytes
	}
	return 512 << 20
}

// managedEncoder resolves the sentence encoder through the model manager on
// every batch, so the encoder loads lazily and can be evicted when idle.
type managedEncoder struct {
	manager *models.Manager
}

var _ chunk.SentenceEmbedder = (*managedEncoder)(nil)

func (e *managedEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model, err := e.manager.Acquire(ctx, sentenceEncoderID)
	if err != nil {
		return nil, err
	}
	return model.(*encoderModel).EmbedBatch(ctx, texts)
}
