// Package config provides configuration loading for Corpora.
//
// Configuration merges, in priority order:
//  1. Built-in defaults
//  2. The YAML config file (corpora.yaml in the data dir, or an explicit path)
//  3. CORPORA_* environment variables (highest priority)
//
// A .env file in the working directory is loaded before env overrides apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete Corpora configuration.
type Config struct {
	Version        int                  `yaml:"version" json:"version"`
	Paths          PathsConfig          `yaml:"paths" json:"paths"`
	Ingestion      IngestionConfig      `yaml:"ingestion" json:"ingestion"`
	Retrieval      RetrievalConfig      `yaml:"retrieval" json:"retrieval"`
	LLM            LLMConfig            `yaml:"llm" json:"llm"`
	Embedder       EmbedderConfig       `yaml:"embedder" json:"embedder"`
	Conversation   ConversationConfig   `yaml:"conversation" json:"conversation"`
	Memory         MemoryConfig         `yaml:"memory" json:"memory"`
	ExternalSource ExternalSourceConfig `yaml:"external_source" json:"external_source"`
	Keyword        KeywordConfig        `yaml:"keyword" json:"keyword"`
	Compaction     CompactionConfig     `yaml:"compaction" json:"compaction"`
	Models         ModelsConfig         `yaml:"models" json:"models"`
	LogLevel       string               `yaml:"log_level" json:"log_level"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir is the root directory for the index, metadata DB and caches.
	// Defaults to ~/.corpora
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// IngestionConfig configures the chunker and ingestion engine.
type IngestionConfig struct {
	ChunkSize           int  `yaml:"chunk_size" json:"chunk_size"`                       // default 1000
	ChunkOverlap        int  `yaml:"chunk_overlap" json:"chunk_overlap"`                 // default 200
	UseSemanticChunking bool `yaml:"use_semantic_chunking" json:"use_semantic_chunking"` // default false
	MaxWorkers          int  `yaml:"max_workers" json:"max_workers"`                     // default 4
	MaxChunkChars       int  `yaml:"max_chunk_chars" json:"max_chunk_chars"`             // default 8000
}

// RetrievalConfig configures the query engine.
type RetrievalConfig struct {
	TopK                  int     `yaml:"top_k" json:"top_k"`                                     // default 5
	SimilarityThreshold   float64 `yaml:"similarity_threshold" json:"similarity_threshold"`       // default 0.5
	EnableReranking       bool    `yaml:"enable_reranking" json:"enable_reranking"`               // default false
	RerankTopK            int     `yaml:"rerank_top_k" json:"rerank_top_k"`                       // default 20
	EnableSourceDiversity bool    `yaml:"enable_source_diversity" json:"enable_source_diversity"` // default true
	DiversityWeight       float64 `yaml:"diversity_weight" json:"diversity_weight"`               // default 0.3
	MaxChunksPerDoc       int     `yaml:"max_chunks_per_doc" json:"max_chunks_per_doc"`           // default 3
	MinSourceTypes        int     `yaml:"min_source_types" json:"min_source_types"`               // default 2
	RerankerEndpoint      string  `yaml:"reranker_endpoint" json:"reranker_endpoint"`             // cross-encoder HTTP endpoint
}

// LLMConfig configures the LLM gateway.
type LLMConfig struct {
	Provider          string        `yaml:"provider" json:"provider"`       // ollama | openai | static
	ModelName         string        `yaml:"model_name" json:"model_name"`   // default llama3.2:3b
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`         // default 30s
	MaxTokens         int           `yaml:"max_tokens" json:"max_tokens"`   // default 1000
	Temperature       float64       `yaml:"temperature" json:"temperature"` // default 0.1
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MinInterval       time.Duration `yaml:"min_interval" json:"min_interval"`
	OllamaHost        string        `yaml:"ollama_host" json:"ollama_host"`
	OpenAIKey         string        `yaml:"openai_key" json:"openai_key"`
	OpenAIBaseURL     string        `yaml:"openai_base_url" json:"openai_base_url"`
	FallbackProviders []string      `yaml:"fallback_providers" json:"fallback_providers"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider      string `yaml:"provider" json:"provider"`     // ollama | openai
	ModelName     string `yaml:"model_name" json:"model_name"` // default nomic-embed-text
	BatchSize     int    `yaml:"batch_size" json:"batch_size"` // default 32
	Dimensions    int    `yaml:"dimensions" json:"dimensions"` // 0 = auto-detect
	OllamaHost    string `yaml:"ollama_host" json:"ollama_host"`
	OpenAIKey     string `yaml:"openai_key" json:"openai_key"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	CacheSize     int    `yaml:"cache_size" json:"cache_size"` // default 1000
}

// ConversationConfig configures the conversation engine.
type ConversationConfig struct {
	EnableLLMQueryAnalysis     bool `yaml:"enable_llm_query_analysis" json:"enable_llm_query_analysis"`
	MaxDecomposedQueries       int  `yaml:"max_decomposed_queries" json:"max_decomposed_queries"` // default 10
	SynonymExpansionEnabled    bool `yaml:"synonym_expansion_enabled" json:"synonym_expansion_enabled"`
	EnableQueryDecomposition   bool `yaml:"enable_query_decomposition" json:"enable_query_decomposition"`
	EnableAggregationDetection bool `yaml:"enable_aggregation_detection" json:"enable_aggregation_detection"`
	EnableResponseSynthesis    bool `yaml:"enable_response_synthesis" json:"enable_response_synthesis"`
}

// MemoryConfig configures conversation memory bounds.
type MemoryConfig struct {
	MaxConversationHistory   int `yaml:"max_conversation_history" json:"max_conversation_history"`     // default 20
	MaxRelevantHistory       int `yaml:"max_relevant_history" json:"max_relevant_history"`             // default 6
	MaxContextLength         int `yaml:"max_context_length" json:"max_context_length"`                 // default 4000 chars
	ConversationTimeoutHours int `yaml:"conversation_timeout_hours" json:"conversation_timeout_hours"` // default 24
}

// ExternalSourceConfig configures the ticket source scheduler.
type ExternalSourceConfig struct {
	Enabled              bool     `yaml:"enabled" json:"enabled"`
	BaseURL              string   `yaml:"base_url" json:"base_url"`
	TokenURL             string   `yaml:"token_url" json:"token_url"`
	ClientID             string   `yaml:"client_id" json:"client_id"`
	ClientSecret         string   `yaml:"client_secret" json:"client_secret"`
	FetchIntervalMinutes int      `yaml:"fetch_interval_minutes" json:"fetch_interval_minutes"` // default 15
	BatchSize            int      `yaml:"batch_size" json:"batch_size"`                         // default 100
	MaxIncidentsPerFetch int      `yaml:"max_incidents_per_fetch" json:"max_incidents_per_fetch"`
	PriorityFilter       []string `yaml:"priority_filter" json:"priority_filter"`
	StateFilter          []string `yaml:"state_filter" json:"state_filter"`
	DaysBack             int      `yaml:"days_back" json:"days_back"` // default 7
	AutoIngest           bool     `yaml:"auto_ingest" json:"auto_ingest"`
	CacheTTLHours        int      `yaml:"cache_ttl_hours" json:"cache_ttl_hours"`
}

// KeywordConfig configures the keyword index backend.
type KeywordConfig struct {
	// Backend selects the keyword index: "sqlite" (FTS5, default) or "bleve".
	Backend string `yaml:"backend" json:"backend"`
}

// CompactionConfig configures background vector-store compaction.
type CompactionConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	OrphanThreshold float64       `yaml:"orphan_threshold" json:"orphan_threshold"` // default 0.2
	MinOrphanCount  int           `yaml:"min_orphan_count" json:"min_orphan_count"` // default 100
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`         // default 30s
	Cooldown        time.Duration `yaml:"cooldown" json:"cooldown"`                 // default 1h
}

// ModelsConfig configures the model memory manager.
type ModelsConfig struct {
	MaxTotalMemoryMB int           `yaml:"max_total_memory_mb" json:"max_total_memory_mb"` // default 4096
	IdleTimeout      time.Duration `yaml:"idle_timeout" json:"idle_timeout"`               // default 5m
	SweepInterval    time.Duration `yaml:"sweep_interval" json:"sweep_interval"`           // default 1m
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Ingestion: IngestionConfig{
			ChunkSize:           1000,
			ChunkOverlap:        200,
			UseSemanticChunking: false,
			MaxWorkers:          defaultWorkers(),
			MaxChunkChars:       8000,
		},
		Retrieval: RetrievalConfig{
			TopK:                  5,
			SimilarityThreshold:   0.5,
			EnableReranking:       false,
			RerankTopK:            20,
			EnableSourceDiversity: true,
			DiversityWeight:       0.3,
			MaxChunksPerDoc:       3,
			MinSourceTypes:        2,
		},
		LLM: LLMConfig{
			Provider:          "ollama",
			ModelName:         "llama3.2:3b",
			Timeout:           30 * time.Second,
			MaxTokens:         1000,
			Temperature:       0.1,
			RequestsPerMinute: 30,
			MinInterval:       500 * time.Millisecond,
			OllamaHost:        "http://localhost:11434",
			FallbackProviders: []string{"static"},
		},
		Embedder: EmbedderConfig{
			Provider:   "ollama",
			ModelName:  "nomic-embed-text",
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Conversation: ConversationConfig{
			EnableLLMQueryAnalysis:     true,
			MaxDecomposedQueries:       10,
			SynonymExpansionEnabled:    true,
			EnableQueryDecomposition:   true,
			EnableAggregationDetection: true,
			EnableResponseSynthesis:    true,
		},
		Memory: MemoryConfig{
			MaxConversationHistory:   20,
			MaxRelevantHistory:       6,
			MaxContextLength:         4000,
			ConversationTimeoutHours: 24,
		},
		ExternalSource: ExternalSourceConfig{
			Enabled:              false,
			FetchIntervalMinutes: 15,
			BatchSize:            100,
			MaxIncidentsPerFetch: 1000,
			DaysBack:             7,
			AutoIngest:           true,
			CacheTTLHours:        24,
		},
		Keyword: KeywordConfig{
			Backend: "sqlite",
		},
		Compaction: CompactionConfig{
			Enabled:         true,
			OrphanThreshold: 0.2,
			MinOrphanCount:  100,
			IdleTimeout:     30 * time.Second,
			Cooldown:        time.Hour,
		},
		Models: ModelsConfig{
			MaxTotalMemoryMB: 4096,
			IdleTimeout:      5 * time.Minute,
			SweepInterval:    time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given path, merging over defaults and
// applying environment overrides. An empty path loads defaults plus env.
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies CORPORA_* environment variables over the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CORPORA_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("CORPORA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CORPORA_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ingestion.ChunkSize = n
		}
	}
	if v := os.Getenv("CORPORA_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ingestion.ChunkOverlap = n
		}
	}
	if v := os.Getenv("CORPORA_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ingestion.MaxWorkers = n
		}
	}
	if v := os.Getenv("CORPORA_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("CORPORA_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("CORPORA_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("CORPORA_LLM_MODEL"); v != "" {
		c.LLM.ModelName = v
	}
	if v := os.Getenv("CORPORA_EMBEDDER_PROVIDER"); v != "" {
		c.Embedder.Provider = v
	}
	if v := os.Getenv("CORPORA_EMBEDDER_MODEL"); v != "" {
		c.Embedder.ModelName = v
	}
	if v := os.Getenv("CORPORA_OLLAMA_HOST"); v != "" {
		c.LLM.OllamaHost = v
		c.Embedder.OllamaHost = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.LLM.OpenAIKey == "" {
			c.LLM.OpenAIKey = v
		}
		if c.Embedder.OpenAIKey == "" {
			c.Embedder.OpenAIKey = v
		}
	}
	if v := os.Getenv("CORPORA_TICKET_BASE_URL"); v != "" {
		c.ExternalSource.BaseURL = v
	}
	if v := os.Getenv("CORPORA_TICKET_CLIENT_ID"); v != "" {
		c.ExternalSource.ClientID = v
	}
	if v := os.Getenv("CORPORA_TICKET_CLIENT_SECRET"); v != "" {
		c.ExternalSource.ClientSecret = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Ingestion.ChunkSize < 50 {
		return fmt.Errorf("ingestion.chunk_size must be >= 50, got %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("ingestion.chunk_overlap must be in [0, chunk_size), got %d", c.Ingestion.ChunkOverlap)
	}
	if c.Ingestion.MaxWorkers < 1 {
		return fmt.Errorf("ingestion.max_workers must be >= 1, got %d", c.Ingestion.MaxWorkers)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be in [0,1], got %f", c.Retrieval.SimilarityThreshold)
	}
	if c.Retrieval.DiversityWeight < 0 || c.Retrieval.DiversityWeight > 1 {
		return fmt.Errorf("retrieval.diversity_weight must be in [0,1], got %f", c.Retrieval.DiversityWeight)
	}
	if c.Retrieval.MaxChunksPerDoc < 1 {
		return fmt.Errorf("retrieval.max_chunks_per_doc must be >= 1, got %d", c.Retrieval.MaxChunksPerDoc)
	}
	switch c.LLM.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("llm.provider must be one of ollama|openai|static, got %q", c.LLM.Provider)
	}
	switch c.Embedder.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("embedder.provider must be one of ollama|openai|static, got %q", c.Embedder.Provider)
	}
	switch c.Keyword.Backend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("keyword.backend must be sqlite or bleve, got %q", c.Keyword.Backend)
	}
	if c.ExternalSource.Enabled {
		if c.ExternalSource.BaseURL == "" {
			return fmt.Errorf("external_source.base_url is required when enabled")
		}
		if c.ExternalSource.FetchIntervalMinutes < 1 {
			return fmt.Errorf("external_source.fetch_interval_minutes must be >= 1")
		}
	}
	if c.Memory.MaxConversationHistory < 2 {
		return fmt.Errorf("memory.max_conversation_history must be >= 2, got %d", c.Memory.MaxConversationHistory)
	}
	return nil
}

// VectorStorePath returns the path of the persisted vector index.
func (c *Config) VectorStorePath() string {
	return filepath.Join(c.Paths.DataDir, "vectors.hnsw")
}

// MetadataDBPath returns the path of the SQLite metadata database.
func (c *Config) MetadataDBPath() string {
	return filepath.Join(c.Paths.DataDir, "metadata.db")
}

// KeywordIndexPath returns the path of the keyword index.
func (c *Config) KeywordIndexPath() string {
	if c.Keyword.Backend == "bleve" {
		return filepath.Join(c.Paths.DataDir, "keyword.bleve")
	}
	return filepath.Join(c.Paths.DataDir, "keyword.db")
}

// LockPath returns the path of the single-writer lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, ".lock")
}

// defaultDataDir returns ~/.corpora, falling back to the temp dir.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".corpora")
	}
	return filepath.Join(home, ".corpora")
}

// defaultWorkers returns the default ingestion worker count.
func defaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 4 {
		n = 4
	}
	return n
}
