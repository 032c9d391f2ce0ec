// Package store provides the persistence layer for Corpora: the HNSW vector
// index with per-vector metadata projections, the SQLite metadata store
// (documents, chunks, ticket cache, fetch history), and the keyword index.
package store

import (
	"context"
	"fmt"
	"time"
)

// SourceType tags the origin format of a document.
type SourceType string

const (
	SourceTypePDF         SourceType = "pdf"
	SourceTypeSpreadsheet SourceType = "spreadsheet"
	SourceTypeWord        SourceType = "word"
	SourceTypeText        SourceType = "text"
	SourceTypeImage       SourceType = "image"
	SourceTypeTicket      SourceType = "ticket"
	SourceTypeOther       SourceType = "other"
)

// State keys for the metadata store's key-value table.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
)

// Document represents a registered source item. Immutable after creation
// except for deletion, which cascade-deletes its chunks.
type Document struct {
	ID           string            // sha256(source path + content hash), 32 hex chars
	Source       string            // file path or external ticket number
	SourceType   SourceType        // pdf, spreadsheet, word, text, image, ticket, other
	OriginalName string            // original file/ticket name
	UploadedAt   time.Time         // ingestion time
	ContentHash  string            // sha256 of raw content
	Processor    string            // processor name that produced the chunks
	Metadata     map[string]string // raw document-level metadata
}

// Chunk is an embeddable unit of text belonging to exactly one document.
type Chunk struct {
	ID        string            // sha256(doc_id + index + text hash), 32 hex chars
	DocID     string            // owning document
	Index     int               // position within the document
	Text      string            // non-empty, bounded by max_chunk_chars
	Metadata  map[string]string // page number, sheet name, content type, ...
	Embedding []float32         // optional precomputed embedding
	CreatedAt time.Time
}

// VectorMeta is the metadata projection stored alongside each vector.
// It carries the fields retrieval and diversity scoring need without a
// round-trip to the metadata store.
type VectorMeta struct {
	ChunkID     string
	DocID       string
	SourceType  string
	Source      string
	Author      string
	CreatedDate string // ISO-8601 date from document metadata, may be empty
}

// VectorHit is a single vector search result.
type VectorHit struct {
	ChunkID string
	Score   float32 // normalized similarity in [0,1]
	Meta    VectorMeta
	key     uint64 // internal vector ID, used for deterministic tie-breaks
}

// Key exposes the internal vector ID for ordering checks.
func (h *VectorHit) Key() uint64 { return h.key }

// IndexInfo describes the vector index.
type IndexInfo struct {
	NTotal    int
	Dimension int
	Metric    string
}

// VectorStats reports orphan counts for compaction decisions.
// Orphans are graph nodes left behind by lazy deletion.
type VectorStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// VectorStore provides approximate nearest-neighbour search with metadata
// projections. Writes are exclusive; searches run concurrently.
type VectorStore interface {
	// AddVectors appends vectors with their chunk IDs and metadata.
	// Atomic: either all vectors are appended or none. Fails with a
	// dimension-mismatch error if any vector's length differs from the
	// index dimension, and with a store-full error at capacity.
	// Persists the index as a side effect.
	AddVectors(ctx context.Context, ids []string, vectors [][]float32, metas []VectorMeta) error

	// SearchWithMetadata returns up to k nearest neighbours with their
	// metadata projections, ordered by descending score with ties broken
	// by ascending internal vector ID.
	SearchWithMetadata(ctx context.Context, query []float32, k int) ([]*VectorHit, error)

	// DeleteByDocID removes all vectors whose metadata projection matches
	// the document ID. Deletion is lazy; Compact reclaims the space.
	DeleteByDocID(ctx context.Context, docID string) (int, error)

	// Info returns index statistics.
	Info() IndexInfo

	// Stats returns orphan statistics for compaction decisions.
	Stats() VectorStats

	// Compact rebuilds the graph without orphans, re-adding live vectors
	// from the supplied chunkID -> embedding map.
	Compact(ctx context.Context, embeddings map[string][]float32) error

	// ReadOnly reports whether the store has degraded to read-only after
	// repeated persist failures.
	ReadOnly() bool

	// Persistence.
	Save() error
	Load() error
	Close() error
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Path is the on-disk index location (sidecar is Path + ".meta").
	Path string

	// Dimensions is the fixed vector dimension of the index.
	Dimensions int

	// Metric is the similarity metric: "cos" (default) or "ip".
	Metric string

	// MaxVectors caps the index size. 0 means unlimited.
	MaxVectors int

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(path string, dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Path:       path,
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// TicketCacheEntry is a cached external ticket with change-detection state.
type TicketCacheEntry struct {
	SysID           string // external ID, 32 hex chars
	Number          string // external number, e.g. INC00012345
	Data            string // full serialized payload
	ContentHash     string
	FetchedAt       time.Time
	UpdatedAt       time.Time // updated_at from the source
	Ingested        bool
	IngestionResult string
}

// FetchRecord is one scheduler poll outcome.
type FetchRecord struct {
	ID               int64
	FetchTime        time.Time
	TotalFetched     int
	NewIncidents     int
	UpdatedIncidents int
	SkippedIncidents int
	Errors           string
	DurationSeconds  float64
}

// DocumentFilter restricts document listing and counting.
// All set fields must match (AND semantics).
type DocumentFilter struct {
	SourceType   string
	Processor    string
	MetadataEq   map[string]string // equality match against document metadata
	CreatedMonth string            // "2025-12" matches metadata created_date prefix
}

// KeywordDoc is a document indexed for keyword search.
type KeywordDoc struct {
	ID      string // chunk ID
	Content string
}

// KeywordHit is a single keyword search result.
type KeywordHit struct {
	ID    string
	Score float64
}

// KeywordIndex provides keyword search used for aggregation term counting
// and the degraded retrieval path when the embedder is unavailable.
type KeywordIndex interface {
	Index(ctx context.Context, docs []*KeywordDoc) error
	Search(ctx context.Context, query string, limit int) ([]*KeywordHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() (int, error)
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ErrStoreFull indicates the vector store reached its configured capacity.
type ErrStoreFull struct {
	Capacity int
}

func (e ErrStoreFull) Error() string {
	return fmt.Sprintf("vector store full: capacity %d exhausted", e.Capacity)
}

// ErrReadOnly indicates the store degraded to read-only after persist failures.
type ErrReadOnly struct{}

func (e ErrReadOnly) Error() string {
	return "vector store is read-only (write degraded after persist failure)"
}
