package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/corpora-ai/corpora/internal/chunk"
	"github.com/corpora-ai/corpora/internal/embed"
	"github.com/corpora-ai/corpora/internal/errors"
	"github.com/corpora-ai/corpora/internal/store"
)

const (
	// DefaultMaxWorkers bounds parallel file ingestion.
	DefaultMaxWorkers = 4

	// DefaultMaxChunkChars truncates pathological chunks before embedding.
	DefaultMaxChunkChars = 8000
)

// Result is the outcome of ingesting one source.
type Result struct {
	Status         string
	DocID          string
	Source         string
	ChunkCount     int
	EmbeddingCount int
	Reason         string // populated for skipped
	Err            error  // populated for error
}

// DirectoryResult aggregates per-file results of a directory ingest.
type DirectoryResult struct {
	Total    int
	Success  int
	Skipped  int
	Failed   int
	Results  []*Result
	Duration time.Duration
}

// Engine orchestrates processing, embedding and the two-phase store write.
type Engine struct {
	vectors  store.VectorStore
	meta     *store.SQLiteStore
	keywords store.KeywordIndex
	embedder embed.Embedder
	registry *Registry

	maxWorkers    int
	maxChunkChars int

	// ingestMu serialises the vector-store write phase; embedding and
	// processing run outside it.
	ingestMu sync.Mutex
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithKeywordIndex attaches a keyword index updated on ingest and delete.
func WithKeywordIndex(idx store.KeywordIndex) EngineOption {
	return func(e *Engine) { e.keywords = idx }
}

// WithMaxWorkers sets the directory ingest worker pool size.
func WithMaxWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithMaxChunkChars caps chunk text length before embedding.
func WithMaxChunkChars(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxChunkChars = n
		}
	}
}

// NewEngine creates an ingestion engine.
func NewEngine(vectors store.VectorStore, meta *store.SQLiteStore, embedder embed.Embedder, registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		vectors:       vectors,
		meta:          meta,
		embedder:      embedder,
		registry:      registry,
		maxWorkers:    DefaultMaxWorkers,
		maxChunkChars: DefaultMaxChunkChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DocumentID derives the stable document ID from source and content hash.
func DocumentID(source, contentHash string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + contentHash))
	return hex.EncodeToString(sum[:16])
}

// ChunkID derives the stable chunk ID from its document, position and text.
func ChunkID(docID string, index int, text string) string {
	textSum := sha256.Sum256([]byte(text))
	sum := sha256.Sum256([]byte(docID + "\x00" + strconv.Itoa(index) + "\x00" + hex.EncodeToString(textSum[:])))
	return hex.EncodeToString(sum[:16])
}

// ContentHash hashes raw content.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// truncateRunes caps text at limit bytes, backing up so a multi-byte rune
// is never split.
func truncateRunes(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// IngestFile ingests a single file. Re-ingesting unchanged content is a
// no-op; changed content replaces the previous document for the source.
func (e *Engine) IngestFile(ctx context.Context, path string, metadata map[string]string) (*Result, error) {
	processor := e.registry.For(path)
	if processor == nil {
		return &Result{Status: StatusSkipped, Source: path, Reason: "no processor for extension"}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IngestionError("failed to read file", err).WithDetail("path", path)
	}
	contentHash := ContentHash(data)
	docID := DocumentID(path, contentHash)

	// Unchanged content short-circuits before any processing.
	if existing, err := e.meta.GetDocument(ctx, docID); err != nil {
		return nil, err
	} else if existing != nil {
		return &Result{Status: StatusSkipped, DocID: docID, Source: path, Reason: "content unchanged"}, nil
	}

	result, err := processor.Process(ctx, path, metadata)
	if err != nil {
		return nil, err
	}
	if result.Status == StatusSkipped {
		return &Result{Status: StatusSkipped, Source: path, Reason: result.Reason}, nil
	}

	doc := &store.Document{
		ID:           docID,
		Source:       path,
		SourceType:   result.SourceType,
		OriginalName: filepath.Base(path),
		UploadedAt:   time.Now(),
		ContentHash:  contentHash,
		Processor:    processor.Name(),
		Metadata:     result.Metadata,
	}
	return e.ingest(ctx, doc, result.Chunks)
}

// IngestContent ingests pre-processed chunks for a non-file source such as
// an external ticket. contentHash drives idempotency.
func (e *Engine) IngestContent(ctx context.Context, source, originalName, processorName string, sourceType store.SourceType, contentHash string, chunks []RawChunk, docMeta map[string]string) (*Result, error) {
	docID := DocumentID(source, contentHash)

	if existing, err := e.meta.GetDocument(ctx, docID); err != nil {
		return nil, err
	} else if existing != nil {
		return &Result{Status: StatusSkipped, DocID: docID, Source: source, Reason: "content unchanged"}, nil
	}
	if len(chunks) == 0 {
		return &Result{Status: StatusSkipped, Source: source, Reason: "no chunks"}, nil
	}

	doc := &store.Document{
		ID:           docID,
		Source:       source,
		SourceType:   sourceType,
		OriginalName: originalName,
		UploadedAt:   time.Now(),
		ContentHash:  contentHash,
		Processor:    processorName,
		Metadata:     docMeta,
	}
	return e.ingest(ctx, doc, chunks)
}

// ingest embeds the chunks and writes both stores, compensating the vector
// store if the metadata write fails so neither half keeps orphans.
func (e *Engine) ingest(ctx context.Context, doc *store.Document, raw []RawChunk) (*Result, error) {
	// A changed version of a known source replaces the old document.
	if previous, err := e.meta.GetDocumentBySource(ctx, doc.Source); err != nil {
		return nil, err
	} else if previous != nil && previous.ID != doc.ID {
		if err := e.DeleteDocument(ctx, previous.ID); err != nil {
			return nil, err
		}
		slog.Info("replaced stale document version",
			slog.String("source", doc.Source),
			slog.String("old_doc_id", previous.ID))
	}

	chunks := make([]*store.Chunk, 0, len(raw))
	texts := make([]string, 0, len(raw))
	for i, rc := range raw {
		text := rc.Text
		if text == "" {
			continue
		}
		text = truncateRunes(text, e.maxChunkChars)
		meta := mergeMetadata(rc.Metadata, doc.Metadata)
		chunks = append(chunks, &store.Chunk{
			ID:        ChunkID(doc.ID, i, text),
			DocID:     doc.ID,
			Index:     i,
			Text:      text,
			Metadata:  meta,
			CreatedAt: time.Now(),
		})
		texts = append(texts, text)
	}
	if len(chunks) == 0 {
		return &Result{Status: StatusSkipped, Source: doc.Source, Reason: "no non-empty chunks"}, nil
	}

	vectors, err := e.embedWithRetry(ctx, texts)
	if err != nil {
		return &Result{Status: StatusError, Source: doc.Source, Err: err}, err
	}

	ids := make([]string, len(chunks))
	metas := make([]store.VectorMeta, len(chunks))
	for i, c := range chunks {
		c.Embedding = vectors[i]
		ids[i] = c.ID
		metas[i] = store.VectorMeta{
			ChunkID:     c.ID,
			DocID:       doc.ID,
			SourceType:  string(doc.SourceType),
			Source:      doc.Source,
			Author:      doc.Metadata["author"],
			CreatedDate: doc.Metadata["created_date"],
		}
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	if err := e.vectors.AddVectors(ctx, ids, vectors, metas); err != nil {
		return &Result{Status: StatusError, Source: doc.Source, Err: err},
			errors.IngestionError("failed to add vectors", err).WithDetail("doc_id", doc.ID)
	}

	if err := e.meta.SaveDocumentWithChunks(ctx, doc, chunks); err != nil {
		// Compensate: the vectors must not outlive the failed metadata write.
		if _, delErr := e.vectors.DeleteByDocID(ctx, doc.ID); delErr != nil {
			slog.Error("compensating vector delete failed",
				slog.String("doc_id", doc.ID),
				slog.String("error", delErr.Error()))
		}
		return &Result{Status: StatusError, Source: doc.Source, Err: err},
			errors.IngestionError("failed to save metadata", err).WithDetail("doc_id", doc.ID)
	}

	e.indexKeywords(ctx, chunks)

	return &Result{
		Status:         StatusSuccess,
		DocID:          doc.ID,
		Source:         doc.Source,
		ChunkCount:     len(chunks),
		EmbeddingCount: len(vectors),
	}, nil
}

// embedWithRetry retries the batch once when the failure is transient.
func (e *Engine) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if !errors.IsRetryable(err) {
		return nil, errors.EmbeddingError("failed to embed chunks", err)
	}

	slog.Warn("transient embedding failure, retrying batch once", slog.String("error", err.Error()))
	vectors, err = e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, errors.EmbeddingError("failed to embed chunks after retry", err)
	}
	return vectors, nil
}

func (e *Engine) indexKeywords(ctx context.Context, chunks []*store.Chunk) {
	if e.keywords == nil {
		return
	}
	docs := make([]*store.KeywordDoc, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.KeywordDoc{ID: c.ID, Content: c.Text}
	}
	// Keyword indexing is best effort; vector search remains authoritative.
	if err := e.keywords.Index(ctx, docs); err != nil {
		slog.Warn("keyword indexing failed", slog.String("error", err.Error()))
	}
}

// DeleteDocument removes a document from all stores: vectors first, then
// metadata, then the keyword index.
func (e *Engine) DeleteDocument(ctx context.Context, docID string) error {
	chunks, err := e.meta.GetChunksByDoc(ctx, docID)
	if err != nil {
		return err
	}

	if _, err := e.vectors.DeleteByDocID(ctx, docID); err != nil {
		return errors.IngestionError("failed to delete vectors", err).WithDetail("doc_id", docID)
	}
	if _, err := e.meta.DeleteDocument(ctx, docID); err != nil {
		return errors.IngestionError("failed to delete metadata", err).WithDetail("doc_id", docID)
	}

	if e.keywords != nil && len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		if err := e.keywords.Delete(ctx, ids); err != nil {
			slog.Warn("keyword delete failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// IngestDirectory walks dir recursively and ingests every processable file
// through a bounded worker pool.
func (e *Engine) IngestDirectory(ctx context.Context, dir string) (*DirectoryResult, error) {
	start := time.Now()

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() != "." && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errors.IngestionError("failed to walk directory", err).WithDetail("dir", dir)
	}

	results := make([]*Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	for i, path := range paths {
		g.Go(func() error {
			res, err := e.IngestFile(gctx, path, nil)
			if err != nil {
				// Per-file failures are recorded, not fatal to the batch.
				res = &Result{Status: StatusError, Source: path, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &DirectoryResult{Total: len(results), Results: results, Duration: time.Since(start)}
	for _, res := range results {
		switch res.Status {
		case StatusSuccess:
			out.Success++
		case StatusSkipped:
			out.Skipped++
		default:
			out.Failed++
		}
	}
	slog.Info("directory ingest complete",
		slog.String("dir", dir),
		slog.Int("total", out.Total),
		slog.Int("success", out.Success),
		slog.Int("skipped", out.Skipped),
		slog.Int("failed", out.Failed),
		slog.Duration("duration", out.Duration))
	return out, nil
}

// DefaultRegistry builds the standard processor set around a chunker.
func DefaultRegistry(chunker chunk.Chunker) *Registry {
	return NewRegistry(
		NewTextProcessor(chunker),
		NewSpreadsheetProcessor(),
		NewPDFProcessor(),
		NewWordProcessor(),
		NewImageProcessor(),
	)
}
