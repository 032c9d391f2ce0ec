package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveKeywordIndex is the legacy keyword backend. BoltDB holds an exclusive
// file lock, so it supports a single process only.
type BleveKeywordIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	closed    bool
	stopWords map[string]struct{}
}

type bleveChunkDoc struct {
	Content string `json:"content"`
}

// validateBleveIntegrity checks a Bleve index directory before opening.
// Returns nil when the index is absent or looks healthy.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveKeywordIndex opens (or creates) a Bleve keyword index.
// An empty path creates an in-memory index. A corrupted on-disk index is
// cleared and recreated; callers must reindex afterwards.
func NewBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	indexMapping := buildKeywordMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if validErr := validateBleveIntegrity(path); validErr != nil {
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruption(err) {
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open keyword index: %w", err)
	}

	return &BleveKeywordIndex{
		index:     idx,
		path:      path,
		stopWords: BuildStopWordMap(defaultStopWords),
	}, nil
}

func buildKeywordMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "standard"
	contentField.Store = false
	contentField.IncludeTermVectors = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Index adds or replaces documents in the index.
func (b *BleveKeywordIndex) Index(ctx context.Context, docs []*KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(doc.ID, bleveChunkDoc{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to batch %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// Search returns chunks matching the query, best first.
func (b *BleveKeywordIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	tokens := FilterStopWords(TokenizeText(query), b.stopWords)
	if len(tokens) == 0 {
		return []*KeywordHit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(strings.Join(tokens, " "))
	matchQuery.SetField("content")

	req := bleve.NewSearchRequestOptions(matchQuery, limit, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]*KeywordHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, &KeywordHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Delete removes chunks from the index.
func (b *BleveKeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveKeywordIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}

	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return int(n), nil
}

// Close closes the index.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ KeywordIndex = (*BleveKeywordIndex)(nil)
