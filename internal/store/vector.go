package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore using the coder/hnsw pure Go HNSW graph.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// ID mapping (chunk ID <-> internal key) and metadata projections.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	metas   map[string]VectorMeta
	nextKey uint64

	readOnly bool
	closed   bool
}

// hnswSidecar stores ID mappings and metadata projections for persistence.
type hnswSidecar struct {
	IDMap   map[string]uint64
	Metas   map[string]VectorMeta
	NextKey uint64
	Config  VectorStoreConfig
}

// Verify interface implementation at compile time.
var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates a new HNSW-based vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	s := &HNSWStore{
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		metas:  make(map[string]VectorMeta),
	}
	s.graph = newGraph(cfg)
	return s, nil
}

// newGraph builds a configured HNSW graph.
func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "ip":
		// Normalized vectors make inner product equivalent to cosine;
		// the graph still needs a proper distance function.
		g.Distance = hnsw.CosineDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// AddVectors appends vectors with their chunk IDs and metadata projections.
// Validation happens before any mutation so the append is all-or-nothing.
func (s *HNSWStore) AddVectors(ctx context.Context, ids []string, vectors [][]float32, metas []VectorMeta) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(metas) {
		return fmt.Errorf("ids, vectors and metas length mismatch: %d/%d/%d", len(ids), len(vectors), len(metas))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.readOnly {
		return ErrReadOnly{}
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}
	if s.config.MaxVectors > 0 && len(s.idMap)+len(ids) > s.config.MaxVectors {
		return ErrStoreFull{Capacity: s.config.MaxVectors}
	}

	for i, id := range ids {
		// Re-adding an existing ID uses lazy replacement: orphan the old
		// key rather than deleting the graph node.
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" || s.config.Metric == "ip" {
			normalizeVectorInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
		s.metas[id] = metas[i]
	}

	return s.persistLocked()
}

// SearchWithMetadata finds k nearest neighbours with metadata projections.
// Results are ordered by descending score; ties break by ascending key.
func (s *HNSWStore) SearchWithMetadata(ctx context.Context, query []float32, k int) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []*VectorHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == "cos" || s.config.Metric == "ip" {
		normalizeVectorInPlace(normalized)
	}

	// Over-fetch to compensate for orphaned nodes filtered below.
	fetch := k + (s.graph.Len() - len(s.idMap))
	nodes := s.graph.Search(normalized, fetch)

	hits := make([]*VectorHit, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		distance := s.graph.Distance(normalized, node.Value)
		hits = append(hits, &VectorHit{
			ChunkID: id,
			Score:   distanceToScore(distance, s.config.Metric),
			Meta:    s.metas[id],
			key:     node.Key,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].key < hits[j].key
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteByDocID lazily removes all vectors belonging to a document.
func (s *HNSWStore) DeleteByDocID(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	count := 0
	for id, meta := range s.metas {
		if meta.DocID != docID {
			continue
		}
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.metas, id)
		count++
	}

	if count == 0 {
		return 0, nil
	}
	if s.readOnly {
		// Deletions still apply in memory but cannot be persisted.
		return count, ErrReadOnly{}
	}
	return count, s.persistLocked()
}

// Info returns index statistics.
func (s *HNSWStore) Info() IndexInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IndexInfo{
		NTotal:    len(s.idMap),
		Dimension: s.config.Dimensions,
		Metric:    s.config.Metric,
	}
}

// Stats returns orphan statistics for compaction decisions.
func (s *HNSWStore) Stats() VectorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return VectorStats{}
	}
	valid := len(s.idMap)
	nodes := s.graph.Len()
	return VectorStats{ValidIDs: valid, GraphNodes: nodes, Orphans: nodes - valid}
}

// Contains checks if a chunk ID exists in the index.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.idMap[id]
	return exists
}

// Compact rebuilds the graph without orphans from the supplied embeddings.
// Chunk IDs without a supplied embedding are dropped from the index.
func (s *HNSWStore) Compact(ctx context.Context, embeddings map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	fresh := newGraph(s.config)
	idMap := make(map[string]uint64, len(s.idMap))
	keyMap := make(map[uint64]string, len(s.idMap))
	var next uint64

	for id := range s.idMap {
		vec, ok := embeddings[id]
		if !ok {
			slog.Warn("compaction dropping vector without stored embedding", slog.String("chunk_id", id))
			delete(s.metas, id)
			continue
		}
		if len(vec) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vec)}
		}

		v := make([]float32, len(vec))
		copy(v, vec)
		if s.config.Metric == "cos" || s.config.Metric == "ip" {
			normalizeVectorInPlace(v)
		}

		key := next
		next++
		fresh.Add(hnsw.MakeNode(key, v))
		idMap[id] = key
		keyMap[key] = id

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.graph = fresh
	s.idMap = idMap
	s.keyMap = keyMap
	s.nextKey = next
	// A successful rebuild clears write degradation.
	s.readOnly = false

	return s.persistLocked()
}

// ReadOnly reports whether the store degraded to read-only.
func (s *HNSWStore) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// Save persists the index and sidecar under the write lock.
func (s *HNSWStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.persistLocked()
}

// persistLocked writes the graph and sidecar. I/O errors are retried once;
// a second failure degrades the store to read-only.
func (s *HNSWStore) persistLocked() error {
	if s.config.Path == "" {
		return nil // in-memory store
	}

	err := s.saveFiles()
	if err == nil {
		return nil
	}

	slog.Warn("vector store persist failed, retrying once", slog.String("error", err.Error()))
	if err = s.saveFiles(); err == nil {
		return nil
	}

	s.readOnly = true
	slog.Error("vector store persist failed twice, degrading to read-only",
		slog.String("path", s.config.Path),
		slog.String("error", err.Error()))
	return fmt.Errorf("write degraded: %w", err)
}

// saveFiles writes the graph and sidecar atomically (tmp file + rename).
func (s *HNSWStore) saveFiles() error {
	dir := filepath.Dir(s.config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := s.config.Path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, s.config.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveSidecar(s.config.Path + ".meta")
}

// saveSidecar writes ID mappings and metadata projections to a gob file.
func (s *HNSWStore) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp sidecar: %w", err)
	}

	sidecar := hnswSidecar{
		IDMap:   s.idMap,
		Metas:   s.metas,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	if err := gob.NewEncoder(file).Encode(sidecar); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close sidecar: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the index and sidecar from disk.
func (s *HNSWStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := s.loadSidecar(s.config.Path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(s.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

// loadSidecar restores ID mappings and metadata projections.
func (s *HNSWStore) loadSidecar(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open sidecar: %w", err)
	}
	defer func() { _ = file.Close() }()

	var sidecar hnswSidecar
	if err := gob.NewDecoder(file).Decode(&sidecar); err != nil {
		return fmt.Errorf("decode sidecar: %w", err)
	}

	keep := s.config.Path
	s.idMap = sidecar.IDMap
	s.metas = sidecar.Metas
	s.nextKey = sidecar.NextKey
	s.config = sidecar.Config
	s.config.Path = keep

	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadStoredDimensions reads the dimension from an existing store's sidecar.
// Returns 0 if the sidecar does not exist (fresh start).
func ReadStoredDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer func() { _ = file.Close() }()

	var sidecar hnswSidecar
	if err := gob.NewDecoder(file).Decode(&sidecar); err != nil {
		return 0, fmt.Errorf("failed to decode sidecar: %w", err)
	}
	return sidecar.Config.Dimensions, nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance value to a similarity score in [0,1].
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "cos", "ip":
		// Cosine distance ranges 0 (identical) to 2 (opposite).
		return 1.0 - distance/2.0
	default:
		return 1.0 / (1.0 + distance)
	}
}
