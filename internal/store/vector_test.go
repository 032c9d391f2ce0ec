package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVectorStore(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(VectorStoreConfig{Dimensions: dims, Metric: "cos"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func metaFor(chunkID, docID string) VectorMeta {
	return VectorMeta{ChunkID: chunkID, DocID: docID, SourceType: "text", Source: "/docs/" + docID}
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	s := newTestVectorStore(t, 3)
	ctx := context.Background()

	err := s.AddVectors(ctx,
		[]string{"c1", "c2", "c3"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
		[]VectorMeta{metaFor("c1", "d1"), metaFor("c2", "d1"), metaFor("c3", "d2")})
	require.NoError(t, err)

	hits, err := s.SearchWithMetadata(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "c3", hits[1].ChunkID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
	assert.Equal(t, "d1", hits[0].Meta.DocID)
	// Scores decrease monotonically.
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newTestVectorStore(t, 3)
	ctx := context.Background()

	err := s.AddVectors(ctx, []string{"c1"}, [][]float32{{1, 0}}, []VectorMeta{metaFor("c1", "d1")})
	require.Error(t, err)
	assert.IsType(t, ErrDimensionMismatch{}, err)

	// Nothing was appended.
	assert.Equal(t, 0, s.Info().NTotal)

	_, err = s.SearchWithMetadata(ctx, []float32{1, 0}, 1)
	assert.IsType(t, ErrDimensionMismatch{}, err)
}

func TestHNSWStore_AtomicAppend(t *testing.T) {
	s := newTestVectorStore(t, 2)
	ctx := context.Background()

	// One bad vector in the batch rejects the entire batch.
	err := s.AddVectors(ctx,
		[]string{"c1", "c2"},
		[][]float32{{1, 0}, {1, 0, 0}},
		[]VectorMeta{metaFor("c1", "d1"), metaFor("c2", "d1")})
	require.Error(t, err)
	assert.Equal(t, 0, s.Info().NTotal)
}

func TestHNSWStore_CapacityLimit(t *testing.T) {
	s, err := NewHNSWStore(VectorStoreConfig{Dimensions: 2, MaxVectors: 2})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AddVectors(ctx, []string{"c1", "c2"},
		[][]float32{{1, 0}, {0, 1}},
		[]VectorMeta{metaFor("c1", "d1"), metaFor("c2", "d1")}))

	err = s.AddVectors(ctx, []string{"c3"}, [][]float32{{1, 1}}, []VectorMeta{metaFor("c3", "d2")})
	require.Error(t, err)
	assert.IsType(t, ErrStoreFull{}, err)
	assert.Equal(t, 2, s.Info().NTotal)
}

func TestHNSWStore_DeleteByDocID_Lazy(t *testing.T) {
	s := newTestVectorStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.AddVectors(ctx, []string{"c1", "c2", "c3"},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		[]VectorMeta{metaFor("c1", "d1"), metaFor("c2", "d1"), metaFor("c3", "d2")}))

	removed, err := s.DeleteByDocID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Deleted vectors never surface in search results.
	hits, err := s.SearchWithMetadata(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c3", hits[0].ChunkID)

	// Lazy deletion leaves orphans in the graph.
	stats := s.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 3, stats.GraphNodes)
	assert.Equal(t, 2, stats.Orphans)

	removed, err = s.DeleteByDocID(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestHNSWStore_ReplaceExistingID(t *testing.T) {
	s := newTestVectorStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.AddVectors(ctx, []string{"c1"}, [][]float32{{1, 0}}, []VectorMeta{metaFor("c1", "d1")}))
	require.NoError(t, s.AddVectors(ctx, []string{"c1"}, [][]float32{{0, 1}}, []VectorMeta{metaFor("c1", "d1")}))

	assert.Equal(t, 1, s.Info().NTotal)
	assert.Equal(t, 1, s.Stats().Orphans)

	hits, err := s.SearchWithMetadata(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestHNSWStore_Compact(t *testing.T) {
	s := newTestVectorStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.AddVectors(ctx, []string{"c1", "c2", "c3"},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		[]VectorMeta{metaFor("c1", "d1"), metaFor("c2", "d1"), metaFor("c3", "d2")}))
	_, err := s.DeleteByDocID(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 2, s.Stats().Orphans)

	require.NoError(t, s.Compact(ctx, map[string][]float32{"c3": {1, 1}}))

	stats := s.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 0, stats.Orphans)

	hits, err := s.SearchWithMetadata(ctx, []float32{1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c3", hits[0].ChunkID)
}

func TestHNSWStore_PersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	s, err := NewHNSWStore(VectorStoreConfig{Path: path, Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, s.AddVectors(ctx, []string{"c1", "c2"},
		[][]float32{{1, 0}, {0, 1}},
		[]VectorMeta{metaFor("c1", "d1"), metaFor("c2", "d2")}))
	require.NoError(t, s.Close())

	dims, err := ReadStoredDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	loaded, err := NewHNSWStore(VectorStoreConfig{Path: path, Dimensions: 2})
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()
	require.NoError(t, loaded.Load())

	assert.Equal(t, 2, loaded.Info().NTotal)
	hits, err := loaded.SearchWithMetadata(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "d1", hits[0].Meta.DocID)
}

func TestReadStoredDimensions_FreshStart(t *testing.T) {
	dims, err := ReadStoredDimensions(filepath.Join(t.TempDir(), "vectors.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestHNSWStore_EmptySearch(t *testing.T) {
	s := newTestVectorStore(t, 2)

	hits, err := s.SearchWithMetadata(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "cos")), 1e-6)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "cos")), 1e-6)
	assert.InDelta(t, 0.0, float64(distanceToScore(2, "cos")), 1e-6)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "l2")), 1e-6)
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4}
	normalizeVectorInPlace(v)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := []float32{0, 0}
	normalizeVectorInPlace(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
