package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(id string) *Document {
	return &Document{
		ID:           id,
		Source:       "/docs/" + id + ".txt",
		SourceType:   SourceTypeText,
		OriginalName: id + ".txt",
		UploadedAt:   time.Now(),
		ContentHash:  "hash-" + id,
		Processor:    "text",
		Metadata:     map[string]string{"author": "alice"},
	}
}

func TestSQLiteStore_SaveAndGetDocument(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	doc := testDoc("d1")
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.Source, got.Source)
	assert.Equal(t, SourceTypeText, got.SourceType)
	assert.Equal(t, "alice", got.Metadata["author"])
}

func TestSQLiteStore_GetDocument_Missing(t *testing.T) {
	s := newTestMetadataStore(t)

	got, err := s.GetDocument(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_GetDocumentBySource(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	doc := testDoc("d1")
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocumentBySource(ctx, doc.Source)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ID)
}

func TestSQLiteStore_SaveDocumentWithChunks_Transactional(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	doc := testDoc("d1")
	chunks := []*Chunk{
		{ID: "c1", DocID: "d1", Index: 0, Text: "first part", Metadata: map[string]string{"page": "1"}, Embedding: []float32{0.1, 0.2}},
		{ID: "c2", DocID: "d1", Index: 1, Text: "second part", Metadata: map[string]string{"page": "2"}},
	}
	require.NoError(t, s.SaveDocumentWithChunks(ctx, doc, chunks))

	got, err := s.GetChunksByDoc(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first part", got[0].Text)
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, []float32{0.1, 0.2}, got[0].Embedding)
	assert.Nil(t, got[1].Embedding)
}

func TestSQLiteStore_DeleteDocument_CascadesChunks(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocumentWithChunks(ctx, testDoc("d1"), []*Chunk{
		{ID: "c1", DocID: "d1", Index: 0, Text: "a"},
		{ID: "c2", DocID: "d1", Index: 1, Text: "b"},
	}))

	removed, err := s.DeleteDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	doc, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	count, err := s.ChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLiteStore_GetChunks_ByIDs(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocumentWithChunks(ctx, testDoc("d1"), []*Chunk{
		{ID: "c1", DocID: "d1", Index: 0, Text: "a"},
		{ID: "c2", DocID: "d1", Index: 1, Text: "b"},
		{ID: "c3", DocID: "d1", Index: 2, Text: "c"},
	}))

	got, err := s.GetChunks(ctx, []string{"c1", "c3", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	none, err := s.GetChunks(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLiteStore_CountDocuments_Filters(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	d1 := testDoc("d1")
	d1.SourceType = SourceTypeTicket
	d1.Metadata = map[string]string{"priority": "1", "created_date": "2025-12-03"}
	d2 := testDoc("d2")
	d2.SourceType = SourceTypeTicket
	d2.Metadata = map[string]string{"priority": "2", "created_date": "2025-12-14"}
	d3 := testDoc("d3")
	d3.Metadata = map[string]string{"created_date": "2026-01-02"}
	for _, d := range []*Document{d1, d2, d3} {
		require.NoError(t, s.SaveDocument(ctx, d))
	}

	count, err := s.CountDocuments(ctx, DocumentFilter{SourceType: "ticket"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.CountDocuments(ctx, DocumentFilter{SourceType: "ticket", MetadataEq: map[string]string{"priority": "1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.CountDocuments(ctx, DocumentFilter{CreatedMonth: "2025-12"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.CountDocuments(ctx, DocumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLiteStore_GetAllEmbeddings(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocumentWithChunks(ctx, testDoc("d1"), []*Chunk{
		{ID: "c1", DocID: "d1", Index: 0, Text: "a", Embedding: []float32{1, 2, 3}},
		{ID: "c2", DocID: "d1", Index: 1, Text: "b"},
	}))

	embs, err := s.GetAllEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, []float32{1, 2, 3}, embs["c1"])
}

func TestSQLiteStore_TicketCache_Roundtrip(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	entry := &TicketCacheEntry{
		SysID:       "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4",
		Number:      "INC00012345",
		Data:        `{"short_description":"vpn down"}`,
		ContentHash: "h1",
		FetchedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, s.UpsertTicketCache(ctx, entry))

	got, err := s.GetTicketCache(ctx, entry.SysID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "INC00012345", got.Number)
	assert.False(t, got.Ingested)

	// Content change updates the hash in place.
	entry.ContentHash = "h2"
	require.NoError(t, s.UpsertTicketCache(ctx, entry))
	got, err = s.GetTicketCache(ctx, entry.SysID)
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)

	require.NoError(t, s.MarkTicketIngested(ctx, entry.SysID, "ingested"))
	got, err = s.GetTicketCache(ctx, entry.SysID)
	require.NoError(t, err)
	assert.True(t, got.Ingested)
	assert.Equal(t, "ingested", got.IngestionResult)
}

func TestSQLiteStore_ListPendingTickets(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	for i, sysID := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.UpsertTicketCache(ctx, &TicketCacheEntry{
			SysID:     sysID,
			Number:    "INC0000000" + string(rune('1'+i)),
			Data:      "{}",
			FetchedAt: time.Now(),
			UpdatedAt: time.Now(),
		}))
	}
	require.NoError(t, s.MarkTicketIngested(ctx, "s2", "ok"))

	pending, err := s.ListPendingTickets(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSQLiteStore_FetchHistory(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	rec := &FetchRecord{
		FetchTime:        time.Now(),
		TotalFetched:     42,
		NewIncidents:     10,
		UpdatedIncidents: 5,
		SkippedIncidents: 27,
		DurationSeconds:  1.5,
	}
	require.NoError(t, s.RecordFetch(ctx, rec))
	assert.NotZero(t, rec.ID)

	records, err := s.ListFetchHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 42, records[0].TotalFetched)
	assert.Equal(t, 1.5, records[0].DurationSeconds)
}

func TestSQLiteStore_State(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	val, err := s.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetState(ctx, StateKeyIndexDimension, "768"))
	require.NoError(t, s.SetState(ctx, StateKeyIndexDimension, "1024"))

	val, err = s.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "1024", val)
}

func TestEmbeddingCodec_Roundtrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	assert.Equal(t, vec, decodeEmbedding(encodeEmbedding(vec)))
	assert.Nil(t, encodeEmbedding(nil))
	assert.Nil(t, decodeEmbedding(nil))
	assert.Nil(t, decodeEmbedding([]byte{1, 2, 3}))
}
