package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore persists documents, chunks, the external ticket cache and
// fetch history in SQLite. WAL mode allows concurrent readers while the
// ingestion engine writes.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	source_type   TEXT NOT NULL,
	original_name TEXT NOT NULL,
	uploaded_at   TIMESTAMP NOT NULL,
	content_hash  TEXT NOT NULL,
	processor     TEXT NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
CREATE INDEX IF NOT EXISTS idx_documents_source_type ON documents(source_type);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);

CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	doc_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	text       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS tickets_cache (
	sys_id           TEXT PRIMARY KEY,
	number           TEXT NOT NULL UNIQUE,
	data             TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	fetched_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	ingested         INTEGER NOT NULL DEFAULT 0,
	ingestion_result TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tickets_cache_updated_at ON tickets_cache(updated_at);
CREATE INDEX IF NOT EXISTS idx_tickets_cache_number ON tickets_cache(number);

CREATE TABLE IF NOT EXISTS fetch_history (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	fetch_time        TIMESTAMP NOT NULL,
	total_fetched     INTEGER NOT NULL,
	new_incidents     INTEGER NOT NULL,
	updated_incidents INTEGER NOT NULL,
	skipped_incidents INTEGER NOT NULL,
	errors            TEXT NOT NULL DEFAULT '',
	duration_seconds  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_history_fetch_time ON fetch_history(fetch_time);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) the metadata database at path.
// An empty path opens an in-memory database for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata db: %w", err)
	}

	// Foreign keys enable the document -> chunk cascade.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(metadataSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// SaveDocument inserts or replaces a document record.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
		(id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Source, string(doc.SourceType), doc.OriginalName,
		doc.UploadedAt.UTC(), doc.ContentHash, doc.Processor, string(meta))
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID. Returns nil without error when absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentBySource retrieves a document by its source identifier.
func (s *SQLiteStore) GetDocumentBySource(ctx context.Context, source string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata
		FROM documents WHERE source = ? ORDER BY uploaded_at DESC LIMIT 1`, source)
	return scanDocument(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var sourceType, metaJSON string
	err := row.Scan(&doc.ID, &doc.Source, &sourceType, &doc.OriginalName,
		&doc.UploadedAt, &doc.ContentHash, &doc.Processor, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.SourceType = SourceType(sourceType)
	if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal document metadata: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns documents matching the filter, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter, limit int) ([]*Document, error) {
	query, args := buildDocumentQuery(
		"SELECT id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata FROM documents",
		filter)
	query += " ORDER BY uploaded_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments counts documents matching the filter.
// Used by aggregation queries ("how many incidents in December").
func (s *SQLiteStore) CountDocuments(ctx context.Context, filter DocumentFilter) (int, error) {
	query, args := buildDocumentQuery("SELECT COUNT(*) FROM documents", filter)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// buildDocumentQuery appends parameterised WHERE clauses for the filter.
// All values are bound parameters; nothing is string-concatenated.
func buildDocumentQuery(base string, filter DocumentFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.SourceType != "" {
		clauses = append(clauses, "source_type = ?")
		args = append(args, filter.SourceType)
	}
	if filter.Processor != "" {
		clauses = append(clauses, "processor = ?")
		args = append(args, filter.Processor)
	}
	for key, value := range filter.MetadataEq {
		clauses = append(clauses, "json_extract(metadata, '$.' || ?) = ?")
		args = append(args, key, value)
	}
	if filter.CreatedMonth != "" {
		clauses = append(clauses, "json_extract(metadata, '$.created_date') LIKE ?")
		args = append(args, filter.CreatedMonth+"%")
	}

	if len(clauses) > 0 {
		base += " WHERE " + strings.Join(clauses, " AND ")
	}
	return base, args
}

// DeleteDocument removes a document and all of its chunks in one transaction.
// Returns the number of chunks removed.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return int(removed), nil
}

// SaveDocumentWithChunks writes a document and its chunks in one transaction.
// Either everything lands or nothing does; this is the metadata half of the
// ingestion engine's compensating-delete protocol.
func (s *SQLiteStore) SaveDocumentWithChunks(ctx context.Context, doc *Document, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	docMeta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
		(id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Source, string(doc.SourceType), doc.OriginalName,
		doc.UploadedAt.UTC(), doc.ContentHash, doc.Processor, string(docMeta)); err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, doc_id, idx, text, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, chunk := range chunks {
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		created := chunk.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocID, chunk.Index,
			chunk.Text, string(meta), encodeEmbedding(chunk.Embedding), created.UTC()); err != nil {
			return fmt.Errorf("save chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// GetChunk retrieves a chunk by ID. Returns nil without error when absent.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, doc_id, idx, text, metadata, embedding, created_at
		FROM chunks WHERE id = ?`, id)
	return scanChunk(row)
}

// GetChunks retrieves multiple chunks by ID in one query.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, doc_id, idx, text, metadata, embedding, created_at FROM chunks WHERE id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// GetChunksByDoc retrieves all chunks for a document ordered by index.
func (s *SQLiteStore) GetChunksByDoc(ctx context.Context, docID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, idx, text, metadata, embedding, created_at
		FROM chunks WHERE doc_id = ? ORDER BY idx`, docID)
	if err != nil {
		return nil, fmt.Errorf("get chunks by doc: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var metaJSON string
	var blob []byte
	err := row.Scan(&chunk.ID, &chunk.DocID, &chunk.Index, &chunk.Text, &metaJSON, &blob, &chunk.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &chunk.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
	}
	chunk.Embedding = decodeEmbedding(blob)
	return &chunk, nil
}

// ChunkCount returns the total number of stored chunks.
func (s *SQLiteStore) ChunkCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("chunk count: %w", err)
	}
	return count, nil
}

// GetAllEmbeddings returns every stored chunk embedding keyed by chunk ID.
// Used by vector-store compaction to rebuild the graph.
func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("get embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if vec := decodeEmbedding(blob); vec != nil {
			out[id] = vec
		}
	}
	return out, rows.Err()
}

// UpsertTicketCache inserts or updates a ticket cache entry.
func (s *SQLiteStore) UpsertTicketCache(ctx context.Context, entry *TicketCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets_cache
		(sys_id, number, data, content_hash, fetched_at, updated_at, ingested, ingestion_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sys_id) DO UPDATE SET
			number = excluded.number,
			data = excluded.data,
			content_hash = excluded.content_hash,
			fetched_at = excluded.fetched_at,
			updated_at = excluded.updated_at,
			ingested = excluded.ingested,
			ingestion_result = excluded.ingestion_result`,
		entry.SysID, entry.Number, entry.Data, entry.ContentHash,
		entry.FetchedAt.UTC(), entry.UpdatedAt.UTC(), boolToInt(entry.Ingested), entry.IngestionResult)
	if err != nil {
		return fmt.Errorf("upsert ticket cache: %w", err)
	}
	return nil
}

// GetTicketCache retrieves a cache entry by external ID.
// Returns nil without error when absent.
func (s *SQLiteStore) GetTicketCache(ctx context.Context, sysID string) (*TicketCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sys_id, number, data, content_hash, fetched_at, updated_at, ingested, ingestion_result
		FROM tickets_cache WHERE sys_id = ?`, sysID)

	var entry TicketCacheEntry
	var ingested int
	err := row.Scan(&entry.SysID, &entry.Number, &entry.Data, &entry.ContentHash,
		&entry.FetchedAt, &entry.UpdatedAt, &ingested, &entry.IngestionResult)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket cache: %w", err)
	}
	entry.Ingested = ingested != 0
	return &entry, nil
}

// MarkTicketIngested records the ingestion outcome for a cached ticket.
func (s *SQLiteStore) MarkTicketIngested(ctx context.Context, sysID, result string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tickets_cache SET ingested = 1, ingestion_result = ? WHERE sys_id = ?", result, sysID)
	if err != nil {
		return fmt.Errorf("mark ticket ingested: %w", err)
	}
	return nil
}

// ListPendingTickets returns cached tickets not yet ingested.
func (s *SQLiteStore) ListPendingTickets(ctx context.Context, limit int) ([]*TicketCacheEntry, error) {
	query := `
		SELECT sys_id, number, data, content_hash, fetched_at, updated_at, ingested, ingestion_result
		FROM tickets_cache WHERE ingested = 0 ORDER BY updated_at`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*TicketCacheEntry
	for rows.Next() {
		var entry TicketCacheEntry
		var ingested int
		if err := rows.Scan(&entry.SysID, &entry.Number, &entry.Data, &entry.ContentHash,
			&entry.FetchedAt, &entry.UpdatedAt, &ingested, &entry.IngestionResult); err != nil {
			return nil, fmt.Errorf("scan ticket cache: %w", err)
		}
		entry.Ingested = ingested != 0
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// RecordFetch appends a fetch history record.
func (s *SQLiteStore) RecordFetch(ctx context.Context, rec *FetchRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_history
		(fetch_time, total_fetched, new_incidents, updated_incidents, skipped_incidents, errors, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.FetchTime.UTC(), rec.TotalFetched, rec.NewIncidents,
		rec.UpdatedIncidents, rec.SkippedIncidents, rec.Errors, rec.DurationSeconds)
	if err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListFetchHistory returns the most recent fetch records, newest first.
func (s *SQLiteStore) ListFetchHistory(ctx context.Context, limit int) ([]*FetchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fetch_time, total_fetched, new_incidents, updated_incidents, skipped_incidents, errors, duration_seconds
		FROM fetch_history ORDER BY fetch_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fetch history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*FetchRecord
	for rows.Next() {
		var rec FetchRecord
		if err := rows.Scan(&rec.ID, &rec.FetchTime, &rec.TotalFetched, &rec.NewIncidents,
			&rec.UpdatedIncidents, &rec.SkippedIncidents, &rec.Errors, &rec.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan fetch record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// GetState retrieves a value from the key-value state table.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

// SetState stores a value in the key-value state table.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeEmbedding serialises a float32 slice as little-endian bytes.
func encodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding deserialises little-endian bytes to a float32 slice.
func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
