package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteKeywordIndex is the default keyword backend, built on SQLite FTS5.
// WAL mode allows the MCP server and CLI to read the same index concurrently.
type SQLiteKeywordIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	closed    bool
	stopWords map[string]struct{}
}

// NewSQLiteKeywordIndex opens (or creates) an FTS5 keyword index.
// An empty path opens an in-memory index for testing.
func NewSQLiteKeywordIndex(path string) (*SQLiteKeywordIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}

	// Single writer keeps FTS5 free of lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		chunk_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	CREATE TABLE IF NOT EXISTS chunk_ids (
		chunk_id TEXT PRIMARY KEY
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteKeywordIndex{
		db:        db,
		path:      path,
		stopWords: BuildStopWordMap(defaultStopWords),
	}, nil
}

// Index adds or replaces documents in the index.
func (s *SQLiteKeywordIndex) Index(ctx context.Context, docs []*KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("keyword index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 virtual tables do not support REPLACE, so delete first.
	deleteStmt, err := tx.PrepareContext(ctx, "DELETE FROM fts_chunks WHERE chunk_id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer func() { _ = deleteStmt.Close() }()

	insertStmt, err := tx.PrepareContext(ctx, "INSERT INTO fts_chunks(chunk_id, content) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = insertStmt.Close() }()

	idStmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO chunk_ids(chunk_id) VALUES (?)")
	if err != nil {
		return fmt.Errorf("failed to prepare id insert: %w", err)
	}
	defer func() { _ = idStmt.Close() }()

	for _, doc := range docs {
		tokens := FilterStopWords(TokenizeText(doc.Content), s.stopWords)
		processed := strings.Join(tokens, " ")

		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, processed); err != nil {
			return fmt.Errorf("failed to index %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns chunks matching the query, scored by BM25, best first.
func (s *SQLiteKeywordIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	tokens := FilterStopWords(TokenizeText(query), s.stopWords)
	if len(tokens) == 0 {
		return []*KeywordHit{}, nil
	}
	processed := strings.Join(tokens, " ")

	// FTS5 bm25() returns negative values where lower is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, processed, limit)
	if err != nil {
		// FTS5 rejects malformed match expressions; treat as no results.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*KeywordHit{}, nil
		}
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*KeywordHit
	for rows.Next() {
		var hit KeywordHit
		if err := rows.Scan(&hit.ID, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hit.Score = -hit.Score
		hits = append(hits, &hit)
	}
	return hits, rows.Err()
}

// Delete removes chunks from the index.
func (s *SQLiteKeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("keyword index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM fts_chunks WHERE chunk_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_ids WHERE chunk_id = ?", id); err != nil {
			return fmt.Errorf("failed to untrack %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of indexed chunks.
func (s *SQLiteKeywordIndex) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunk_ids").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return count, nil
}

// Close closes the index.
func (s *SQLiteKeywordIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ KeywordIndex = (*SQLiteKeywordIndex)(nil)
