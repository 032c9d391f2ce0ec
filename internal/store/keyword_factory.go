package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// KeywordBackend selects the keyword index implementation.
type KeywordBackend string

const (
	// KeywordBackendSQLite uses SQLite FTS5 (default).
	// WAL mode allows concurrent multi-process access.
	KeywordBackendSQLite KeywordBackend = "sqlite"

	// KeywordBackendBleve uses Bleve v2 (legacy).
	// BoltDB takes an exclusive file lock, so single process only.
	KeywordBackendBleve KeywordBackend = "bleve"
)

// NewKeywordIndex creates a keyword index with the given backend.
// basePath is the path without extension; the backend appends .db or .bleve.
// An empty basePath creates an in-memory index for testing.
func NewKeywordIndex(basePath string, backend string) (KeywordIndex, error) {
	switch backend {
	case string(KeywordBackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteKeywordIndex(path)

	case string(KeywordBackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveKeywordIndex(path)

	default:
		return nil, fmt.Errorf("unknown keyword backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectKeywordBackend reports which backend an existing index uses, or an
// empty string when no index exists yet.
func DetectKeywordBackend(basePath string) KeywordBackend {
	if info, err := os.Stat(basePath + ".db"); err == nil && !info.IsDir() {
		return KeywordBackendSQLite
	}
	if info, err := os.Stat(basePath + ".bleve"); err == nil && info.IsDir() {
		return KeywordBackendBleve
	}
	return ""
}

// KeywordIndexPath returns the full index path for a backend under dataDir.
func KeywordIndexPath(dataDir, backend string) string {
	base := filepath.Join(dataDir, "keyword")
	if backend == string(KeywordBackendBleve) {
		return base + ".bleve"
	}
	return base + ".db"
}
