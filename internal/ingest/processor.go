// Package ingest turns source files and external tickets into embedded,
// searchable chunks. Processing and embedding run in a worker pool; the
// vector store and metadata store are written under their own locks with
// compensation so failures never leave orphans.
package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/corpora-ai/corpora/internal/store"
)

// Status values for processor and ingestion results.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// RawChunk is a processor-produced piece of text before IDs and embeddings
// are assigned.
type RawChunk struct {
	Text     string
	Metadata map[string]string
}

// ProcessResult is the outcome of running a processor on one source.
type ProcessResult struct {
	Status string
	Reason string // set when Status is skipped
	Chunks []RawChunk

	// Metadata is document-level metadata merged into every chunk.
	Metadata map[string]string

	// SourceType classifies the document for retrieval diversity.
	SourceType store.SourceType
}

// Processor converts one source format into chunks.
type Processor interface {
	// Name identifies the processor in Document records.
	Name() string

	// CanProcess reports whether the processor handles the path.
	CanProcess(path string) bool

	// Process reads and chunks the source. Caller metadata is merged into
	// the result's metadata map.
	Process(ctx context.Context, path string, metadata map[string]string) (*ProcessResult, error)
}

// Registry selects a processor by file extension.
type Registry struct {
	processors []Processor
}

// NewRegistry creates a registry with the given processors, consulted in
// order.
func NewRegistry(processors ...Processor) *Registry {
	return &Registry{processors: processors}
}

// For returns the first processor that can handle the path, or nil.
func (r *Registry) For(path string) Processor {
	for _, p := range r.processors {
		if p.CanProcess(path) {
			return p
		}
	}
	return nil
}

// Processors returns all registered processors.
func (r *Registry) Processors() []Processor { return r.processors }

func hasExtension(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func mergeMetadata(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	return dst
}
