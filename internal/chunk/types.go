// Package chunk splits document text into embeddable pieces. The default
// strategy is recursive size-based splitting with content-aware overlap; a
// semantic strategy using sentence embeddings can be enabled in config.
package chunk

import (
	"context"
	"strconv"
)

const (
	// DefaultChunkSize is the default target chunk size in characters.
	DefaultChunkSize = 1000

	// DefaultOverlap is the default overlap for prose content.
	DefaultOverlap = 200

	// MinOverlap is the lower clamp for computed overlap.
	MinOverlap = 20

	// MaxOverlap is the absolute upper clamp for computed overlap.
	MaxOverlap = 500
)

// Chunk is one emitted piece of a document.
type Chunk struct {
	Text     string
	Index    int
	Metadata map[string]string
}

// Chunker splits text into chunks.
type Chunker interface {
	// Chunk splits text, merging the caller's metadata into each chunk's
	// metadata map alongside chunk_index, chunk_size, total_chunks and
	// chunking_method.
	Chunk(ctx context.Context, text string, metadata map[string]string) ([]*Chunk, error)
}

// finalizeChunks fills the per-chunk bookkeeping metadata in a second pass,
// once the total count is known.
func finalizeChunks(chunks []*Chunk, method string, caller map[string]string) []*Chunk {
	total := strconv.Itoa(len(chunks))
	for i, c := range chunks {
		c.Index = i
		meta := make(map[string]string, len(caller)+4)
		for k, v := range caller {
			meta[k] = v
		}
		meta["chunk_index"] = strconv.Itoa(i)
		meta["chunk_size"] = strconv.Itoa(len(c.Text))
		meta["total_chunks"] = total
		meta["chunking_method"] = method
		c.Metadata = meta
	}
	return chunks
}
