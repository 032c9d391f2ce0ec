package chunk

import (
	"context"
	"strings"
)

// separators is the split priority list, coarsest first. The empty string
// is a hard character split for text with no natural boundaries.
var separators = []string{"\n\n", "\n", " ", ""}

// RecursiveChunker splits cleaned text on progressively finer separators,
// accumulating segments up to the target size with dynamic overlap carried
// between consecutive chunks.
type RecursiveChunker struct {
	chunkSize      int
	defaultOverlap int
}

var _ Chunker = (*RecursiveChunker)(nil)

// NewRecursiveChunker creates a recursive chunker. Non-positive arguments
// use the package defaults.
func NewRecursiveChunker(chunkSize, defaultOverlap int) *RecursiveChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if defaultOverlap <= 0 || defaultOverlap >= chunkSize {
		defaultOverlap = DefaultChunkSize / 5
		if defaultOverlap >= chunkSize {
			defaultOverlap = chunkSize / 5
		}
	}
	return &RecursiveChunker{chunkSize: chunkSize, defaultOverlap: defaultOverlap}
}

// Chunk splits text into overlapping chunks.
func (r *RecursiveChunker) Chunk(ctx context.Context, text string, metadata map[string]string) ([]*Chunk, error) {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, nil
	}

	overlap := ComputeOverlap(cleaned, r.chunkSize, r.defaultOverlap)

	pieces := r.splitRecursive(cleaned, 0)
	merged := r.mergeWithOverlap(pieces, overlap)

	chunks := make([]*Chunk, 0, len(merged))
	for _, text := range merged {
		chunks = append(chunks, &Chunk{Text: text})
	}
	return finalizeChunks(chunks, "recursive", metadata), nil
}

// splitRecursive splits text into pieces no larger than chunkSize, using
// the separator at sepIdx and recursing to finer separators for oversize
// pieces.
func (r *RecursiveChunker) splitRecursive(text string, sepIdx int) []string {
	if len(text) <= r.chunkSize {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		return hardSplit(text, r.chunkSize)
	}

	sep := separators[sepIdx]
	if sep == "" {
		return hardSplit(text, r.chunkSize)
	}

	parts := splitKeepingSep(text, sep)
	var out []string
	for _, part := range parts {
		if len(part) <= r.chunkSize {
			out = append(out, part)
			continue
		}
		out = append(out, r.splitRecursive(part, sepIdx+1)...)
	}
	return out
}

// splitKeepingSep splits on sep, keeping the separator attached to the
// preceding part so no characters are lost.
func splitKeepingSep(text, sep string) []string {
	var parts []string
	for {
		idx := strings.Index(text, sep)
		if idx < 0 {
			if text != "" {
				parts = append(parts, text)
			}
			return parts
		}
		parts = append(parts, text[:idx+len(sep)])
		text = text[idx+len(sep):]
	}
}

func hardSplit(text string, size int) []string {
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// mergeWithOverlap greedily packs pieces into chunks of at most chunkSize,
// seeding each chunk after the first with the tail of its predecessor.
func (r *RecursiveChunker) mergeWithOverlap(pieces []string, overlap int) []string {
	var chunks []string
	current := ""

	flush := func() {
		trimmed := trimChunk(current)
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		tail := current
		if len(tail) > overlap {
			tail = tail[len(tail)-overlap:]
		}
		current = tail
	}

	for _, piece := range pieces {
		if len(current)+len(piece) > r.chunkSize && trimChunk(current) != "" {
			flush()
		}
		current += piece
	}
	if trimmed := trimChunk(current); trimmed != "" {
		// The overlap seed alone does not justify a trailing chunk.
		if len(chunks) == 0 || len(trimmed) > overlap {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks
}

func trimChunk(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\n') {
		start++
	}
	end := len(s)
	for end > start && (s[end-1] == ' ' || s[end-1] == '\n') {
		end--
	}
	return s[start:end]
}
