package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// StaticDimensions is the embedding dimension of the static embedder.
const StaticDimensions = 256

// StaticEmbedder produces deterministic hash-based embeddings without any
// external service. Quality is far below a real model; it exists so tests
// and offline smoke runs have a working pipeline.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder. dims <= 0 uses the default.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates a deterministic embedding from token hashes.
func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		for i := 0; i+4 <= len(sum); i += 4 {
			slot := int(binary.LittleEndian.Uint32(sum[i:])) % s.dims
			if slot < 0 {
				slot += s.dims
			}
			vec[slot] += 1.0
		}
	}
	return normalizeVector(vec), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (s *StaticEmbedder) Dimensions() int { return s.dims }

// ModelName returns the model identifier.
func (s *StaticEmbedder) ModelName() string { return "static-hash" }

// Available always reports true.
func (s *StaticEmbedder) Available(ctx context.Context) bool { return true }

// Close is a no-op.
func (s *StaticEmbedder) Close() error { return nil }
