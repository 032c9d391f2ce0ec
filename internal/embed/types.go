// Package embed generates vector embeddings for text through pluggable
// providers with adaptive batch sizing and an LRU cache.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// DefaultBatchSize is the default configured batch size.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheSize is the default embedding LRU cache capacity.
	DefaultCacheSize = 1000

	// RateLimitFallbackDelay is used when a 429 response carries no
	// Retry-After header.
	RateLimitFallbackDelay = 2 * time.Second
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result is
	// positionally aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
