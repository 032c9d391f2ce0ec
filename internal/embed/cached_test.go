package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps the static embedder and counts delegated texts.
type countingEmbedder struct {
	*StaticEmbedder
	embedded atomic.Int64
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.embedded.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_ServesRepeatsFromCache(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(2), inner.embedded.Load())

	second, err := cached.EmbedBatch(ctx, []string{"alpha", "gamma", "beta"})
	require.NoError(t, err)
	require.Len(t, second, 3)
	// Only gamma was new.
	assert.Equal(t, int64(3), inner.embedded.Load())
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, first[1], second[2])

	hits, misses := cached.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(3), misses)
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	cached, err := NewCachedEmbedder(NewStaticEmbedder(16), 10)
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	s := NewStaticEmbedder(0)
	ctx := context.Background()

	a, err := s.Embed(ctx, "vpn tunnel down")
	require.NoError(t, err)
	b, err := s.Embed(ctx, "vpn tunnel down")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)

	c, err := s.Embed(ctx, "printer jam")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestNewEmbedder_Factory(t *testing.T) {
	ctx := context.Background()

	e, err := NewEmbedder(ctx, FactoryConfig{Provider: "static", Dimensions: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, "static-hash", e.ModelName())

	_, err = NewEmbedder(ctx, FactoryConfig{Provider: "tensorflow"})
	assert.Error(t, err)

	_, err = NewEmbedder(ctx, FactoryConfig{Provider: "openai"})
	assert.Error(t, err) // missing API key
}
