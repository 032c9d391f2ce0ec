package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	bytes  int64
	closed bool
}

func (f *fakeModel) MemoryBytes() int64 { return f.bytes }
func (f *fakeModel) Close() error {
	f.closed = true
	return nil
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func registerFake(m *Manager, id string, bytes int64) *int {
	loads := 0
	m.Register(id, func(ctx context.Context) (Model, error) {
		loads++
		return &fakeModel{bytes: bytes}, nil
	})
	return &loads
}

func TestManager_AcquireLoadsOnce(t *testing.T) {
	m := newTestManager(t, Config{})
	loads := registerFake(m, "embedder", 100)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "embedder")
	require.NoError(t, err)
	second, err := m.Acquire(ctx, "embedder")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, *loads)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Loaded)
	assert.Equal(t, int64(100), stats.TotalBytes)
	assert.Equal(t, int64(1), stats.Loads)
}

func TestManager_AcquireUnknown(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.Acquire(context.Background(), "nope")
	require.Error(t, err)
}

func TestManager_MemoryCapEvictsLRU(t *testing.T) {
	m := newTestManager(t, Config{MaxMemoryBytes: 100})
	registerFake(m, "a", 60)
	registerFake(m, "b", 30)
	registerFake(m, "c", 40)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "b")
	require.NoError(t, err)

	// Touch a so b becomes the least recently used.
	_, err = m.Acquire(ctx, "a")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "c")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, int64(100), stats.TotalBytes)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.True(t, b.(*fakeModel).closed)
	assert.False(t, a.(*fakeModel).closed)
}

func TestManager_EvictIdle(t *testing.T) {
	m := newTestManager(t, Config{IdleTimeout: time.Minute})
	loads := registerFake(m, "reranker", 50)
	ctx := context.Background()

	model, err := m.Acquire(ctx, "reranker")
	require.NoError(t, err)

	assert.Equal(t, 0, m.EvictIdle(time.Now()))

	evicted := m.EvictIdle(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.True(t, model.(*fakeModel).closed)
	assert.Equal(t, 0, m.Stats().Loaded)

	// The next acquire reloads lazily.
	_, err = m.Acquire(ctx, "reranker")
	require.NoError(t, err)
	assert.Equal(t, 2, *loads)
}

func TestManager_UnloadAndClose(t *testing.T) {
	m := NewManager(Config{})
	registerFake(m, "a", 10)
	registerFake(m, "b", 10)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, m.Unload("a"))
	assert.True(t, a.(*fakeModel).closed)
	require.NoError(t, m.Unload("a")) // absent is a no-op

	require.NoError(t, m.Close())
	assert.True(t, b.(*fakeModel).closed)
}
