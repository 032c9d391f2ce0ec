package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora/internal/search"
)

// writeTestConfig writes a config file using static providers so tests need
// no network or local model runtime.
func writeTestConfig(t *testing.T) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")

	content := fmt.Sprintf(`paths:
  data_dir: %s
embedder:
  provider: static
  dimensions: 64
llm:
  provider: static
`, dataDir)

	cfgPath = filepath.Join(dir, "corpora.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath, dataDir
}

func TestOpenApp_WiresStack(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)
	ctx := context.Background()

	app, err := openApp(ctx, cfgPath)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	assert.NotNil(t, app.Vectors)
	assert.NotNil(t, app.Meta)
	assert.NotNil(t, app.Keyword)
	assert.NotNil(t, app.Embedder)
	assert.NotNil(t, app.Gateway)
	assert.NotNil(t, app.Ingestor)
	assert.NotNil(t, app.Engine)
	assert.NotNil(t, app.Convos)
	assert.NotNil(t, app.Metrics)
	assert.NotNil(t, app.Models)

	// Ticket source is off by default.
	assert.Nil(t, app.Scheduler)

	assert.Equal(t, 64, app.Embedder.Dimensions())
	assert.Equal(t, dataDir, app.Config.Paths.DataDir)
}

func TestOpenApp_LocksDataDir(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	ctx := context.Background()

	app, err := openApp(ctx, cfgPath)
	require.NoError(t, err)

	_, err = openApp(ctx, cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	require.NoError(t, app.Close())

	// The lock is released on close.
	again, err := openApp(ctx, cfgPath)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpenApp_IngestQueryPersist(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	ctx := context.Background()

	docPath := filepath.Join(t.TempDir(), "outage.txt")
	require.NoError(t, os.WriteFile(docPath,
		[]byte("certificate expiry caused the vpn outage last week"), 0o644))

	app, err := openApp(ctx, cfgPath)
	require.NoError(t, err)

	result, err := app.Ingestor.IngestFile(ctx, docPath, map[string]string{"team": "netops"})
	require.NoError(t, err)
	assert.Greater(t, result.ChunkCount, 0)

	resp, err := app.Engine.Query(ctx, "certificate expiry caused the vpn outage last week", search.QueryOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sources)
	assert.Contains(t, resp.Sources[0].Text, "certificate expiry")

	require.NoError(t, app.Close())

	// Close persisted the index; a fresh App serves the same corpus.
	app2, err := openApp(ctx, cfgPath)
	require.NoError(t, err)
	defer func() { _ = app2.Close() }()

	assert.Greater(t, app2.Vectors.Info().NTotal, 0)
	resp2, err := app2.Engine.Query(ctx, "certificate expiry caused the vpn outage last week", search.QueryOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp2.Sources)
	assert.Contains(t, resp2.Sources[0].Text, "certificate expiry")
}

func TestOpenApp_DimensionMismatch(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)
	ctx := context.Background()

	docPath := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("switch uplink is 10G"), 0o644))

	app, err := openApp(ctx, cfgPath)
	require.NoError(t, err)
	_, err = app.Ingestor.IngestFile(ctx, docPath, nil)
	require.NoError(t, err)
	require.NoError(t, app.Close())

	// A different embedding dimension must be rejected, not silently mixed.
	content := fmt.Sprintf(`paths:
  data_dir: %s
embedder:
  provider: static
  dimensions: 128
llm:
  provider: static
`, dataDir)
	otherCfg := filepath.Join(t.TempDir(), "corpora.yaml")
	require.NoError(t, os.WriteFile(otherCfg, []byte(content), 0o644))

	_, err = openApp(ctx, otherCfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestOpenApp_TicketSourceEnabled(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	content := fmt.Sprintf(`paths:
  data_dir: %s
embedder:
  provider: static
  dimensions: 64
llm:
  provider: static
external_source:
  enabled: true
  base_url: https://tickets.example.com
  client_id: cid
  client_secret: secret
`, dataDir)
	cfgPath := filepath.Join(dir, "corpora.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	app, err := openApp(context.Background(), cfgPath)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	assert.NotNil(t, app.Scheduler)
}
