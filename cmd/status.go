package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corpora-ai/corpora/internal/store"
	"github.com/corpora-ai/corpora/pkg/version"
)

// statusInfo is the collected service state, also used for --json output.
type statusInfo struct {
	Version        string  `json:"version"`
	DataDir        string  `json:"data_dir"`
	Documents      int     `json:"documents"`
	Chunks         int     `json:"chunks"`
	Vectors        int     `json:"vectors"`
	IndexSizeBytes int64   `json:"index_size_bytes"`
	DBSizeBytes    int64   `json:"db_size_bytes"`
	EmbedderModel  string  `json:"embedder_model"`
	EmbedderDims   int     `json:"embedder_dims"`
	EmbedderReady  bool    `json:"embedder_ready"`
	TicketSource   bool    `json:"ticket_source"`
	PendingTickets int     `json:"pending_tickets"`
	OrphanRatio    float64 `json:"orphan_ratio"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show corpus size and service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	info, err := collectStatus(ctx, app)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "corpora %s\n", info.Version)
	fmt.Fprintf(out, "Data dir:   %s\n", info.DataDir)
	fmt.Fprintf(out, "Documents:  %d (%d chunks, %d vectors)\n", info.Documents, info.Chunks, info.Vectors)
	fmt.Fprintf(out, "Storage:    index %s, metadata %s\n", formatBytes(info.IndexSizeBytes), formatBytes(info.DBSizeBytes))
	state := "unavailable"
	if info.EmbedderReady {
		state = "ready"
	}
	fmt.Fprintf(out, "Embedder:   %s (%d dims, %s)\n", info.EmbedderModel, info.EmbedderDims, state)
	if info.TicketSource {
		fmt.Fprintf(out, "Tickets:    enabled, %d pending ingestion\n", info.PendingTickets)
	}
	if info.OrphanRatio > 0 {
		fmt.Fprintf(out, "Orphans:    %.0f%% of graph nodes (compaction candidate)\n", info.OrphanRatio*100)
	}
	return nil
}

func collectStatus(ctx context.Context, app *App) (*statusInfo, error) {
	info := &statusInfo{
		Version: version.Version,
		DataDir: app.Config.Paths.DataDir,
	}

	docs, err := app.Meta.CountDocuments(ctx, store.DocumentFilter{})
	if err != nil {
		return nil, err
	}
	info.Documents = docs

	chunks, err := app.Meta.ChunkCount(ctx)
	if err != nil {
		return nil, err
	}
	info.Chunks = chunks

	info.Vectors = app.Vectors.Info().NTotal
	stats := app.Vectors.Stats()
	if stats.GraphNodes > 0 {
		info.OrphanRatio = float64(stats.Orphans) / float64(stats.GraphNodes)
	}

	info.IndexSizeBytes = fileSize(app.Config.VectorStorePath())
	info.DBSizeBytes = fileSize(app.Config.MetadataDBPath())

	info.EmbedderModel = app.Embedder.ModelName()
	info.EmbedderDims = app.Embedder.Dimensions()
	info.EmbedderReady = app.Embedder.Available(ctx)

	if app.Scheduler != nil {
		info.TicketSource = true
		pending, err := app.Meta.ListPendingTickets(ctx, 1000)
		if err != nil {
			return nil, err
		}
		info.PendingTickets = len(pending)
	}
	return info, nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
