package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpora-ai/corpora/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var watch bool
	var metadata map[string]string

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a file or directory into the corpus",
		Long: `Ingest a file or directory. Ingestion is idempotent: files whose
content hash is unchanged are skipped, changed files are re-indexed
atomically (vectors first, then metadata).

With --watch the command keeps running and re-ingests files as they
change under the directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], watch, metadata)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and re-ingest on file changes")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Document metadata as key=value pairs (single files only)")

	return cmd
}

func runIngest(cmd *cobra.Command, path string, watch bool, metadata map[string]string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path not accessible: %w", err)
	}

	out := cmd.OutOrStdout()
	if info.IsDir() {
		result, err := app.Ingestor.IngestDirectory(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Ingested %d files in %s: %d succeeded, %d skipped, %d failed\n",
			result.Total, result.Duration.Round(timeRounding), result.Success, result.Skipped, result.Failed)
		for _, r := range result.Results {
			if r.Err != nil {
				fmt.Fprintf(out, "  %s: %v\n", r.Source, r.Err)
			}
		}
		if watch {
			return watchDirectory(ctx, app.Ingestor, path)
		}
		return nil
	}

	result, err := app.Ingestor.IngestFile(ctx, path, metadata)
	if err != nil {
		return err
	}
	switch result.Status {
	case ingest.StatusSkipped:
		fmt.Fprintf(out, "Skipped %s: %s\n", path, result.Reason)
	default:
		fmt.Fprintf(out, "Ingested %s: %d chunks, %d embeddings\n", path, result.ChunkCount, result.EmbeddingCount)
	}
	return nil
}

func watchDirectory(ctx context.Context, engine *ingest.Engine, dir string) error {
	watcher, err := ingest.NewWatcher(engine, 0)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watcher.Watch(ctx, dir)
}
