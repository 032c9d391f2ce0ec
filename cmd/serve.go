package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpora-ai/corpora/internal/logging"
	"github.com/corpora-ai/corpora/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Start the MCP server. Tools exposed: corpora_query, corpora_chat,
corpora_ingest, corpora_sync_tickets and corpora_status.

Stdout carries JSON-RPC exclusively; diagnostics go to the log file
under ~/.corpora/logs/. When the external ticket source is enabled the
background sync scheduler starts alongside the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	// MCP clients own stdout, so logging must never reach it. Without
	// --debug the server still logs to file, just not at debug level.
	if loggingCleanup == nil {
		cfg := logging.DefaultConfig()
		cfg.WriteToStderr = false
		logger, cleanup, err := logging.Setup(cfg)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if app.Scheduler != nil {
		if err := app.Scheduler.Start(ctx); err != nil {
			return err
		}
	}

	var syncer mcp.TicketSyncer
	if app.Scheduler != nil {
		syncer = app.Scheduler
	}
	server, err := mcp.NewServer(mcp.Deps{
		Ingestor:  app.Ingestor,
		Engine:    app.Engine,
		Convos:    app.Convos,
		Scheduler: syncer,
		Vectors:   app.Vectors,
		Meta:      app.Meta,
		Embedder:  app.Embedder,
		Metrics:   app.Metrics,
	})
	if err != nil {
		return err
	}

	return server.Serve(ctx)
}
