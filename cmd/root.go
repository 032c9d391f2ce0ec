// Package cmd provides the CLI commands for Corpora.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corpora-ai/corpora/internal/logging"
	"github.com/corpora-ai/corpora/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the corpora CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpora",
		Short: "Retrieval-augmented search over operational documents",
		Long: `Corpora ingests documents and external tickets into a hybrid
vector + keyword index and answers questions over them, either as an
MCP server for AI assistants or directly from the command line.

Running 'corpora' with no arguments starts the MCP server on stdio.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			// Default action is the MCP server, so pointing an MCP
			// client at the bare binary just works.
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("corpora version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to corpora.yaml (default: built-in defaults plus CORPORA_* env)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.corpora/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newTicketsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs file-based debug logging when --debug is set.
// Without the flag each command sets up its own logging as needed; serve
// always logs to file because stdout carries JSON-RPC exclusively.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}

	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
