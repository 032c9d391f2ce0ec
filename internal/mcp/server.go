package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/corpora-ai/corpora/internal/convo"
	"github.com/corpora-ai/corpora/internal/embed"
	"github.com/corpora-ai/corpora/internal/errors"
	"github.com/corpora-ai/corpora/internal/ingest"
	"github.com/corpora-ai/corpora/internal/search"
	"github.com/corpora-ai/corpora/internal/store"
	"github.com/corpora-ai/corpora/internal/telemetry"
	"github.com/corpora-ai/corpora/internal/ticket"
	"github.com/corpora-ai/corpora/pkg/version"
)

const serverName = "Corpora"

// TicketSyncer runs one external-source sync cycle on demand.
type TicketSyncer interface {
	SyncOnce(ctx context.Context) (*ticket.SyncResult, error)
}

var _ TicketSyncer = (*ticket.Scheduler)(nil)

// Deps are the collaborators the server exposes as tools. Scheduler and
// Metrics may be nil; the matching tool degrades accordingly.
type Deps struct {
	Ingestor  *ingest.Engine
	Engine    *search.Engine
	Convos    *convo.Manager
	Scheduler TicketSyncer
	Vectors   store.VectorStore
	Meta      *store.SQLiteStore
	Embedder  embed.Embedder
	Metrics   *telemetry.QueryMetrics
}

// Server bridges MCP clients with the RAG service.
type Server struct {
	mcp    *mcp.Server
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.ConfigError("query engine is required", nil)
	}
	if deps.Ingestor == nil {
		return nil, errors.ConfigError("ingestion engine is required", nil)
	}
	if deps.Meta == nil {
		return nil, errors.ConfigError("metadata store is required", nil)
	}

	s := &Server{
		deps:   deps,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: serverName, Version: version.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpora_query",
		Description: "Answer a question from the ingested corpus. Returns a synthesised answer with confidence and the source passages it was built from.",
	}, s.queryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpora_chat",
		Description: "Converse with the corpus. Keeps per-thread context: follow-up questions are resolved against earlier turns. Omit thread_id to start a new conversation.",
	}, s.chatHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpora_ingest",
		Description: "Ingest a file or directory into the corpus. Idempotent: unchanged files are skipped, changed files are re-indexed.",
	}, s.ingestHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpora_sync_tickets",
		Description: "Fetch the external ticket source now instead of waiting for the next scheduled poll. Reports new, updated and skipped records.",
	}, s.syncTicketsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpora_status",
		Description: "Report corpus size, embedder state and query statistics. Use before searching to verify the service is ready.",
	}, s.statusHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 5))
}

func (s *Server) queryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if input.Query == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("query parameter is required")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("query started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query))

	resp, err := s.deps.Engine.Query(ctx, input.Query, search.QueryOptions{
		TopK:            input.TopK,
		BypassThreshold: input.BypassThreshold,
	})
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("query failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, QueryOutput{}, MapError(err)
	}

	s.recordQuery(input.Query, resp, duration)
	s.logger.Info("query completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("sources", len(resp.Sources)))

	output := QueryOutput{
		Answer:          resp.Answer,
		Confidence:      resp.Confidence,
		ConfidenceLevel: resp.ConfidenceLevel,
		Sources:         toSourceOutputs(resp.Sources),
		TotalSources:    resp.TotalSources,
		UniqueDocuments: resp.Diversity.UniqueDocuments,
	}
	if resp.Analysis != nil {
		output.Intent = resp.Analysis.Intent
	}
	return nil, output, nil
}

func (s *Server) chatHandler(ctx context.Context, _ *mcp.CallToolRequest, input ChatInput) (
	*mcp.CallToolResult,
	ChatOutput,
	error,
) {
	if s.deps.Convos == nil {
		return nil, ChatOutput{}, &MCPError{Code: ErrCodeMethodNotFound, Message: "Conversation mode is not enabled."}
	}

	threadID := input.ThreadID
	if threadID == "" {
		started := s.deps.Convos.Start()
		if input.Message == "" {
			return nil, ChatOutput{
				ThreadID:    started.ThreadID,
				Response:    started.Response,
				Phase:       string(started.Phase),
				TurnCount:   started.TurnCount,
				Suggestions: started.Suggestions,
			}, nil
		}
		threadID = started.ThreadID
	}
	if input.Message == "" {
		return nil, ChatOutput{}, NewInvalidParamsError("message parameter is required")
	}

	result, err := s.deps.Convos.Send(ctx, threadID, input.Message)
	if err != nil {
		return nil, ChatOutput{}, MapError(err)
	}

	return nil, ChatOutput{
		ThreadID:    result.ThreadID,
		Response:    result.Response,
		Phase:       string(result.Phase),
		TurnCount:   result.TurnCount,
		Sources:     toSourceOutputs(result.Sources),
		Suggestions: result.Suggestions,
	}, nil
}

func (s *Server) ingestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	if input.Path == "" {
		return nil, IngestOutput{}, NewInvalidParamsError("path parameter is required")
	}

	info, err := os.Stat(input.Path)
	if err != nil {
		return nil, IngestOutput{}, NewInvalidParamsError(fmt.Sprintf("path not accessible: %s", input.Path))
	}

	start := time.Now()
	if info.IsDir() || input.Recursive {
		dirResult, err := s.deps.Ingestor.IngestDirectory(ctx, input.Path)
		if err != nil {
			return nil, IngestOutput{}, MapError(err)
		}
		output := IngestOutput{
			Total:   dirResult.Total,
			Success: dirResult.Success,
			Skipped: dirResult.Skipped,
			Failed:  dirResult.Failed,
		}
		for _, r := range dirResult.Results {
			output.Chunks += r.ChunkCount
			if r.Err != nil {
				output.Errors = append(output.Errors, fmt.Sprintf("%s: %v", r.Source, r.Err))
			}
		}
		s.logger.Info("directory ingested",
			slog.String("path", input.Path),
			slog.Int("success", output.Success),
			slog.Duration("duration", time.Since(start)))
		return nil, output, nil
	}

	result, err := s.deps.Ingestor.IngestFile(ctx, input.Path, input.Metadata)
	if err != nil {
		return nil, IngestOutput{}, MapError(err)
	}
	output := IngestOutput{Total: 1, Chunks: result.ChunkCount}
	switch result.Status {
	case ingest.StatusSkipped:
		output.Skipped = 1
	default:
		output.Success = 1
	}
	return nil, output, nil
}

func (s *Server) syncTicketsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ SyncTicketsInput) (
	*mcp.CallToolResult,
	SyncTicketsOutput,
	error,
) {
	if s.deps.Scheduler == nil {
		return nil, SyncTicketsOutput{}, &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "External ticket source is not configured.",
		}
	}

	result, err := s.deps.Scheduler.SyncOnce(ctx)
	if err != nil {
		return nil, SyncTicketsOutput{}, MapError(err)
	}
	return nil, SyncTicketsOutput{
		TotalFetched: result.TotalFetched,
		New:          result.New,
		Updated:      result.Updated,
		Skipped:      result.Skipped,
		Ingested:     result.Ingested,
		Errors:       result.Errors,
	}, nil
}

func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	*StatusOutput,
	error,
) {
	docs, err := s.deps.Meta.CountDocuments(ctx, store.DocumentFilter{})
	if err != nil {
		return nil, nil, MapError(err)
	}

	output := &StatusOutput{
		Documents: docs,
		Version:   version.Version,
	}
	if s.deps.Vectors != nil {
		output.Vectors = s.deps.Vectors.Info().NTotal
	}
	if s.deps.Convos != nil {
		output.Threads = s.deps.Convos.ThreadCount()
	}

	if s.deps.Embedder != nil {
		output.Embedder = EmbedderInfo{
			Model:      s.deps.Embedder.ModelName(),
			Dimensions: s.deps.Embedder.Dimensions(),
			Status:     "unavailable",
		}
		if s.deps.Embedder.Available(ctx) {
			output.Embedder.Status = "ready"
		}
	}

	if s.deps.Metrics != nil {
		snap := s.deps.Metrics.Snapshot()
		output.TotalQueries = snap.TotalQueries
		output.ZeroResultPct = snap.ZeroResultPercentage()
	}
	return nil, output, nil
}

// recordQuery feeds the telemetry collector, when configured.
func (s *Server) recordQuery(query string, resp *search.Response, duration time.Duration) {
	if s.deps.Metrics == nil {
		return
	}
	event := telemetry.QueryEvent{
		Query:       query,
		ResultCount: len(resp.Sources),
		Confidence:  resp.Confidence,
		Latency:     duration,
		Timestamp:   time.Now(),
	}
	if resp.Analysis != nil {
		event.Intent = resp.Analysis.Intent
	}
	s.deps.Metrics.Record(event)
}

func toSourceOutputs(results []*search.Result) []SourceOutput {
	out := make([]SourceOutput, 0, len(results))
	for _, r := range results {
		score := r.FinalScore
		if score == 0 {
			score = r.WeightedScore
		}
		out = append(out, SourceOutput{
			ChunkID:    r.ChunkID,
			Label:      r.SourceLabel,
			Text:       r.Text,
			Score:      score,
			SourceType: r.SourceType,
			Author:     r.Author,
		})
	}
	return out
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// generateRequestID creates a short ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
