package mcp

// QueryInput defines the input schema for the corpora_query tool.
type QueryInput struct {
	Query           string `json:"query" jsonschema:"the question to answer from the corpus"`
	TopK            int    `json:"top_k,omitempty" jsonschema:"maximum number of sources, default 5"`
	BypassThreshold bool   `json:"bypass_threshold,omitempty" jsonschema:"include low-similarity results instead of filtering them"`
}

// SourceOutput is one retrieved source in a query or chat response.
type SourceOutput struct {
	ChunkID    string  `json:"chunk_id"`
	Label      string  `json:"label" jsonschema:"human-readable source label"`
	Text       string  `json:"text"`
	Score      float64 `json:"score" jsonschema:"final relevance score"`
	SourceType string  `json:"source_type,omitempty"`
	Author     string  `json:"author,omitempty"`
}

// QueryOutput defines the output schema for the corpora_query tool.
type QueryOutput struct {
	Answer          string         `json:"answer"`
	Confidence      float64        `json:"confidence"`
	ConfidenceLevel string         `json:"confidence_level" jsonschema:"high, medium or low"`
	Intent          string         `json:"intent,omitempty"`
	Sources         []SourceOutput `json:"sources"`
	TotalSources    int            `json:"total_sources"`
	UniqueDocuments int            `json:"unique_documents"`
}

// ChatInput defines the input schema for the corpora_chat tool.
type ChatInput struct {
	ThreadID string `json:"thread_id,omitempty" jsonschema:"conversation thread to continue; omit to start a new one"`
	Message  string `json:"message" jsonschema:"the user message"`
}

// ChatOutput defines the output schema for the corpora_chat tool.
type ChatOutput struct {
	ThreadID    string         `json:"thread_id"`
	Response    string         `json:"response"`
	Phase       string         `json:"phase"`
	TurnCount   int            `json:"turn_count"`
	Sources     []SourceOutput `json:"sources,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// IngestInput defines the input schema for the corpora_ingest tool.
type IngestInput struct {
	Path      string            `json:"path" jsonschema:"file or directory to ingest"`
	Recursive bool              `json:"recursive,omitempty" jsonschema:"treat path as a directory and ingest its files"`
	Metadata  map[string]string `json:"metadata,omitempty" jsonschema:"document metadata applied to every ingested file"`
}

// IngestOutput defines the output schema for the corpora_ingest tool.
type IngestOutput struct {
	Total   int      `json:"total"`
	Success int      `json:"success"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Chunks  int      `json:"chunks" jsonschema:"total chunks written"`
	Errors  []string `json:"errors,omitempty"`
}

// SyncTicketsInput defines the input schema for the corpora_sync_tickets
// tool (no parameters).
type SyncTicketsInput struct{}

// SyncTicketsOutput defines the output schema for the corpora_sync_tickets
// tool.
type SyncTicketsOutput struct {
	TotalFetched int      `json:"total_fetched"`
	New          int      `json:"new"`
	Updated      int      `json:"updated"`
	Skipped      int      `json:"skipped"`
	Ingested     int      `json:"ingested"`
	Errors       []string `json:"errors,omitempty"`
}

// StatusInput defines the input schema for the corpora_status tool
// (no parameters).
type StatusInput struct{}

// EmbedderInfo reports the active embedder so clients can judge semantic
// quality before searching.
type EmbedderInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status" jsonschema:"ready or unavailable"`
}

// StatusOutput defines the output schema for the corpora_status tool.
type StatusOutput struct {
	Documents     int          `json:"documents"`
	Vectors       int          `json:"vectors"`
	Threads       int          `json:"threads"`
	Embedder      EmbedderInfo `json:"embedder"`
	TotalQueries  int64        `json:"total_queries"`
	ZeroResultPct float64      `json:"zero_result_pct"`
	Version       string       `json:"version"`
}
