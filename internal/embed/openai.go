package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the default OpenAI embedding model.
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for compatible endpoints
	Model      string
	Dimensions int // 0 = model default
	BatchSize  int
	Timeout    time.Duration
}

// OpenAIEmbedder generates embeddings through the OpenAI API.
type OpenAIEmbedder struct {
	client  *openai.Client
	config  OpenAIConfig
	batcher *Batcher
	dims    int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// knownDimensions maps models to their default output dimension.
var knownDimensions = map[string]int{
	string(openai.SmallEmbedding3): 1536,
	string(openai.LargeEmbedding3): 3072,
	string(openai.AdaEmbeddingV2):  1536,
}

// NewOpenAIEmbedder creates an OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = knownDimensions[cfg.Model]
	}

	e := &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		dims:   dims,
	}
	e.batcher = &Batcher{ConfiguredSize: cfg.BatchSize, Dimensions: dims}
	return e, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in adaptive batches.
// A rate-limited batch is retried once.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	results := make([][]float32, 0, len(texts))
	for _, batch := range e.batcher.Split(texts) {
		vecs, err := e.embedOnce(ctx, batch)
		if err != nil && isOpenAIRateLimit(err) {
			slog.Debug("embedding batch rate limited, retrying once")
			select {
			case <-time.After(RateLimitFallbackDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			vecs, err = e.embedOnce(ctx, batch)
		}
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func isOpenAIRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	return false
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input: batch,
		Model: openai.EmbeddingModel(e.config.Model),
	}
	if e.config.Dimensions > 0 {
		req.Dimensions = e.config.Dimensions
	}

	resp, err := e.client.CreateEmbeddings(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(resp.Data))
	}

	vecs := make([][]float32, len(batch))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vecs[item.Index] = normalizeVector(item.Embedding)
	}
	// First response fixes the dimension when the model default is unknown.
	if e.dims == 0 && len(vecs) > 0 {
		e.dims = len(vecs[0])
		e.batcher.Dimensions = e.dims
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available probes the API with a minimal request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := e.client.ListModels(checkCtx)
	return err == nil
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
