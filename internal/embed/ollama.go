package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect from first embedding
	BatchSize  int
	Timeout    time.Duration

	// SkipHealthCheck skips the startup connectivity probe (testing).
	SkipHealthCheck bool
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	batcher   *Batcher
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama embedder.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// Timeouts are applied per request via context so batch retries can
	// extend them; a static client timeout would override that.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck && cfg.Dimensions == 0 {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		dims, err := e.detectDimensions(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		e.dims = dims
	}

	e.batcher = &Batcher{ConfiguredSize: cfg.BatchSize, Dimensions: e.dims}
	return e, nil
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.embedOnce(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("empty probe embedding from model %s", e.config.Model)
	}
	return len(vecs[0]), nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting the input
// into adaptively-sized sub-batches. A 429 response is retried once after
// the server's Retry-After delay.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
		vecs, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

// embedBatchWithRetry retries a rate-limited batch exactly once.
func (e *OllamaEmbedder) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	vecs, err := e.embedOnce(ctx, batch)
	if err == nil {
		return vecs, nil
	}

	rateErr, ok := err.(*rateLimitedError)
	if !ok {
		return nil, err
	}

	slog.Debug("embedding batch rate limited, retrying once",
		slog.Duration("delay", rateErr.retryAfter))
	select {
	case <-time.After(rateErr.retryAfter):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.embedOnce(ctx, batch)
}

// rateLimitedError signals a 429 response with the delay to wait.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.retryAfter)
}

// parseRetryAfter reads the Retry-After header in seconds, falling back to
// a fixed delay when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return RateLimitFallbackDelay
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return RateLimitFallbackDelay
	}
	return time.Duration(secs) * time.Second
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &rateLimitedError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(result.Embeddings))
	}

	for i, vec := range result.Embeddings {
		if e.dims > 0 && len(vec) != e.dims {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(vec), e.dims)
		}
		result.Embeddings[i] = normalizeVector(vec)
	}
	return result.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available checks Ollama connectivity.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases HTTP connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
