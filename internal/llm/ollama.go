package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultOllamaHost is the default Ollama API endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultOllamaModel is the default generation model.
const DefaultOllamaModel = "llama3.2:3b"

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	Host        string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OllamaProvider generates text through Ollama's HTTP API.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
}

var _ Provider = (*OllamaProvider)(nil)

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// Generate produces a completion. Timeouts come from the caller's context.
func (p *OllamaProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := p.config.Temperature
	if req.Temperature >= 0 {
		temperature = req.Temperature
	}

	genReq := ollamaGenerateRequest{
		Model:  p.config.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: map[string]any{
			"num_predict": maxTokens,
			"temperature": temperature,
		},
	}
	if req.JSONMode {
		genReq.Format = "json"
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &Response{Text: result.Response, Model: result.Model, Provider: p.Name()}, nil
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string { return "ollama" }

// Available checks Ollama connectivity.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, p.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases HTTP connections.
func (p *OllamaProvider) Close() error {
	p.transport.CloseIdleConnections()
	return nil
}
