package embed

import (
	"context"
	"fmt"
	"time"
)

// FactoryConfig selects and configures an embedding provider.
type FactoryConfig struct {
	Provider   string // "ollama" or "openai"
	Model      string
	Dimensions int
	BatchSize  int
	CacheSize  int
	Timeout    time.Duration

	// Ollama
	OllamaHost string

	// OpenAI
	OpenAIKey     string
	OpenAIBaseURL string
}

// NewEmbedder creates the configured provider wrapped in an LRU cache.
func NewEmbedder(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	var inner Embedder
	var err error

	switch cfg.Provider {
	case "ollama", "":
		inner, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
	case "static":
		inner = NewStaticEmbedder(cfg.Dimensions)
	case "openai":
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.OpenAIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: ollama, openai, static)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(inner, cfg.CacheSize)
}
