package llm

import (
	"fmt"
	"time"
)

// FactoryConfig selects the primary provider and fallback chain.
type FactoryConfig struct {
	Provider          string // "ollama", "openai" or "static"
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	MinInterval       time.Duration

	// FallbackProviders are tried in order after the primary fails.
	FallbackProviders []string

	// Ollama
	OllamaHost string

	// OpenAI
	OpenAIKey     string
	OpenAIBaseURL string
}

// NewGatewayFromConfig builds the provider chain and wraps it in a gateway.
func NewGatewayFromConfig(cfg FactoryConfig) (*Gateway, error) {
	names := append([]string{cfg.Provider}, cfg.FallbackProviders...)

	seen := make(map[string]bool)
	var providers []Provider
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		provider, err := newProvider(name, cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}

	return NewGateway(GatewayConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MinInterval:       cfg.MinInterval,
		Timeout:           cfg.Timeout,
	}, providers...)
}

func newProvider(name string, cfg FactoryConfig) (Provider, error) {
	switch name {
	case "ollama", "":
		return NewOllamaProvider(OllamaConfig{
			Host:        cfg.OllamaHost,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:      cfg.OpenAIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "static":
		return NewStaticProvider(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (valid options: ollama, openai, static)", name)
	}
}
