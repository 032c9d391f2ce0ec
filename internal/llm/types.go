// Package llm provides text generation through a rate-limited gateway with
// an ordered provider fallback chain.
package llm

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds a single generation request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxTokens is the default completion token limit.
	DefaultMaxTokens = 1000

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.1

	// DefaultRequestsPerMinute is the default gateway rate limit.
	DefaultRequestsPerMinute = 30

	// DefaultMinInterval is the default minimum gap between requests.
	DefaultMinInterval = 500 * time.Millisecond
)

// Request is a single generation request.
type Request struct {
	// System is the system prompt. Empty means no system message.
	System string

	// Prompt is the user prompt.
	Prompt string

	// MaxTokens overrides the provider default when positive.
	MaxTokens int

	// Temperature overrides the provider default when non-negative.
	// Use -1 for the provider default.
	Temperature float64

	// JSONMode asks the provider for a JSON object response where supported.
	JSONMode bool
}

// Response is a generation result.
type Response struct {
	Text     string
	Model    string
	Provider string
}

// Provider generates text. Implementations do not retry; the caller owns
// failure policy.
type Provider interface {
	// Generate produces a completion for the request.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier.
	Name() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
