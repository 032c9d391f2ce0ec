package llm

import (
	"context"
	"strings"
)

// StaticProvider returns canned responses without any external service.
// It is the terminal fallback in the provider chain: answers degrade to
// "retrieved context only" but the pipeline keeps working.
type StaticProvider struct{}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a static provider.
func NewStaticProvider() *StaticProvider { return &StaticProvider{} }

// Generate returns a canned response. JSON mode yields an empty object so
// downstream parsers fall back to their heuristics.
func (p *StaticProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.JSONMode {
		return &Response{Text: "{}", Model: "static", Provider: p.Name()}, nil
	}

	var b strings.Builder
	b.WriteString("I could not reach a language model to compose an answer. ")
	b.WriteString("Here is the most relevant retrieved context:\n\n")
	b.WriteString(truncate(req.Prompt, 2000))
	return &Response{Text: b.String(), Model: "static", Provider: p.Name()}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Name returns the provider identifier.
func (p *StaticProvider) Name() string { return "static" }

// Available always reports true.
func (p *StaticProvider) Available(ctx context.Context) bool { return true }

// Close is a no-op.
func (p *StaticProvider) Close() error { return nil }
