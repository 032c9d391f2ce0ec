package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corpora-ai/corpora/internal/errors"
)

// GatewayConfig configures the rate-limited gateway.
type GatewayConfig struct {
	RequestsPerMinute int
	MinInterval       time.Duration
	Timeout           time.Duration
}

// Gateway serialises access to an ordered chain of providers. Every request
// passes the rate limiter first: a sliding one-minute window caps request
// count and a minimum interval spaces consecutive calls. Failed requests are
// never retried against the same provider; the next provider in the chain is
// tried instead.
type Gateway struct {
	providers []Provider
	config    GatewayConfig

	mu       sync.Mutex
	window   []time.Time
	lastCall time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway over the provider chain, tried in order.
func NewGateway(cfg GatewayConfig, providers ...Provider) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, errors.LLMError("at least one provider is required", nil)
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Gateway{
		providers: providers,
		config:    cfg,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Generate runs the request through the rate limiter and the provider chain.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := g.waitForSlot(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for _, provider := range g.providers {
		reqCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
		resp, err := provider.Generate(reqCtx, req)
		cancel()

		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.Warn("llm provider failed, trying next in chain",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()))

		// A cancelled parent context stops the chain.
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeLLMTimeout, ctx.Err()).In("llm", "generate")
		}
	}
	return nil, errors.LLMError("all providers failed", lastErr).In("llm", "generate")
}

// waitForSlot blocks until both rate-limit conditions allow a request.
func (g *Gateway) waitForSlot(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.now()
		cutoff := now.Add(-time.Minute)

		// Drop window entries older than one minute.
		keep := g.window[:0]
		for _, t := range g.window {
			if t.After(cutoff) {
				keep = append(keep, t)
			}
		}
		g.window = keep

		var wait time.Duration
		if gap := g.config.MinInterval - now.Sub(g.lastCall); gap > 0 {
			wait = gap
		}
		if len(g.window) >= g.config.RequestsPerMinute {
			if windowWait := g.window[0].Add(time.Minute).Sub(now); windowWait > wait {
				wait = windowWait
			}
		}

		if wait <= 0 {
			g.window = append(g.window, now)
			g.lastCall = now
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		if err := g.sleep(ctx, wait); err != nil {
			return errors.Wrap(errors.ErrCodeLLMTimeout, err).In("llm", "rate_limit_wait")
		}
	}
}

// Pending reports how many requests remain in the current window.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-time.Minute)
	count := 0
	for _, t := range g.window {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// Providers returns the provider names in chain order.
func (g *Gateway) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

// Available reports whether any provider in the chain is ready.
func (g *Gateway) Available(ctx context.Context) bool {
	for _, p := range g.providers {
		if p.Available(ctx) {
			return true
		}
	}
	return false
}

// Close closes all providers, returning the first error.
func (g *Gateway) Close() error {
	var first error
	for _, p := range g.providers {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("close provider %s: %w", p.Name(), err)
		}
	}
	return first
}
