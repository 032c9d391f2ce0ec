// Package models tracks loaded ML models (embedders, cross-encoders,
// sentence encoders) behind a process-wide memory manager with idle
// eviction and a total-memory cap.
package models

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corpora-ai/corpora/internal/errors"
)

const (
	// DefaultIdleTimeout evicts models unused for this long.
	DefaultIdleTimeout = 10 * time.Minute

	// DefaultSweepInterval is how often the idle sweeper runs.
	DefaultSweepInterval = time.Minute

	// lastUsedCapacity bounds the recency index; far above any realistic
	// model count.
	lastUsedCapacity = 128
)

// Model is a loaded model instance. Close must release provider-specific
// resources (connections, buffers, tokenizers).
type Model interface {
	MemoryBytes() int64
	Close() error
}

// Loader constructs a model on demand.
type Loader func(ctx context.Context) (Model, error)

// Config sizes the manager.
type Config struct {
	MaxMemoryBytes int64 // 0 = unlimited
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Loaded     int
	TotalBytes int64
	Loads      int64
	Evictions  int64
}

type loaded struct {
	model Model
	bytes int64
}

// Manager is the process-wide model registry. Loads are lazy and
// serialised; eviction unloads the least-recently-used model first.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	loaders  map[string]Loader
	models   map[string]*loaded
	lastUsed *lru.Cache[string, time.Time]
	loads    int64
	evicted  int64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewManager creates a manager and starts the idle sweeper.
func NewManager(cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	lastUsed, _ := lru.New[string, time.Time](lastUsedCapacity)
	m := &Manager{
		cfg:      cfg,
		loaders:  make(map[string]Loader),
		models:   make(map[string]*loaded),
		lastUsed: lastUsed,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Register binds a model ID to its loader. Re-registering replaces the
// loader but leaves a loaded instance in place until eviction.
func (m *Manager) Register(id string, loader Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[id] = loader
}

// Acquire returns the model for id, loading it lazily. The load runs
// under the manager lock so concurrent callers share one instance.
func (m *Manager) Acquire(ctx context.Context, id string) (Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.models[id]; ok {
		m.lastUsed.Add(id, time.Now())
		return entry.model, nil
	}

	loader, ok := m.loaders[id]
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("unknown model %q", id), nil)
	}

	model, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	bytes := model.MemoryBytes()

	if m.cfg.MaxMemoryBytes > 0 {
		m.evictForSpaceLocked(bytes, id)
	}

	m.models[id] = &loaded{model: model, bytes: bytes}
	m.lastUsed.Add(id, time.Now())
	m.loads++
	slog.Info("model loaded", slog.String("model", id), slog.Int64("bytes", bytes))
	return model, nil
}

// Unload forces a model out of memory. A later Acquire reloads it.
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(id)
}

func (m *Manager) unloadLocked(id string) error {
	entry, ok := m.models[id]
	if !ok {
		return nil
	}
	delete(m.models, id)
	m.lastUsed.Remove(id)
	m.evicted++
	if err := entry.model.Close(); err != nil {
		return err
	}
	slog.Info("model unloaded", slog.String("model", id), slog.Int64("bytes", entry.bytes))
	return nil
}

// evictForSpaceLocked frees least-recently-used models until incoming
// bytes fit under the cap. The model being loaded is never a victim.
func (m *Manager) evictForSpaceLocked(incoming int64, loadingID string) {
	for m.totalBytesLocked()+incoming > m.cfg.MaxMemoryBytes {
		victim := ""
		for _, id := range m.lastUsed.Keys() { // oldest first
			if id != loadingID {
				if _, ok := m.models[id]; ok {
					victim = id
					break
				}
			}
		}
		if victim == "" {
			return
		}
		if err := m.unloadLocked(victim); err != nil {
			slog.Warn("model unload failed", slog.String("model", victim), slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) totalBytesLocked() int64 {
	var total int64
	for _, entry := range m.models {
		total += entry.bytes
	}
	return total
}

// EvictIdle unloads models unused since the cutoff and returns how many.
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.cfg.IdleTimeout)
	count := 0
	for _, id := range m.lastUsed.Keys() {
		used, ok := m.lastUsed.Peek(id)
		if !ok || used.After(cutoff) {
			continue
		}
		if _, loadedNow := m.models[id]; !loadedNow {
			continue
		}
		if err := m.unloadLocked(id); err != nil {
			slog.Warn("idle unload failed", slog.String("model", id), slog.String("error", err.Error()))
			continue
		}
		count++
	}
	return count
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.EvictIdle(time.Now()); n > 0 {
				slog.Debug("idle model sweep", slog.Int("evicted", n))
			}
		}
	}
}

// Stats reports current load state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Loaded:     len(m.models),
		TotalBytes: m.totalBytesLocked(),
		Loads:      m.loads,
		Evictions:  m.evicted,
	}
}

// Close stops the sweeper and unloads everything.
func (m *Manager) Close() error {
	m.once.Do(func() { close(m.stop) })
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id := range m.models {
		if err := m.unloadLocked(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
