package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Compactor defaults.
const (
	DefaultOrphanThreshold = 0.2
	DefaultMinOrphanCount  = 100
	DefaultCompactIdle     = 30 * time.Second
	DefaultCompactCooldown = time.Hour
)

// EmbeddingSource supplies the stored embeddings a graph rebuild needs.
// *SQLiteStore satisfies it.
type EmbeddingSource interface {
	GetAllEmbeddings(ctx context.Context) (map[string][]float32, error)
}

var _ EmbeddingSource = (*SQLiteStore)(nil)

// CompactorConfig tunes the background compaction gates.
type CompactorConfig struct {
	Enabled         bool
	OrphanThreshold float64
	MinOrphanCount  int
	IdleTimeout     time.Duration
	Cooldown        time.Duration
}

// Compactor rebuilds the vector graph in the background once lazy deletions
// have accumulated. A rebuild runs only when all gates pass:
//
//  1. the store is idle (no index changes for IdleTimeout)
//  2. orphans/nodes exceeds OrphanThreshold
//  3. at least MinOrphanCount orphans exist (avoids small-index churn)
//  4. the cooldown since the previous rebuild has elapsed
//
// Idleness is detected by polling the store's stats: an unchanged
// (valid, nodes) pair across the idle window means no writes happened.
type Compactor struct {
	cfg     CompactorConfig
	vectors *HNSWStore
	source  EmbeddingSource

	mu          sync.Mutex
	lastStats   VectorStats
	lastChange  time.Time
	lastCompact time.Time
	runs        int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool

	// test seam
	now func() time.Time
}

// NewCompactor creates a compactor over the vector store.
func NewCompactor(vectors *HNSWStore, source EmbeddingSource, cfg CompactorConfig) *Compactor {
	if cfg.OrphanThreshold <= 0 {
		cfg.OrphanThreshold = DefaultOrphanThreshold
	}
	if cfg.MinOrphanCount <= 0 {
		cfg.MinOrphanCount = DefaultMinOrphanCount
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultCompactIdle
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCompactCooldown
	}
	return &Compactor{
		cfg:     cfg,
		vectors: vectors,
		source:  source,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the polling loop. A disabled compactor starts nothing.
func (c *Compactor) Start(ctx context.Context) {
	if !c.cfg.Enabled || c.started {
		return
	}
	c.started = true
	c.lastChange = c.now()
	c.lastStats = c.vectors.Stats()

	slog.Debug("compactor started",
		slog.Float64("orphan_threshold", c.cfg.OrphanThreshold),
		slog.Int("min_orphan_count", c.cfg.MinOrphanCount),
		slog.Duration("idle_timeout", c.cfg.IdleTimeout))

	go c.loop(ctx)
}

// Stop halts the loop and waits for an in-progress rebuild to finish.
// Safe to call multiple times or on a never-started compactor.
func (c *Compactor) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started {
		<-c.done
	}
}

// Runs reports how many rebuilds have completed.
func (c *Compactor) Runs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func (c *Compactor) loop(ctx context.Context) {
	defer close(c.done)

	// Poll at half the idle window so a full window of inactivity is
	// always observed across at least two ticks.
	ticker := time.NewTicker(c.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Compactor) tick(ctx context.Context) {
	stats := c.vectors.Stats()

	c.mu.Lock()
	if stats != c.lastStats {
		c.lastStats = stats
		c.lastChange = c.now()
		c.mu.Unlock()
		return
	}
	idleSince := c.lastChange
	lastCompact := c.lastCompact
	c.mu.Unlock()

	now := c.now()
	if now.Sub(idleSince) < c.cfg.IdleTimeout {
		return
	}
	if !lastCompact.IsZero() && now.Sub(lastCompact) < c.cfg.Cooldown {
		return
	}
	if !c.eligible(stats) {
		return
	}

	c.compact(ctx, stats)
}

// eligible applies the orphan gates.
func (c *Compactor) eligible(stats VectorStats) bool {
	if stats.Orphans < c.cfg.MinOrphanCount {
		return false
	}
	ratio := float64(stats.Orphans) / float64(stats.GraphNodes)
	if ratio < c.cfg.OrphanThreshold {
		slog.Debug("compaction skipped: below threshold",
			slog.Float64("ratio", ratio),
			slog.Float64("threshold", c.cfg.OrphanThreshold))
		return false
	}
	slog.Info("compaction eligible",
		slog.Int("orphans", stats.Orphans),
		slog.Int("nodes", stats.GraphNodes),
		slog.Float64("ratio", ratio))
	return true
}

func (c *Compactor) compact(ctx context.Context, before VectorStats) {
	start := c.now()

	embeddings, err := c.source.GetAllEmbeddings(ctx)
	if err != nil {
		slog.Error("compaction aborted: failed to read embeddings", slog.String("error", err.Error()))
		return
	}
	if err := c.vectors.Compact(ctx, embeddings); err != nil {
		slog.Error("compaction failed", slog.String("error", err.Error()))
		return
	}

	after := c.vectors.Stats()
	c.mu.Lock()
	c.lastCompact = c.now()
	c.lastStats = after
	c.runs++
	c.mu.Unlock()

	slog.Info("compaction complete",
		slog.Int("orphans_removed", before.Orphans-after.Orphans),
		slog.Int("nodes", after.GraphNodes),
		slog.Duration("duration", c.now().Sub(start)))
}
