// Package telemetry collects local query metrics for tuning retrieval.
// Nothing leaves the process; snapshots surface through the status tool.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one completed query through the engine.
type QueryEvent struct {
	Query       string
	Intent      string
	Variants    int
	ResultCount int
	Confidence  float64
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query produced no sources.
func (e QueryEvent) IsZeroResult() bool { return e.ResultCount == 0 }

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffer contents oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return []T{}
	}
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		copy(out, b.items[b.head:])
		copy(out[b.capacity-b.head:], b.items[:b.head])
	}
	return out
}

// Size returns the current item count.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases the query and keeps words of length >= 3.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount pairs a term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of collected metrics.
type Snapshot struct {
	IntentCounts        map[string]int64        `json:"intent_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	AvgConfidence       float64                 `json:"avg_confidence"`
	AvgVariants         float64                 `json:"avg_variants"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config sizes the collector's bounded structures.
type Config struct {
	TopTermsCapacity    int
	ZeroResultsCapacity int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TopTermsCapacity: 100, ZeroResultsCapacity: 100}
}

// QueryMetrics aggregates query events in memory. Thread-safe.
type QueryMetrics struct {
	mu sync.RWMutex

	intents         map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	confidenceSum   float64
	variantSum      int64
	startTime       time.Time
}

// NewQueryMetrics creates a collector with default capacities.
func NewQueryMetrics() *QueryMetrics {
	return NewQueryMetricsWithConfig(DefaultConfig())
}

// NewQueryMetricsWithConfig creates a collector with custom capacities.
func NewQueryMetricsWithConfig(cfg Config) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	return &QueryMetrics{
		intents:     make(map[string]int64),
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		startTime:   time.Now(),
	}
}

// Record captures one query event. Non-blocking.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intents[event.Intent]++
	m.totalQueries++
	m.confidenceSum += event.Confidence
	m.variantSum += int64(event.Variants)

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
	}

	m.latencies[LatencyToBucket(event.Latency)]++
}

// Snapshot returns the current metrics for reporting.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intents := make(map[string]int64, len(m.intents))
	for k, v := range m.intents {
		intents[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool { return topTerms[i].Count > topTerms[j].Count })

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var avgConfidence, avgVariants float64
	if m.totalQueries > 0 {
		avgConfidence = m.confidenceSum / float64(m.totalQueries)
		avgVariants = float64(m.variantSum) / float64(m.totalQueries)
	}

	return &Snapshot{
		IntentCounts:        intents,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		AvgConfidence:       avgConfidence,
		AvgVariants:         avgVariants,
		Since:               m.startTime,
	}
}
