package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketP10, LatencyToBucket(5*time.Millisecond))
	assert.Equal(t, BucketP50, LatencyToBucket(10*time.Millisecond))
	assert.Equal(t, BucketP100, LatencyToBucket(75*time.Millisecond))
	assert.Equal(t, BucketP500, LatencyToBucket(200*time.Millisecond))
	assert.Equal(t, BucketP1000, LatencyToBucket(2*time.Second))
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"core", "switch", "down"}, ExtractTerms("Core switch is down"))
	assert.Nil(t, ExtractTerms(""))
	assert.Nil(t, ExtractTerms("a b"))
}

func TestCircularBuffer(t *testing.T) {
	b := NewCircularBuffer[int](3)
	assert.Equal(t, 0, b.Size())
	assert.Empty(t, b.Items())

	b.Add(1)
	b.Add(2)
	assert.Equal(t, []int{1, 2}, b.Items())

	b.Add(3)
	b.Add(4) // evicts 1
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{2, 3, 4}, b.Items())
}

func TestQueryMetrics_Record(t *testing.T) {
	m := NewQueryMetrics()

	m.Record(QueryEvent{Query: "vpn outage in berlin", Intent: "question", Variants: 3, ResultCount: 5, Confidence: 0.8, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "vpn status", Intent: "question", Variants: 1, ResultCount: 0, Confidence: 0.2, Latency: 600 * time.Millisecond})
	m.Record(QueryEvent{Query: "hello", Intent: "greeting", Variants: 0, ResultCount: 0, Confidence: 0.0, Latency: time.Millisecond})

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.ZeroResultCount)
	assert.Equal(t, int64(2), snap.IntentCounts["question"])
	assert.Equal(t, int64(1), snap.IntentCounts["greeting"])
	assert.Equal(t, []string{"vpn status", "hello"}, snap.ZeroResultQueries)

	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP1000])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP10])

	assert.InDelta(t, 1.0/3.0, snap.AvgConfidence, 1e-9)
	assert.InDelta(t, 4.0/3.0, snap.AvgVariants, 1e-9)
	assert.InDelta(t, 200.0/3.0, snap.ZeroResultPercentage(), 1e-9)
}

func TestQueryMetrics_TopTermsSorted(t *testing.T) {
	m := NewQueryMetrics()
	for i := 0; i < 3; i++ {
		m.Record(QueryEvent{Query: "firewall rules", Intent: "question", ResultCount: 1})
	}
	m.Record(QueryEvent{Query: "firewall logs", Intent: "question", ResultCount: 1})

	snap := m.Snapshot()
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, "firewall", snap.TopTerms[0].Term)
	assert.Equal(t, int64(4), snap.TopTerms[0].Count)
}

func TestQueryMetrics_TermCapacityBounded(t *testing.T) {
	m := NewQueryMetricsWithConfig(Config{TopTermsCapacity: 5, ZeroResultsCapacity: 2})
	for i := 0; i < 20; i++ {
		m.Record(QueryEvent{Query: fmt.Sprintf("term%02d", i), Intent: "question", ResultCount: 0})
	}

	snap := m.Snapshot()
	assert.LessOrEqual(t, len(snap.TopTerms), 5)
	assert.Len(t, snap.ZeroResultQueries, 2)
	assert.Equal(t, []string{"term18", "term19"}, snap.ZeroResultQueries)
}
