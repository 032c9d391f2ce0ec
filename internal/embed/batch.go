package embed

import (
	"runtime"
)

const (
	// memoryBudgetFraction is the share of available memory the batcher
	// is willing to commit to in-flight embedding payloads.
	memoryBudgetFraction = 0.4

	// bytesPerChar accounts for request encoding overhead per character.
	bytesPerChar = 4

	// bytesPerDim is the wire size of one float32 embedding component.
	bytesPerDim = 4

	// pipelineFactor scales the batch up for stage overlap: while one
	// batch decodes, the next two can be in flight.
	pipelineFactor = 3

	// fallbackMemoryBytes is used when no memory probe is configured.
	fallbackMemoryBytes = 512 << 20
)

// Batcher computes adaptive batch sizes from text statistics and an
// available-memory estimate.
type Batcher struct {
	// ConfiguredSize is the operator-configured batch size. The adaptive
	// size never exceeds twice this value.
	ConfiguredSize int

	// Dimensions is the embedding dimension of the target model.
	Dimensions int

	// AvailableMemory overrides the memory probe, mainly for tests.
	// When nil, a probe based on runtime statistics is used.
	AvailableMemory func() uint64
}

// OptimalBatchSize returns the batch size for the given texts.
// Larger average texts shrink the batch; a single outlier text more than
// three times the mean length halves it again.
func (b *Batcher) OptimalBatchSize(texts []string) int {
	configured := b.ConfiguredSize
	if configured <= 0 {
		configured = DefaultBatchSize
	}
	if len(texts) == 0 {
		return configured
	}

	total := 0
	maxLen := 0
	for _, t := range texts {
		total += len(t)
		if len(t) > maxLen {
			maxLen = len(t)
		}
	}
	avgLen := total / len(texts)
	if avgLen == 0 {
		avgLen = 1
	}

	mem := b.availableMemory()
	perText := uint64(avgLen*bytesPerChar + b.Dimensions*bytesPerDim)
	budget := uint64(float64(mem) * memoryBudgetFraction)

	size := int(budget / perText * pipelineFactor)

	// A pathological outlier would dominate the payload estimate.
	if maxLen > 3*avgLen {
		size /= 2
	}

	if size < MinBatchSize {
		size = MinBatchSize
	}
	if size > 2*configured {
		size = 2 * configured
	}
	return size
}

// Split partitions texts into batches of at most OptimalBatchSize.
func (b *Batcher) Split(texts []string) [][]string {
	size := b.OptimalBatchSize(texts)
	var batches [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}

func (b *Batcher) availableMemory() uint64 {
	if b.AvailableMemory != nil {
		return b.AvailableMemory()
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	// HeapIdle approximates reclaimable headroom; fall back to a fixed
	// budget when the runtime reports nothing useful.
	if idle := stats.HeapIdle - stats.HeapReleased; idle > fallbackMemoryBytes {
		return idle
	}
	return fallbackMemoryBytes
}
