package chunk

import (
	"context"
	"log/slog"
	"math"
	"strings"
)

// sentenceBucketLimit bounds how many sentences are embedded at once.
// Longer documents are pre-chunked by size and each bucket refined
// separately.
const sentenceBucketLimit = 500

// SentenceEmbedder is the minimal embedding surface the semantic chunker
// needs.
type SentenceEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SemanticChunker splits text at topic boundaries detected from sentence
// embedding similarity. Embedding failures degrade to the recursive
// strategy so ingestion never stalls on the encoder.
type SemanticChunker struct {
	embedder     SentenceEmbedder
	minChunkSize int
	maxChunkSize int
	fallback     *RecursiveChunker
}

var _ Chunker = (*SemanticChunker)(nil)

// NewSemanticChunker creates a semantic chunker. maxChunkSize is the target
// chunk size; minChunkSize defaults to a tenth of it.
func NewSemanticChunker(embedder SentenceEmbedder, minChunkSize, maxChunkSize, defaultOverlap int) *SemanticChunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}
	if minChunkSize <= 0 {
		minChunkSize = maxChunkSize / 10
	}
	return &SemanticChunker{
		embedder:     embedder,
		minChunkSize: minChunkSize,
		maxChunkSize: maxChunkSize,
		fallback:     NewRecursiveChunker(maxChunkSize, defaultOverlap),
	}
}

// Chunk splits text at semantic boundaries.
func (s *SemanticChunker) Chunk(ctx context.Context, text string, metadata map[string]string) ([]*Chunk, error) {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, nil
	}

	sentences := splitSentences(cleaned)
	if len(sentences) <= 1 {
		return finalizeChunks([]*Chunk{{Text: cleaned}}, "semantic", metadata), nil
	}

	var texts []string
	if len(sentences) > sentenceBucketLimit {
		// Bound embedding memory on very long documents.
		for _, bucket := range bucketSentences(sentences, sentenceBucketLimit) {
			segment, err := s.segment(ctx, bucket)
			if err != nil {
				return s.degrade(ctx, text, metadata, err)
			}
			texts = append(texts, segment...)
		}
	} else {
		segment, err := s.segment(ctx, sentences)
		if err != nil {
			return s.degrade(ctx, text, metadata, err)
		}
		texts = segment
	}

	chunks := make([]*Chunk, 0, len(texts))
	for _, t := range texts {
		chunks = append(chunks, &Chunk{Text: t})
	}
	return finalizeChunks(chunks, "semantic", metadata), nil
}

func (s *SemanticChunker) degrade(ctx context.Context, text string, metadata map[string]string, cause error) ([]*Chunk, error) {
	slog.Warn("semantic chunking failed, using recursive strategy",
		slog.String("error", cause.Error()))
	return s.fallback.Chunk(ctx, text, metadata)
}

func bucketSentences(sentences []string, limit int) [][]string {
	var buckets [][]string
	for start := 0; start < len(sentences); start += limit {
		end := start + limit
		if end > len(sentences) {
			end = len(sentences)
		}
		buckets = append(buckets, sentences[start:end])
	}
	return buckets
}

// segment embeds sentences and splits where consecutive similarity drops
// below the adaptive threshold mean - 0.5*stddev, while keeping chunks
// inside [minChunkSize, maxChunkSize].
func (s *SemanticChunker) segment(ctx context.Context, sentences []string) ([]string, error) {
	if len(sentences) == 1 {
		return []string{sentences[0]}, nil
	}

	vecs, err := s.embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, err
	}

	sims := make([]float64, len(sentences)-1)
	for i := range sims {
		sims[i] = cosineSimilarity(vecs[i], vecs[i+1])
	}
	threshold := adaptiveThreshold(sims)
	slog.Debug("semantic boundary threshold",
		slog.Float64("threshold", threshold),
		slog.Int("sentences", len(sentences)))

	var out []string
	var current strings.Builder
	currentLen := func() int { return current.Len() }
	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			out = append(out, text)
		}
		current.Reset()
	}

	for i, sentence := range sentences {
		if currentLen() > 0 && currentLen()+len(sentence)+1 > s.maxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)

		if i == len(sentences)-1 {
			break
		}
		if sims[i] < threshold && currentLen() >= s.minChunkSize {
			flush()
		}
	}
	flush()
	return out, nil
}

func adaptiveThreshold(sims []float64) float64 {
	if len(sims) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sims {
		sum += s
	}
	mean := sum / float64(len(sims))

	var varSum float64
	for _, s := range sims {
		d := s - mean
		varSum += d * d
	}
	stddev := math.Sqrt(varSum / float64(len(sims)))

	return mean - 0.5*stddev
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
