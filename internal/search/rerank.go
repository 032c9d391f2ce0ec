package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/corpora-ai/corpora/internal/errors"
)

// Reranker re-orders results by query relevance. Implementations set
// RerankScore on each result; the original similarity stays in Score.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []*Result) ([]*Result, error)
}

const (
	// DefaultRerankBatchSize bounds cross-encoder request payloads.
	DefaultRerankBatchSize = 32

	// DefaultRerankTimeout bounds one cross-encoder HTTP call.
	DefaultRerankTimeout = 15 * time.Second
)

// HTTPReranker scores (query, text) pairs against a cross-encoder service.
// The service accepts {"query": q, "documents": [t...]} and returns
// {"scores": [f...]} aligned with the input order.
type HTTPReranker struct {
	endpoint  string
	client    *http.Client
	batchSize int
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a cross-encoder client for the endpoint.
func NewHTTPReranker(endpoint string) *HTTPReranker {
	return &HTTPReranker{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: DefaultRerankTimeout},
		batchSize: DefaultRerankBatchSize,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores all results in batches and returns them sorted by
// descending rerank score.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, results []*Result) ([]*Result, error) {
	if len(results) == 0 {
		return results, nil
	}

	for start := 0; start < len(results); start += r.batchSize {
		end := start + r.batchSize
		if end > len(results) {
			end = len(results)
		}
		if err := r.scoreBatch(ctx, query, results[start:end]); err != nil {
			return nil, err
		}
	}

	out := make([]*Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RerankScore > out[j].RerankScore })
	return out, nil
}

func (r *HTTPReranker) scoreBatch(ctx context.Context, query string, batch []*Result) error {
	texts := make([]string, len(batch))
	for i, res := range batch {
		texts[i] = res.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: texts})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.RetrievalError("reranker request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.RetrievalError(fmt.Sprintf("reranker returned status %d", resp.StatusCode), nil)
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return errors.RetrievalError("reranker response unparseable", err)
	}
	if len(decoded.Scores) != len(batch) {
		return errors.RetrievalError(
			fmt.Sprintf("reranker returned %d scores for %d documents", len(decoded.Scores), len(batch)), nil)
	}

	for i, res := range batch {
		res.RerankScore = decoded.Scores[i]
	}
	return nil
}

// ScoreSortReranker is the fallback when no cross-encoder is available. It
// returns results sorted by their existing weighted score with no
// re-computation.
type ScoreSortReranker struct{}

var _ Reranker = (*ScoreSortReranker)(nil)

// Rerank sorts by weighted score and mirrors it into the rerank score so
// downstream consumers see the same shape either way.
func (ScoreSortReranker) Rerank(ctx context.Context, query string, results []*Result) ([]*Result, error) {
	out := make([]*Result, len(results))
	copy(out, results)
	for _, res := range out {
		res.RerankScore = res.WeightedScore
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RerankScore > out[j].RerankScore })
	return out, nil
}
