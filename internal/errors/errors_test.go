package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"dimension mismatch is fatal", ErrCodeDimensionMismatch, CategoryVectorStore, SeverityFatal, false},
		{"store full is fatal", ErrCodeStoreFull, CategoryVectorStore, SeverityFatal, false},
		{"rate limited is retryable", ErrCodeEmbeddingLimited, CategoryEmbedding, SeverityError, true},
		{"llm timeout is retryable", ErrCodeLLMTimeout, CategoryLLM, SeverityError, true},
		{"integration is retryable", ErrCodeIntegration, CategoryIntegration, SeverityError, true},
		{"chunking", ErrCodeChunking, CategoryChunking, SeverityError, false},
		{"metadata", ErrCodeMetadata, CategoryMetadata, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestError_MessageIncludesComponentAndOperation(t *testing.T) {
	err := New(ErrCodeDimensionMismatch, "expected 768, got 384", nil).
		In("vector_store", "add_vectors")

	assert.Contains(t, err.Error(), "ERR_201_DIMENSION_MISMATCH")
	assert.Contains(t, err.Error(), "vector_store/add_vectors")
}

func TestWrap_PreservesChain(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCodeEmbedding, cause)

	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, ErrCodeEmbedding, GetCode(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeEmbedding, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeLLM, "one", nil)
	b := New(ErrCodeLLM, "two", nil)
	c := New(ErrCodeEmbedding, "three", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := New(ErrCodeStoreFull, "capacity exhausted", nil).
		WithDetail("capacity", "100000").
		WithSuggestion("increase vector_store.max_vectors")

	assert.Equal(t, "100000", err.Details["capacity"])
	assert.Equal(t, "increase vector_store.max_vectors", err.Suggestion)
}

func TestIsRetryableAndIsFatal(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeEmbeddingLimited, "429", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsFatal(New(ErrCodeResourceExhausted, "oom", nil)))
	assert.False(t, IsFatal(New(ErrCodeLLM, "bad", nil)))
}
