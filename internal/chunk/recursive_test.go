package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecursiveChunker_SmallTextSingleChunk(t *testing.T) {
	c := NewRecursiveChunker(1000, 200)

	chunks, err := c.Chunk(context.Background(), "A short paragraph.", map[string]string{"source": "test"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short paragraph.", chunks[0].Text)
	assert.Equal(t, "test", chunks[0].Metadata["source"])
	assert.Equal(t, "0", chunks[0].Metadata["chunk_index"])
	assert.Equal(t, "1", chunks[0].Metadata["total_chunks"])
	assert.Equal(t, "recursive", chunks[0].Metadata["chunking_method"])
}

func TestRecursiveChunker_EmptyText(t *testing.T) {
	c := NewRecursiveChunker(1000, 200)

	chunks, err := c.Chunk(context.Background(), "   \n\n  ", nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRecursiveChunker_SplitsLongText(t *testing.T) {
	c := NewRecursiveChunker(50, 10)
	text := "The capital of France is Paris. Paris has a population of 2.1 million."

	chunks, err := c.Chunk(context.Background(), text, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Text, "Paris")

	// Every character of the input appears in some chunk.
	joined := strings.Join([]string{chunks[0].Text, chunks[1].Text}, " ")
	assert.Contains(t, joined, "capital of France")
	assert.Contains(t, joined, "2.1 million")
}

func TestRecursiveChunker_RespectsChunkSize(t *testing.T) {
	c := NewRecursiveChunker(100, 20)
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("This is sentence number with several words in it.\n")
	}

	chunks, err := c.Chunk(context.Background(), b.String(), nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), 130, "chunk size plus overlap headroom")
		assert.NotEmpty(t, chunk.Text)
	}
}

func TestRecursiveChunker_OverlapCarriedBetweenChunks(t *testing.T) {
	c := NewRecursiveChunker(60, 20)
	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima mike november"

	chunks, err := c.Chunk(context.Background(), text, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// The start of chunk 2 repeats the tail of chunk 1.
	tail := chunks[0].Text[len(chunks[0].Text)-10:]
	assert.Contains(t, chunks[1].Text, strings.TrimSpace(tail))
}

func TestRecursiveChunker_NoSeparators(t *testing.T) {
	c := NewRecursiveChunker(100, 20)
	text := strings.Repeat("x", 350)

	chunks, err := c.Chunk(context.Background(), text, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)
	total := 0
	for _, chunk := range chunks {
		total += len(chunk.Text)
	}
	// Overlap duplicates characters, so the sum exceeds the input length.
	assert.GreaterOrEqual(t, total, 350)
}

func TestRecursiveChunker_ParagraphBoundariesPreferred(t *testing.T) {
	c := NewRecursiveChunker(80, 20)
	text := "First paragraph content goes here with words.\n\nSecond paragraph content goes here with words.\n\nThird paragraph content goes here with words."

	chunks, err := c.Chunk(context.Background(), text, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "First paragraph"))
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapse spaces", "a   b\t\tc", "a b c"},
		{"strip control chars", "a\x00b\x07c", "abc"},
		{"collapse blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"keep single newline", "a\nb", "a\nb"},
		{"trim", "  a  ", "a"},
		{"crlf", "a\r\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}
