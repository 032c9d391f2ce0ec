package ingest

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/corpora-ai/corpora/internal/chunk"
	"github.com/corpora-ai/corpora/internal/errors"
	"github.com/corpora-ai/corpora/internal/store"
)

// TextProcessor handles plain text and markdown files.
type TextProcessor struct {
	chunker chunk.Chunker
}

var _ Processor = (*TextProcessor)(nil)

// NewTextProcessor creates a text processor using the given chunker.
func NewTextProcessor(chunker chunk.Chunker) *TextProcessor {
	return &TextProcessor{chunker: chunker}
}

// Name identifies the processor.
func (p *TextProcessor) Name() string { return "text" }

// CanProcess reports whether the path has a text extension.
func (p *TextProcessor) CanProcess(path string) bool {
	return hasExtension(path, ".txt", ".md", ".markdown", ".log", ".rst")
}

// Process reads and chunks the file.
func (p *TextProcessor) Process(ctx context.Context, path string, metadata map[string]string) (*ProcessResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IngestionError("failed to read file", err).WithDetail("path", path)
	}
	if !utf8.Valid(data) {
		return &ProcessResult{Status: StatusSkipped, Reason: "not valid UTF-8"}, nil
	}

	text := string(data)
	if len(text) == 0 {
		return &ProcessResult{Status: StatusSkipped, Reason: "empty file"}, nil
	}

	docMeta := mergeMetadata(map[string]string{"content_format": p.format(path)}, metadata)
	chunks, err := p.chunker.Chunk(ctx, text, docMeta)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &ProcessResult{Status: StatusSkipped, Reason: "no content after cleaning"}, nil
	}

	raw := make([]RawChunk, len(chunks))
	for i, c := range chunks {
		raw[i] = RawChunk{Text: c.Text, Metadata: c.Metadata}
	}
	return &ProcessResult{
		Status:     StatusSuccess,
		Chunks:     raw,
		Metadata:   docMeta,
		SourceType: store.SourceTypeText,
	}, nil
}

func (p *TextProcessor) format(path string) string {
	if hasExtension(path, ".md", ".markdown") {
		return "markdown"
	}
	return "plain"
}
