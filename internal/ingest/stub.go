package ingest

import (
	"context"

	"github.com/corpora-ai/corpora/internal/store"
)

// StubProcessor registers an extension set whose extraction pipeline is not
// bundled in this build. Matching files are counted and skipped instead of
// erroring, so a mixed directory ingests cleanly.
type StubProcessor struct {
	name       string
	reason     string
	sourceType store.SourceType
	exts       []string
}

var _ Processor = (*StubProcessor)(nil)

// NewPDFProcessor returns a stub for PDF files.
func NewPDFProcessor() *StubProcessor {
	return &StubProcessor{
		name:       "pdf",
		reason:     "pdf text extraction not available in this build",
		sourceType: store.SourceTypePDF,
		exts:       []string{".pdf"},
	}
}

// NewWordProcessor returns a stub for Word documents.
func NewWordProcessor() *StubProcessor {
	return &StubProcessor{
		name:       "word",
		reason:     "word document extraction not available in this build",
		sourceType: store.SourceTypeWord,
		exts:       []string{".docx", ".doc"},
	}
}

// NewImageProcessor returns a stub for images.
func NewImageProcessor() *StubProcessor {
	return &StubProcessor{
		name:       "image",
		reason:     "image OCR not available in this build",
		sourceType: store.SourceTypeImage,
		exts:       []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff"},
	}
}

// Name identifies the processor.
func (p *StubProcessor) Name() string { return p.name }

// CanProcess reports whether the path matches the stub's extensions.
func (p *StubProcessor) CanProcess(path string) bool {
	return hasExtension(path, p.exts...)
}

// Process always skips with the stub's reason.
func (p *StubProcessor) Process(ctx context.Context, path string, metadata map[string]string) (*ProcessResult, error) {
	return &ProcessResult{Status: StatusSkipped, Reason: p.reason, SourceType: p.sourceType}, nil
}
