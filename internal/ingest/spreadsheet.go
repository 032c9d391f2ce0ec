package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/corpora-ai/corpora/internal/errors"
	"github.com/corpora-ai/corpora/internal/store"
)

// spreadsheetRowsPerChunk groups rows so each chunk carries the header and
// a readable slice of the table.
const spreadsheetRowsPerChunk = 20

// SpreadsheetProcessor handles CSV and TSV files. Each chunk renders the
// header row plus a group of data rows as "column: value" lines so the
// embedder sees field names next to their values.
type SpreadsheetProcessor struct{}

var _ Processor = (*SpreadsheetProcessor)(nil)

// NewSpreadsheetProcessor creates a spreadsheet processor.
func NewSpreadsheetProcessor() *SpreadsheetProcessor { return &SpreadsheetProcessor{} }

// Name identifies the processor.
func (p *SpreadsheetProcessor) Name() string { return "spreadsheet" }

// CanProcess reports whether the path has a delimited-text extension.
func (p *SpreadsheetProcessor) CanProcess(path string) bool {
	return hasExtension(path, ".csv", ".tsv")
}

// Process reads and chunks the table.
func (p *SpreadsheetProcessor) Process(ctx context.Context, path string, metadata map[string]string) (*ProcessResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.IngestionError("failed to open file", err).WithDetail("path", path)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	if hasExtension(path, ".tsv") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.IngestionError("failed to parse delimited file", err).WithDetail("path", path)
	}
	if len(rows) < 2 {
		return &ProcessResult{Status: StatusSkipped, Reason: "no data rows"}, nil
	}

	header := rows[0]
	dataRows := rows[1:]
	docMeta := mergeMetadata(map[string]string{
		"row_count":    strconv.Itoa(len(dataRows)),
		"column_count": strconv.Itoa(len(header)),
		"columns":      strings.Join(header, ", "),
	}, metadata)

	var raw []RawChunk
	for start := 0; start < len(dataRows); start += spreadsheetRowsPerChunk {
		end := start + spreadsheetRowsPerChunk
		if end > len(dataRows) {
			end = len(dataRows)
		}

		text := renderRowGroup(header, dataRows[start:end], start)
		meta := mergeMetadata(map[string]string{
			"row_start": strconv.Itoa(start + 1),
			"row_end":   strconv.Itoa(end),
		}, docMeta)
		raw = append(raw, RawChunk{Text: text, Metadata: meta})

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return &ProcessResult{
		Status:     StatusSuccess,
		Chunks:     raw,
		Metadata:   docMeta,
		SourceType: store.SourceTypeSpreadsheet,
	}, nil
}

func renderRowGroup(header []string, rows [][]string, offset int) string {
	var b strings.Builder
	for i, row := range rows {
		fmt.Fprintf(&b, "Row %d:\n", offset+i+1)
		for j, cell := range row {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			name := fmt.Sprintf("column_%d", j+1)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				name = strings.TrimSpace(header[j])
			}
			fmt.Fprintf(&b, "  %s: %s\n", name, strings.TrimSpace(cell))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
