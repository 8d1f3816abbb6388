package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"
)

// ExtractionError identifies a per-file extraction failure. The caller
// skips the file and continues; one bad document never blocks a pass.
type ExtractionError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor converts one raw file payload into normalized plain text.
type Extractor interface {
	Extract(ctx context.Context, path string, data []byte) (string, error)
}

// Service resolves the extractor for a file by format tag and applies it.
type Service struct {
	ocr    *OCR
	logger *log.Logger
}

func NewService(ocr *OCR, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{ocr: ocr, logger: logger}
}

// Extract normalizes a raw file into plain text. Unknown formats return
// an ExtractionError; so does any format-specific parse failure.
func (s *Service) Extract(ctx context.Context, path string, data []byte) (string, error) {
	format := DetectFormat(path)

	// docx, xlsx and odt share the same zip container, so the extension
	// is cross-checked against the archive layout before dispatching.
	if isZipFormat(format) && bytes.HasPrefix(data, []byte("PK")) {
		if sniffed, ok := sniffZipFormat(data); ok && sniffed != format {
			s.logger.Printf("%s labeled %s but contains %s, using the content", path, format, sniffed)
			format = sniffed
		}
	}

	extractor, err := s.extractorFor(format)
	if err != nil {
		return "", &ExtractionError{Path: path, Format: format, Err: err}
	}

	text, err := extractor.Extract(ctx, path, data)
	if err != nil {
		return "", &ExtractionError{Path: path, Format: format, Err: err}
	}

	return normalizeText(text), nil
}

func (s *Service) extractorFor(format Format) (Extractor, error) {
	switch format {
	case FormatText:
		return textExtractor{}, nil
	case FormatJSON:
		return jsonExtractor{}, nil
	case FormatCSV:
		return csvExtractor{}, nil
	case FormatSpreadsheet:
		return spreadsheetExtractor{}, nil
	case FormatWord:
		return wordExtractor{ocr: s.ocr, logger: s.logger}, nil
	case FormatODT:
		return odtExtractor{}, nil
	case FormatPDF:
		return pdfExtractor{ocr: s.ocr, logger: s.logger}, nil
	default:
		return nil, fmt.Errorf("unsupported format")
	}
}

type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, _ string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return string(data), nil
}

type jsonExtractor struct{}

// JSON is rendered indented so nested keys stay adjacent to their values
// in the normalized text.
func (jsonExtractor) Extract(_ context.Context, _ string, data []byte) (string, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}

	rendered, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render json: %w", err)
	}
	return string(rendered), nil
}

type csvExtractor struct{}

func (csvExtractor) Extract(_ context.Context, _ string, data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	headers := records[0]
	builder := &strings.Builder{}
	for idx, row := range records[1:] {
		builder.WriteString(formatCSVRow(headers, row, idx))
		builder.WriteString("\n\n")
	}
	return builder.String(), nil
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "Row %d", idx+1)

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		fmt.Fprintf(builder, "\n%s: %s", header, strings.TrimSpace(row[i]))
	}

	for i := len(headers); i < len(row); i++ {
		fmt.Fprintf(builder, "\nColumn %d: %s", i+1, strings.TrimSpace(row[i]))
	}

	return builder.String()
}

// normalizeText collapses noisy whitespace while keeping paragraph
// structure: line endings become \n, intra-line runs of spaces collapse,
// and blank-line runs collapse to a single paragraph break.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	builder := &strings.Builder{}
	blankRun := 0
	for _, line := range lines {
		cleaned := strings.Join(strings.Fields(line), " ")
		if cleaned == "" {
			blankRun++
			continue
		}
		if builder.Len() > 0 {
			if blankRun > 0 {
				builder.WriteString("\n\n")
			} else {
				builder.WriteString("\n")
			}
		}
		builder.WriteString(cleaned)
		blankRun = 0
	}

	return builder.String()
}

