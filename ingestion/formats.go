// Package ingestion converts raw corpus files into normalized text and
// splits that text into overlapping, deterministically identified chunks.
package ingestion

import (
	"path/filepath"
	"strings"
)

// Format enumerates supported document payload formats.
type Format string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown Format = ""
	// FormatText represents plain-text and Markdown documents.
	FormatText Format = "text"
	// FormatJSON represents JSON documents.
	FormatJSON Format = "json"
	// FormatCSV represents comma separated values documents.
	FormatCSV Format = "csv"
	// FormatSpreadsheet represents Excel workbooks.
	FormatSpreadsheet Format = "spreadsheet"
	// FormatWord represents Word documents.
	FormatWord Format = "word"
	// FormatODT represents OpenDocument text documents.
	FormatODT Format = "odt"
	// FormatPDF represents PDF documents.
	FormatPDF Format = "pdf"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return FormatText
	case ".json":
		return FormatJSON
	case ".csv":
		return FormatCSV
	case ".xlsx", ".xls":
		return FormatSpreadsheet
	case ".docx", ".doc":
		return FormatWord
	case ".odt":
		return FormatODT
	case ".pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}

// Supported reports whether the path's extension maps to a known format.
func Supported(path string) bool {
	return DetectFormat(path) != FormatUnknown
}

// Category groups formats for the document list endpoint.
func Category(format Format) string {
	switch format {
	case FormatPDF:
		return "PDF"
	case FormatWord:
		return "Word"
	case FormatSpreadsheet:
		return "Excel"
	case FormatText:
		return "Text"
	case FormatJSON, FormatCSV:
		return "Data"
	case FormatODT:
		return "OpenDocument"
	default:
		return "Other"
	}
}
