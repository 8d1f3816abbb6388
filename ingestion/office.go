package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"
)

type spreadsheetExtractor struct{}

// Sheets are flattened row-wise with a sheet marker so retrieval keeps
// cell values attached to their sheet.
func (spreadsheetExtractor) Extract(_ context.Context, _ string, data []byte) (string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	builder := &strings.Builder{}
	for _, sheet := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}

		fmt.Fprintf(builder, "--- Sheet: %s ---\n", sheet)
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " | "))
			if line != "" {
				builder.WriteString(line)
				builder.WriteString("\n")
			}
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

type wordExtractor struct {
	ocr    *OCR
	logger *log.Logger
}

// wordDocumentXML mirrors the parts of word/document.xml we read:
// paragraphs of runs, and tables of rows of cells.
type wordDocumentXML struct {
	Body struct {
		Paragraphs []wordParagraph `xml:"p"`
		Tables     []wordTable     `xml:"tbl"`
	} `xml:"body"`
}

type wordParagraph struct {
	Runs []struct {
		Text string `xml:"t"`
	} `xml:"r"`
}

type wordTable struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []wordParagraph `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

func (e wordExtractor) Extract(ctx context.Context, path string, data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}

	content, err := readZipFile(reader, "word/document.xml")
	if err != nil {
		return "", err
	}

	var doc wordDocumentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("parse document.xml: %w", err)
	}

	builder := &strings.Builder{}
	for _, para := range doc.Body.Paragraphs {
		if text := paragraphText(para); text != "" {
			builder.WriteString(text)
			builder.WriteString("\n\n")
		}
	}
	for _, table := range doc.Body.Tables {
		for _, row := range table.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				parts := make([]string, 0, len(cell.Paragraphs))
				for _, para := range cell.Paragraphs {
					if text := paragraphText(para); text != "" {
						parts = append(parts, text)
					}
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			line := strings.TrimSpace(strings.Join(cells, " | "))
			if line != "" {
				builder.WriteString(line)
				builder.WriteString("\n")
			}
		}
		builder.WriteString("\n")
	}

	if e.ocr != nil {
		if ocrText := e.ocrEmbeddedImages(ctx, path, reader); ocrText != "" {
			builder.WriteString(ocrText)
		}
	}

	return builder.String(), nil
}

func (e wordExtractor) ocrEmbeddedImages(ctx context.Context, path string, reader *zip.Reader) string {
	builder := &strings.Builder{}
	for _, file := range reader.File {
		if ctx.Err() != nil {
			break
		}
		if !strings.HasPrefix(file.Name, "word/media/") || !isImageName(file.Name) {
			continue
		}

		data, err := readZipFile(reader, file.Name)
		if err != nil {
			e.logger.Printf("read embedded image %s in %s: %v", file.Name, path, err)
			continue
		}

		text, err := e.ocr.RecognizeImage(data)
		if err != nil {
			e.logger.Printf("ocr embedded image %s in %s: %v", file.Name, path, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			builder.WriteString("\n\n")
			builder.WriteString(text)
		}
	}
	return builder.String()
}

func isImageName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return true
	default:
		return false
	}
}

type odtExtractor struct{}

// Extract walks the content.xml token stream instead of unmarshalling,
// because paragraph text in ODT is frequently nested inside span
// elements that a struct mapping would drop.
func (odtExtractor) Extract(_ context.Context, _ string, data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open odt archive: %w", err)
	}

	content, err := readZipFile(reader, "content.xml")
	if err != nil {
		return "", err
	}

	decoder := xml.NewDecoder(bytes.NewReader(content))
	builder := &strings.Builder{}
	paragraph := &strings.Builder{}
	depth := 0 // nesting depth inside the current p or h element

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse content.xml: %w", err)
		}

		switch el := token.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
				// tab and s elements encode whitespace runs.
				if el.Name.Local == "tab" || el.Name.Local == "s" {
					paragraph.WriteString(" ")
				}
				continue
			}
			if el.Name.Local == "p" || el.Name.Local == "h" {
				depth = 1
				paragraph.Reset()
			}
		case xml.EndElement:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				if text := strings.TrimSpace(paragraph.String()); text != "" {
					builder.WriteString(text)
					builder.WriteString("\n\n")
				}
			}
		case xml.CharData:
			if depth > 0 {
				paragraph.Write(el)
			}
		}
	}

	return builder.String(), nil
}

// isZipFormat reports whether a format uses the shared PK container,
// where the extension alone cannot be trusted.
func isZipFormat(format Format) bool {
	switch format {
	case FormatWord, FormatSpreadsheet, FormatODT:
		return true
	default:
		return false
	}
}

// sniffZipFormat resolves which office container a zip payload actually
// holds by its well-known entry names.
func sniffZipFormat(data []byte) (Format, bool) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false
	}
	for _, file := range reader.File {
		switch file.Name {
		case "word/document.xml":
			return FormatWord, true
		case "xl/workbook.xml":
			return FormatSpreadsheet, true
		case "content.xml":
			return FormatODT, true
		}
	}
	return "", false
}

func paragraphText(para wordParagraph) string {
	parts := make([]string, 0, len(para.Runs))
	for _, run := range para.Runs {
		parts = append(parts, run.Text)
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return content, nil
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
