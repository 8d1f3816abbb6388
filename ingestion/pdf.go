package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

type pdfExtractor struct {
	ocr    *OCR
	logger *log.Logger
}

// Extract reads the text layer page by page. Pages whose layer is too
// sparse (scans, image-only pages) are rasterised and run through OCR
// when an OCR engine is configured.
func (e pdfExtractor) Extract(ctx context.Context, path string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pageTexts := make([]string, reader.NumPage())
	sparse := make([]int, 0)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			sparse = append(sparse, i)
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Printf("pdf text layer page %d of %s: %v", i, path, err)
			sparse = append(sparse, i)
			continue
		}

		pageTexts[i-1] = text
		if e.ocr != nil && e.ocr.NeedsOCR(text) {
			sparse = append(sparse, i)
		}
	}

	if e.ocr != nil && len(sparse) > 0 {
		e.ocrPages(ctx, path, data, sparse, pageTexts)
	}

	builder := &strings.Builder{}
	for _, text := range pageTexts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n\n")
	}
	return builder.String(), nil
}

// ocrPages rasterises the listed pages and replaces their entries in
// pageTexts with recognised text when OCR yields more than the layer did.
func (e pdfExtractor) ocrPages(ctx context.Context, path string, data []byte, pages []int, pageTexts []string) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		e.logger.Printf("rasterize %s for ocr: %v", path, err)
		return
	}
	defer doc.Close()

	for _, pageNum := range pages {
		if ctx.Err() != nil {
			return
		}

		img, err := doc.Image(pageNum - 1)
		if err != nil {
			e.logger.Printf("rasterize page %d of %s: %v", pageNum, path, err)
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			e.logger.Printf("encode page %d of %s: %v", pageNum, path, err)
			continue
		}

		text, err := e.ocr.RecognizeImage(buf.Bytes())
		if err != nil {
			e.logger.Printf("ocr page %d of %s: %v", pageNum, path, err)
			continue
		}

		if textDensity(text) > textDensity(pageTexts[pageNum-1]) {
			pageTexts[pageNum-1] = fmt.Sprintf("--- Page %d ---\n%s", pageNum, text)
		}
	}
}
