package ingestion

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/otiai10/gosseract/v2"
)

// OCR recognises text in rasterised pages and embedded images via
// tesseract. A nil *OCR disables recognition and extractors fall back
// to whatever text layer the document carries.
type OCR struct {
	// Languages passed to tesseract, e.g. ["eng", "fra"].
	Languages []string

	// MinTextDensity is the number of non-whitespace characters a PDF
	// page must yield from its text layer before OCR is skipped for it.
	MinTextDensity int
}

// NewOCR returns an OCR configured for the given languages and page
// text density threshold.
func NewOCR(languages []string, minTextDensity int) *OCR {
	return &OCR{Languages: languages, MinTextDensity: minTextDensity}
}

// RecognizeImage runs tesseract over an encoded image (PNG, JPEG, ...)
// and returns the recognised text.
func (o *OCR) RecognizeImage(image []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(o.Languages) > 0 {
		if err := client.SetLanguage(o.Languages...); err != nil {
			return "", fmt.Errorf("set ocr languages: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("load image for ocr: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr recognition: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// NeedsOCR reports whether a page's extracted text layer is too sparse
// to trust, which usually means the page is a scan.
func (o *OCR) NeedsOCR(pageText string) bool {
	return textDensity(pageText) < o.MinTextDensity
}

func textDensity(text string) int {
	count := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}
