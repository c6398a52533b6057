// Package doctools implements the document-side specialist tools: PDF text
// extraction for invoices and vision analysis for defect photos.
package doctools

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFText converts PDF bytes into plain UTF-8 text, page by page.
// Malformed pages are skipped; a document with no extractable text at all
// is an error the caller downgrades to a missing-invoice block.
func ExtractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	extracted := 0
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if extracted > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
		extracted++
	}
	if extracted == 0 {
		return "", fmt.Errorf("pdf has no extractable text (%d pages)", pages)
	}
	return sb.String(), nil
}
