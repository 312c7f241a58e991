package extract

import (
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

var (
	docxParagraphs = regexp.MustCompile(`<w:p[ >].*?</w:p>`)
	docxRuns       = regexp.MustCompile(`<w:t[^>]*>(.*?)</w:t>`)
)

// extractPDF concatenates per-page extracted text with newlines. Per-page
// extraction errors are skipped silently (best-effort, spec §4.4).
func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", knowledge.NewExtractionError("open pdf: " + err.Error())
	}
	defer f.Close()

	var pages []string
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}

	return strings.Join(pages, "\n"), nil
}

// extractDOCX concatenates paragraph texts with newlines.
func extractDOCX(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", knowledge.NewExtractionError("open docx: " + err.Error())
	}
	defer doc.Close()

	// GetContent returns the raw document.xml body; pull out each
	// paragraph's run text so the result reads as plain prose rather than
	// markup.
	raw := doc.Editable().GetContent()
	paragraphs := docxParagraphs.FindAllString(raw, -1)

	texts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		var b strings.Builder
		for _, run := range docxRuns.FindAllStringSubmatch(p, -1) {
			b.WriteString(run[1])
		}
		texts = append(texts, b.String())
	}

	return strings.Join(texts, "\n"), nil
}
