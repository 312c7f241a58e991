// Package extract implements the per-source-type text extractors (C4,
// spec §4.4): binary uploads (PDF/DOCX/plain-text fallback), pasted text,
// and fetched URLs.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/storage"
)

// Extractor produces the raw text content of a KnowledgeDocument,
// dispatching on its source type.
type Extractor struct {
	sink   *storage.Sink
	client *httpFetcher
}

// NewExtractor constructs an Extractor. sink is used to persist the
// fetched-page artifact for url-sourced documents (spec §4.4).
func NewExtractor(sink *storage.Sink) *Extractor {
	return &Extractor{sink: sink, client: newHTTPFetcher(20 * time.Second)}
}

// Extract returns the document's raw textual content, mutating doc's
// extra_metadata in place for url sources (last_fetched_at) exactly as
// spec §4.4/§9 describes.
func (e *Extractor) Extract(ctx context.Context, doc *knowledge.KnowledgeDocument) (string, error) {
	switch doc.SourceType {
	case knowledge.SourceUpload:
		return e.extractUpload(doc)
	case knowledge.SourceText:
		return doc.RawText(), nil
	case knowledge.SourceURL:
		return e.extractURL(ctx, doc)
	default:
		return "", knowledge.NewExtractionError("unsupported source type " + string(doc.SourceType))
	}
}

func (e *Extractor) extractUpload(doc *knowledge.KnowledgeDocument) (string, error) {
	if doc.StoragePath == nil || *doc.StoragePath == "" {
		return "", knowledge.NewExtractionError("upload does not have a storage path")
	}

	mimeType := ""
	if doc.MimeType != nil {
		mimeType = *doc.MimeType
	}

	return extractFromFile(*doc.StoragePath, mimeType)
}

func extractFromFile(path, mimeType string) (string, error) {
	suffix := strings.ToLower(filepath.Ext(path))
	mimeType = strings.ToLower(mimeType)

	switch {
	case suffix == ".pdf" || strings.Contains(mimeType, "pdf"):
		return extractPDF(path)
	case suffix == ".docx" || strings.Contains(mimeType, "wordprocessingml"):
		return extractDOCX(path)
	default:
		return extractPlainText(path)
	}
}

func extractPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", knowledge.NewExtractionError("read uploaded file: " + err.Error())
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	// Best-effort latin-1 decode: every byte maps 1:1 onto a Unicode code
	// point in [0, 255], so this never fails.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), nil
}
