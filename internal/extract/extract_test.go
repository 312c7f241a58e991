package extract_test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodeai/knowledge-core/internal/extract"
	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/storage"
)

func newExtractor(t *testing.T) *extract.Extractor {
	t.Helper()
	sink, err := storage.NewSink(t.TempDir())
	require.NoError(t, err)
	return extract.NewExtractor(sink)
}

func TestExtract_TextSource(t *testing.T) {
	e := newExtractor(t)
	doc := &knowledge.KnowledgeDocument{
		ID: uuid.New(), KnowledgeBaseID: uuid.New(), ClientID: uuid.New(),
		SourceType: knowledge.SourceText,
	}
	doc.SetRawText("hello from a pasted document")

	text, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "hello from a pasted document", text)
}

func TestExtract_UploadPlainTextFallback(t *testing.T) {
	e := newExtractor(t)

	path := filepath.Join(t.TempDir(), "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# heading\ncontent"), 0o644))

	doc := &knowledge.KnowledgeDocument{
		ID: uuid.New(), KnowledgeBaseID: uuid.New(), ClientID: uuid.New(),
		SourceType: knowledge.SourceUpload, StoragePath: &path,
	}

	text, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Contains(t, text, "heading")
}

func TestExtract_UploadMissingStoragePath(t *testing.T) {
	e := newExtractor(t)
	doc := &knowledge.KnowledgeDocument{SourceType: knowledge.SourceUpload}

	_, err := e.Extract(context.Background(), doc)
	require.Error(t, err)
	var extractionErr *knowledge.ExtractionError
	assert.ErrorAs(t, err, &extractionErr)
}

func TestExtract_URLStripsScriptAndStyle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>Hello</p><script>bad()</script><style>.x{}</style><p>World</p></body></html>`))
	}))
	defer server.Close()

	e := newExtractor(t)
	url := server.URL
	doc := &knowledge.KnowledgeDocument{
		ID: uuid.New(), KnowledgeBaseID: uuid.New(), ClientID: uuid.New(),
		SourceType: knowledge.SourceURL, SourceURL: &url,
	}

	text, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "World")
	assert.NotContains(t, text, "bad()")
	assert.NotEmpty(t, doc.ExtraMetadata["last_fetched_at"])
}

func TestExtract_URLNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := newExtractor(t)
	url := server.URL
	doc := &knowledge.KnowledgeDocument{
		ID: uuid.New(), KnowledgeBaseID: uuid.New(), ClientID: uuid.New(),
		SourceType: knowledge.SourceURL, SourceURL: &url,
	}

	_, err := e.Extract(context.Background(), doc)
	require.Error(t, err)
	var fetchErr *knowledge.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestExtract_UnsupportedSourceType(t *testing.T) {
	e := newExtractor(t)
	doc := &knowledge.KnowledgeDocument{SourceType: "carrier-pigeon"}

	_, err := e.Extract(context.Background(), doc)
	require.Error(t, err)
	var extractionErr *knowledge.ExtractionError
	assert.ErrorAs(t, err, &extractionErr)
}

func TestExtract_UploadPDF(t *testing.T) {
	e := newExtractor(t)

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, buildMinimalPDF(t), 0o644))

	doc := &knowledge.KnowledgeDocument{
		ID: uuid.New(), KnowledgeBaseID: uuid.New(), ClientID: uuid.New(),
		SourceType: knowledge.SourceUpload, StoragePath: &path,
	}

	text, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Contains(t, text, "fixture")
}

func TestExtract_UploadDOCX(t *testing.T) {
	e := newExtractor(t)

	path := filepath.Join(t.TempDir(), "report.docx")
	require.NoError(t, os.WriteFile(path, buildMinimalDOCX(t), 0o644))

	doc := &knowledge.KnowledgeDocument{
		ID: uuid.New(), KnowledgeBaseID: uuid.New(), ClientID: uuid.New(),
		SourceType: knowledge.SourceUpload, StoragePath: &path,
	}

	text, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello docx fixture")
}

// buildMinimalPDF constructs a byte-exact single-page PDF (catalog, pages,
// page, font, one text-showing content stream) with a correct xref table,
// computing every object offset from the buffer's own length rather than
// hardcoding them, so the file a ledongthuc/pdf reader opens is always
// internally consistent.
func buildMinimalPDF(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 6)
	writeObj := func(n int, body string) {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 4 0 R >> >> /MediaBox [0 0 200 200] /Contents 5 0 R >>")
	writeObj(4, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	content := "BT /F1 24 Tf 20 100 Td (Hello PDF fixture) Tj ET"
	offsets[5] = buf.Len()
	fmt.Fprintf(&buf, "5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content)

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 6\n")
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= 5; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	buf.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n")
	fmt.Fprintf(&buf, "%d\n", xrefOffset)
	buf.WriteString("%%EOF")

	return buf.Bytes()
}

// buildMinimalDOCX constructs a minimal but structurally valid OOXML
// package: content-types and package-relationship parts plus a single
// word/document.xml paragraph, which is all extractDOCX's paragraph/run
// regexes need.
func buildMinimalDOCX(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`,
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
</Relationships>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Hello docx fixture</w:t></w:r></w:p>
</w:body>
</w:document>`,
	}

	for name, contents := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(contents))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return buf.Bytes()
}
