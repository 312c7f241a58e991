package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

type httpFetcher struct {
	client *http.Client
}

func newHTTPFetcher(timeout time.Duration) *httpFetcher {
	return &httpFetcher{client: &http.Client{Timeout: timeout}}
}

func (e *Extractor) extractURL(ctx context.Context, doc *knowledge.KnowledgeDocument) (string, error) {
	if doc.SourceURL == nil || *doc.SourceURL == "" {
		return "", knowledge.NewExtractionError("document is missing source_url")
	}

	text, err := e.client.fetchText(ctx, *doc.SourceURL)
	if err != nil {
		return "", err
	}

	if e.sink != nil {
		if _, err := e.sink.PersistTextContent(doc.ClientID, doc.KnowledgeBaseID, doc.ID, text, ".url.txt"); err != nil {
			return "", fmt.Errorf("persist fetched page: %w", err)
		}
	}

	doc.SetLastFetchedAt(time.Now())
	return text, nil
}

// fetchText retrieves url, strips <script>/<style> subtrees, and returns
// visible text with newline separators between nodes (spec §4.4).
func (f *httpFetcher) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", knowledge.NewFetchError(url, "build request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", knowledge.NewFetchError(url, "fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", knowledge.NewFetchError(url, fmt.Sprintf("status %s", resp.Status), nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", knowledge.NewFetchError(url, "parse html", err)
	}

	doc.Find("script, style").Remove()

	var lines []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		collectText(s, &lines)
	})
	if len(lines) == 0 {
		// Fall back to the whole document when the walk over <body>'s
		// children found no text, e.g. a bare text response whose text
		// sits directly under <body>.
		collectText(doc.Selection, &lines)
	}

	return strings.Join(lines, "\n"), nil
}

func collectText(s *goquery.Selection, lines *[]string) {
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "#text" {
			text := strings.TrimSpace(node.Text())
			if text != "" {
				*lines = append(*lines, text)
			}
			return
		}
		collectText(node, lines)
	})
}
