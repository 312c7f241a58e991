package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodeai/knowledge-core/internal/extract"
	"github.com/kodeai/knowledge-core/internal/httpapi"
	"github.com/kodeai/knowledge-core/internal/ingest"
	"github.com/kodeai/knowledge-core/internal/repository"
	"github.com/kodeai/knowledge-core/internal/retrieve"
	"github.com/kodeai/knowledge-core/internal/storage"
	"github.com/kodeai/knowledge-core/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func newTestServer(t *testing.T) (*httpapi.Server, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := vectorstore.NewMemoryStore()
	repo := repository.New(mock, store)
	sink, err := storage.NewSink(t.TempDir())
	require.NoError(t, err)
	extractor := extract.NewExtractor(sink)
	embedder := fakeEmbedder{}
	pipeline := ingest.New(repo, extractor, embedder, 512, 64)
	scheduler := ingest.NewGoroutineScheduler(1)
	retriever := retrieve.New(store, embedder)

	return httpapi.New(repo, sink, pipeline, scheduler, retriever), mock
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateKnowledgeBase_MissingTenantHeaderIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "docs"})
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge-bases", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateKnowledgeBase_RejectsBlankName(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge-bases", bytes.NewReader(body))
	req.Header.Set("X-Client-ID", "11111111-1111-1111-1111-111111111111")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyContext_BlankQueryReturnsNullBody(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"query": "   "})
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}
