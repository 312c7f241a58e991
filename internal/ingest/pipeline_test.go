package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodeai/knowledge-core/internal/extract"
	"github.com/kodeai/knowledge-core/internal/ingest"
	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/repository"
	"github.com/kodeai/knowledge-core/internal/storage"
	"github.com/kodeai/knowledge-core/internal/vectorstore"
)

type fakeEmbedder struct {
	dimension int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dimension)
		v[0] = float32(i + 1)
		vectors[i] = v
	}
	return vectors, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, knowledge.NewEmbeddingServiceError("embedding service returned status 500 Internal Server Error", nil)
}

func baseRows() []string {
	return []string{
		"id", "client_id", "name", "description", "language", "embedding_model", "chunk_size", "chunk_overlap",
		"is_active", "config", "created_by", "updated_by", "created_at", "updated_at",
	}
}

func documentRows() []string {
	return []string{
		"id", "knowledge_base_id", "client_id", "source_type", "original_filename", "source_url", "mime_type",
		"storage_path", "checksum", "content_preview", "extra_metadata", "status", "error_message",
		"created_by", "updated_by", "created_at", "updated_at", "processing_started_at", "processing_finished_at",
	}
}

func TestIngestPipeline_TextHappyPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(mock.Close)

	store := vectorstore.NewMemoryStore()
	repo := repository.New(mock, store)
	sink, err := storage.NewSink(t.TempDir())
	require.NoError(t, err)
	extractor := extract.NewExtractor(sink)
	embedder := &fakeEmbedder{dimension: 4}

	pipeline := ingest.New(repo, extractor, embedder, knowledge.DefaultChunkSize, knowledge.DefaultChunkOverlap)

	baseID := uuid.New()
	clientID := uuid.New()
	docID := uuid.New()

	mock.ExpectQuery("SELECT .* FROM knowledge_documents").
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows(documentRows()).AddRow(
			docID, baseID, clientID, knowledge.SourceText, nil, nil, nil,
			nil, nil, nil, []byte(`{"raw_text":"the quick brown fox jumps over the lazy dog and then some more words here"}`),
			knowledge.DocumentPending, nil, nil, nil, time.Now().UTC(), nil, nil, nil,
		))

	mock.ExpectQuery("SELECT .* FROM knowledge_bases").
		WithArgs(baseID).
		WillReturnRows(pgxmock.NewRows(baseRows()).AddRow(
			baseID, clientID, "docs", nil, nil, nil, 10, 2,
			true, []byte(`{}`), nil, nil, time.Now().UTC(), nil,
		))

	mock.ExpectExec("UPDATE knowledge_documents SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1)).Times(3)

	err = pipeline.ProcessDocumentIngestion(context.Background(), docID, nil)
	require.NoError(t, err)

	results, err := store.SimilaritySearch(context.Background(), []uuid.UUID{baseID}, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	// The base's chunk_size 10 is raised to the chunker's 64-word floor, so
	// the 15-word text becomes a single chunk.
	require.Len(t, results, 1)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog and then some more words here", results[0].Content)
	assert.Equal(t, 0, results[0].ChunkIndex)
}

func TestIngestPipeline_EmptyTextFailsDocument(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(mock.Close)

	store := vectorstore.NewMemoryStore()
	repo := repository.New(mock, store)
	sink, err := storage.NewSink(t.TempDir())
	require.NoError(t, err)
	extractor := extract.NewExtractor(sink)
	embedder := &fakeEmbedder{dimension: 4}
	pipeline := ingest.New(repo, extractor, embedder, knowledge.DefaultChunkSize, knowledge.DefaultChunkOverlap)

	baseID := uuid.New()
	clientID := uuid.New()
	docID := uuid.New()

	// GetDocumentByID is called twice: once to start processing, once more
	// during the failure path to reload before marking it errored.
	mock.ExpectQuery("SELECT .* FROM knowledge_documents").
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows(documentRows()).AddRow(
			docID, baseID, clientID, knowledge.SourceText, nil, nil, nil,
			nil, nil, nil, []byte(`{"raw_text":"   "}`),
			knowledge.DocumentPending, nil, nil, nil, time.Now().UTC(), nil, nil, nil,
		)).Times(2)

	mock.ExpectQuery("SELECT .* FROM knowledge_bases").
		WithArgs(baseID).
		WillReturnRows(pgxmock.NewRows(baseRows()).AddRow(
			baseID, clientID, "docs", nil, nil, nil, 10, 2,
			true, []byte(`{}`), nil, nil, time.Now().UTC(), nil,
		))

	mock.ExpectExec("UPDATE knowledge_documents SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1)).Times(2)

	err = pipeline.ProcessDocumentIngestion(context.Background(), docID, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestPipeline_EmbeddingFailureMarksJobFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(mock.Close)

	store := vectorstore.NewMemoryStore()
	repo := repository.New(mock, store)
	sink, err := storage.NewSink(t.TempDir())
	require.NoError(t, err)
	extractor := extract.NewExtractor(sink)
	pipeline := ingest.New(repo, extractor, failingEmbedder{}, knowledge.DefaultChunkSize, knowledge.DefaultChunkOverlap)

	baseID := uuid.New()
	clientID := uuid.New()
	docID := uuid.New()
	jobID := uuid.New()

	jobRows := []string{
		"id", "document_id", "job_type", "status", "attempts", "logs", "error_message",
		"job_metadata", "queued_at", "started_at", "finished_at",
	}

	mock.ExpectQuery("SELECT .* FROM knowledge_jobs").
		WithArgs(jobID).
		WillReturnRows(pgxmock.NewRows(jobRows).AddRow(
			jobID, docID, knowledge.JobIngest, knowledge.JobQueued, 0, []byte(`[]`), nil,
			[]byte(`{}`), time.Now().UTC(), nil, nil,
		)).Times(2)
	mock.ExpectExec("UPDATE knowledge_jobs SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1)).Times(2)

	mock.ExpectQuery("SELECT .* FROM knowledge_documents").
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows(documentRows()).AddRow(
			docID, baseID, clientID, knowledge.SourceText, nil, nil, nil,
			nil, nil, nil, []byte(`{"raw_text":"hello world"}`),
			knowledge.DocumentPending, nil, nil, nil, time.Now().UTC(), nil, nil, nil,
		)).Times(2)
	mock.ExpectExec("UPDATE knowledge_documents SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1)).Times(2)

	mock.ExpectQuery("SELECT .* FROM knowledge_bases").
		WithArgs(baseID).
		WillReturnRows(pgxmock.NewRows(baseRows()).AddRow(
			baseID, clientID, "docs", nil, nil, nil, 10, 2,
			true, []byte(`{}`), nil, nil, time.Now().UTC(), nil,
		))

	err = pipeline.ProcessDocumentIngestion(context.Background(), docID, &jobID)
	require.NoError(t, err)
}
