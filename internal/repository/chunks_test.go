package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/kodeai/knowledge-core/internal/repository"
	"github.com/kodeai/knowledge-core/internal/vectorstore"
)

func TestSaveDocumentChunks_ReplacesWholesale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := vectorstore.NewMemoryStore()
	repo := repository.New(mock, store)

	baseID := uuid.New()
	docID := uuid.New()

	err = repo.SaveDocumentChunks(context.Background(), baseID, docID, []repository.ChunkInput{
		{ChunkIndex: 0, Content: "alpha", Embedding: []float32{1, 0}},
		{ChunkIndex: 1, Content: "beta", Embedding: []float32{0, 1}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	results, err := store.SimilaritySearch(context.Background(), []uuid.UUID{baseID}, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// A second save must leave only the new batch behind, never the union
	// of old and new (the "replace, never patch" invariant).
	err = repo.SaveDocumentChunks(context.Background(), baseID, docID, []repository.ChunkInput{
		{ChunkIndex: 0, Content: "gamma", Embedding: []float32{1, 0}},
	})
	require.NoError(t, err)

	results, err = store.SimilaritySearch(context.Background(), []uuid.UUID{baseID}, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "gamma", results[0].Content)
}

func TestDeleteChunksForDocument_NoExistingChunksIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := repository.New(mock, vectorstore.NewMemoryStore())
	docID := uuid.New()

	err = repo.DeleteChunksForDocument(context.Background(), docID)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
