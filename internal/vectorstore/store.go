// Package vectorstore defines the pluggable vector-store contract (C1) and
// a pgvector-backed relational implementation (C2), per spec §4.1-4.2.
package vectorstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

// ChunkPayload is the full per-chunk record upserted into the store.
type ChunkPayload struct {
	ChunkID         uuid.UUID
	KnowledgeBaseID uuid.UUID
	DocumentID      uuid.UUID
	ChunkIndex      int
	TokenCount      int
	Content         string
	Metadata        knowledge.JSONMap
	Embedding       []float32
}

// SearchResult is one ranked hit from a similarity search. Score is
// similarity (1 - cosine distance), not the raw distance.
type SearchResult struct {
	ChunkID         uuid.UUID
	KnowledgeBaseID uuid.UUID
	DocumentID      uuid.UUID
	Content         string
	Metadata        knowledge.JSONMap
	ChunkIndex      int
	TokenCount      int
	Score           float32
}

// Store is the polymorphic vector-store contract. Implementations beyond
// relational pgvector (Pinecone, Qdrant, …) can satisfy the same contract
// without touching calling code (spec §4.1).
type Store interface {
	// UpsertChunks inserts or replaces chunks by ChunkID. The full payload
	// is overwritten on conflict. Atomic per call: a partially written batch
	// is never visible.
	UpsertChunks(ctx context.Context, batch []ChunkPayload) error

	// DeleteChunks removes chunks by id set. Succeeds silently on empty
	// input.
	DeleteChunks(ctx context.Context, ids []uuid.UUID) error

	// ReplaceChunks atomically discards every chunk currently stored for
	// documentID and writes batch in its place. Implementations must
	// guarantee no caller can observe the document with zero chunks
	// between the delete and the insert; this is the only entry point
	// the repository uses for a document's wholesale chunk replacement.
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, batch []ChunkPayload) error

	// SimilaritySearch returns up to topK results ordered by ascending
	// cosine distance, filtered to baseIDs and, when scoreThreshold is
	// non-nil, to distance <= *scoreThreshold.
	SimilaritySearch(ctx context.Context, baseIDs []uuid.UUID, queryVector []float32, topK int, scoreThreshold *float32) ([]SearchResult, error)
}
