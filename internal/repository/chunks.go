package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/vectorstore"
)

// ChunkInput is one chunk awaiting persistence, pre-embedding-attached.
type ChunkInput struct {
	ChunkIndex int
	TokenCount int
	Content    string
	Metadata   knowledge.JSONMap
	Embedding  []float32
}

// SaveDocumentChunks atomically replaces every chunk belonging to
// documentID with the freshly generated batch (spec §4.8 step 9's "chunks
// are replaced wholesale, never patched"). The delete-then-insert is
// delegated to vectorstore.Store.ReplaceChunks so the two halves run in
// one transaction against the store's own backing tables; no external
// observer can see documentID with zero chunks in between (spec §5,
// §4.9's co-transactional replace requirement).
func (r *Repository) SaveDocumentChunks(ctx context.Context, knowledgeBaseID, documentID uuid.UUID, chunks []ChunkInput) error {
	batch := make([]vectorstore.ChunkPayload, 0, len(chunks))
	for _, c := range chunks {
		batch = append(batch, vectorstore.ChunkPayload{
			ChunkID:         uuid.New(),
			KnowledgeBaseID: knowledgeBaseID,
			DocumentID:      documentID,
			ChunkIndex:      c.ChunkIndex,
			TokenCount:      c.TokenCount,
			Content:         c.Content,
			Metadata:        c.Metadata,
			Embedding:       c.Embedding,
		})
	}

	return r.store.ReplaceChunks(ctx, documentID, batch)
}

// DeleteChunksForDocument removes every chunk currently stored for
// documentID. Implemented as a replace with an empty batch so it shares
// ReplaceChunks's atomicity guarantee.
func (r *Repository) DeleteChunksForDocument(ctx context.Context, documentID uuid.UUID) error {
	return r.store.ReplaceChunks(ctx, documentID, nil)
}
