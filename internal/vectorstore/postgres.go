package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

// PgVectorStore persists chunk embeddings in a single Postgres table keyed
// by chunk id, using the pgvector extension's cosine-distance operator for
// similarity search (spec §4.2).
type PgVectorStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPgVectorStore connects to Postgres and ensures the knowledge_chunks
// schema exists.
func NewPgVectorStore(ctx context.Context, dsn string, maxConns int, dimension int) (*PgVectorStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store := &PgVectorStore{pool: pool, dimension: dimension}

	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// Pool exposes the underlying connection pool so the repository package
// can share it instead of opening a second connection to the same
// database.
func (s *PgVectorStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the underlying database resources.
func (s *PgVectorStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the knowledge_chunks table and its indexes if they
// do not already exist.
func (s *PgVectorStore) EnsureSchema(ctx context.Context) error {
	const statements = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id UUID PRIMARY KEY,
	knowledge_base_id UUID NOT NULL,
	document_id UUID NOT NULL,
	chunk_index INT NOT NULL,
	token_count INT NOT NULL,
	content TEXT NOT NULL,
	chunk_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%[1]d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS knowledge_chunks_base_idx
	ON knowledge_chunks (knowledge_base_id);

CREATE INDEX IF NOT EXISTS knowledge_chunks_document_idx
	ON knowledge_chunks (document_id);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1
		FROM pg_indexes
		WHERE schemaname = current_schema()
			AND indexname = 'knowledge_chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX knowledge_chunks_embedding_idx ON knowledge_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`

	_, err := s.pool.Exec(ctx, fmt.Sprintf(statements, s.dimension))
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// IVF requires enough rows to build an approximate index; ignore
		// and continue with a sequential scan until then.
		err = nil
	}
	return err
}

// UpsertChunks implements Store. The whole batch is written in one
// transaction, so a partial batch is never visible, but this method does
// not by itself make a delete-then-insert replacement atomic — callers
// that need that guarantee must use ReplaceChunks instead.
func (s *PgVectorStore) UpsertChunks(ctx context.Context, batch []ChunkPayload) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return knowledge.NewVectorStoreError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertChunksTx(ctx, tx, s.dimension, batch); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return knowledge.NewVectorStoreError("commit upsert transaction", err)
	}

	return nil
}

// upsertChunksTx writes batch within an already-open transaction, shared
// by UpsertChunks and ReplaceChunks.
func upsertChunksTx(ctx context.Context, tx pgx.Tx, dimension int, batch []ChunkPayload) error {
	for _, chunk := range batch {
		if len(chunk.Embedding) != dimension {
			return knowledge.NewVectorStoreError(
				fmt.Sprintf("embedding dimension mismatch for chunk %s: expected %d got %d",
					chunk.ChunkID, dimension, len(chunk.Embedding)), nil)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO knowledge_chunks
				(id, knowledge_base_id, document_id, chunk_index, token_count, content, chunk_metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				knowledge_base_id = EXCLUDED.knowledge_base_id,
				document_id = EXCLUDED.document_id,
				chunk_index = EXCLUDED.chunk_index,
				token_count = EXCLUDED.token_count,
				content = EXCLUDED.content,
				chunk_metadata = EXCLUDED.chunk_metadata,
				embedding = EXCLUDED.embedding
		`,
			chunk.ChunkID,
			chunk.KnowledgeBaseID,
			chunk.DocumentID,
			chunk.ChunkIndex,
			chunk.TokenCount,
			chunk.Content,
			map[string]any(chunk.Metadata),
			pgvector.NewVector(chunk.Embedding),
		); err != nil {
			return knowledge.NewVectorStoreError("upsert chunk", err)
		}
	}
	return nil
}

// DeleteChunks implements Store.
func (s *PgVectorStore) DeleteChunks(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM knowledge_chunks WHERE id = ANY($1)`, ids); err != nil {
		return knowledge.NewVectorStoreError("delete chunks", err)
	}
	return nil
}

// ReplaceChunks implements Store. The delete and the insert run inside one
// transaction, so an external reader using its own connection either sees
// the document's old chunk set in full or its new one in full, never a
// gap in between (spec's single-transaction replace invariant).
func (s *PgVectorStore) ReplaceChunks(ctx context.Context, documentID uuid.UUID, batch []ChunkPayload) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return knowledge.NewVectorStoreError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_chunks WHERE document_id = $1`, documentID); err != nil {
		return knowledge.NewVectorStoreError("delete stale chunks", err)
	}

	if err := upsertChunksTx(ctx, tx, s.dimension, batch); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return knowledge.NewVectorStoreError("commit replace transaction", err)
	}

	return nil
}

// SimilaritySearch implements Store.
func (s *PgVectorStore) SimilaritySearch(ctx context.Context, baseIDs []uuid.UUID, queryVector []float32, topK int, scoreThreshold *float32) ([]SearchResult, error) {
	if len(baseIDs) == 0 || topK <= 0 {
		return nil, nil
	}

	if len(queryVector) != s.dimension {
		return nil, knowledge.NewVectorStoreError(
			fmt.Sprintf("query embedding dimension mismatch: expected %d got %d", s.dimension, len(queryVector)), nil)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, knowledge_base_id, document_id, content, chunk_metadata, chunk_index, token_count,
			(embedding <=> $1) AS distance
		FROM knowledge_chunks
		WHERE knowledge_base_id = ANY($2)
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(queryVector), baseIDs, topK)
	if err != nil {
		return nil, knowledge.NewVectorStoreError("query similar chunks", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			result   SearchResult
			metadata map[string]any
			distance float32
		)

		if err := rows.Scan(
			&result.ChunkID,
			&result.KnowledgeBaseID,
			&result.DocumentID,
			&result.Content,
			&metadata,
			&result.ChunkIndex,
			&result.TokenCount,
			&distance,
		); err != nil {
			return nil, knowledge.NewVectorStoreError("scan chunk row", err)
		}

		if scoreThreshold != nil && distance > *scoreThreshold {
			continue
		}

		result.Metadata = knowledge.JSONMap(metadata)
		result.Score = 1 - distance
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, knowledge.NewVectorStoreError("iterate chunk rows", err)
	}

	return results, nil
}

var _ Store = (*PgVectorStore)(nil)
