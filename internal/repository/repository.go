// Package repository implements the Knowledge Repository (C7, spec §4.7):
// CRUD, tenant-scoped paginated listing, status transitions, and
// chunk bulk-replace for knowledge bases, documents, jobs and chunks.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/vectorstore"
)

// dbPool is the slice of *pgxpool.Pool the repository depends on. Narrowing
// to an interface lets tests substitute github.com/pashagolub/pgxmock
// instead of requiring a live Postgres instance.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository encapsulates all persistence of knowledge-core entities.
type Repository struct {
	pool  dbPool
	store vectorstore.Store
}

// New constructs a Repository sharing pool with the caller's vector store,
// per spec §5's "database sessions are per-operation" / shared-pool model.
func New(pool dbPool, store vectorstore.Store) *Repository {
	return &Repository{pool: pool, store: store}
}

// EnsureSchema creates the relational tables backing knowledge bases,
// documents, and jobs if they do not already exist. The chunks table is
// owned by the vector store (spec §4.2).
func (r *Repository) EnsureSchema(ctx context.Context) error {
	const statements = `
CREATE TABLE IF NOT EXISTS knowledge_bases (
	id UUID PRIMARY KEY,
	client_id UUID NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	language TEXT,
	embedding_model TEXT,
	chunk_size INT NOT NULL DEFAULT 512,
	chunk_overlap INT NOT NULL DEFAULT 128,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	config JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_by UUID,
	updated_by UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS knowledge_bases_client_idx ON knowledge_bases (client_id);

CREATE TABLE IF NOT EXISTS knowledge_documents (
	id UUID PRIMARY KEY,
	knowledge_base_id UUID NOT NULL REFERENCES knowledge_bases(id),
	client_id UUID NOT NULL,
	source_type TEXT NOT NULL,
	original_filename TEXT,
	source_url TEXT,
	mime_type TEXT,
	storage_path TEXT,
	checksum TEXT,
	content_preview TEXT,
	extra_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	created_by UUID,
	updated_by UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ,
	processing_started_at TIMESTAMPTZ,
	processing_finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS knowledge_documents_base_idx ON knowledge_documents (knowledge_base_id);
CREATE INDEX IF NOT EXISTS knowledge_documents_client_idx ON knowledge_documents (client_id);
CREATE INDEX IF NOT EXISTS knowledge_documents_status_idx ON knowledge_documents (status);

CREATE TABLE IF NOT EXISTS knowledge_jobs (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES knowledge_documents(id),
	job_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INT NOT NULL DEFAULT 0,
	logs JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	job_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	queued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS knowledge_jobs_document_idx ON knowledge_jobs (document_id);
`
	if _, err := r.pool.Exec(ctx, statements); err != nil {
		return fmt.Errorf("ensure knowledge schema: %w", err)
	}
	return nil
}

func marshalJSON(m knowledge.JSONMap) ([]byte, error) {
	if m == nil {
		m = knowledge.JSONMap{}
	}
	return json.Marshal(map[string]any(m))
}

func unmarshalJSON(data []byte) (knowledge.JSONMap, error) {
	if len(data) == 0 {
		return knowledge.JSONMap{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return knowledge.JSONMap(m), nil
}

func now() time.Time { return time.Now().UTC() }
