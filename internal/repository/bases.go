package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

// CreateKnowledgeBaseInput carries the fields a caller supplies to create
// a base; unset pointers take the spec §3 defaults.
type CreateKnowledgeBaseInput struct {
	ClientID       uuid.UUID
	Name           string
	Description    *string
	Language       *string
	EmbeddingModel *string
	ChunkSize      *int
	ChunkOverlap   *int
	Config         knowledge.JSONMap
	CreatedBy      *uuid.UUID
}

// CreateKnowledgeBase validates and persists a new base.
func (r *Repository) CreateKnowledgeBase(ctx context.Context, in CreateKnowledgeBaseInput) (*knowledge.KnowledgeBase, error) {
	if in.Name == "" || len(in.Name) > 120 {
		return nil, knowledge.NewValidationError("name", "must be 1-120 characters")
	}
	if in.Description != nil && len(*in.Description) > 2000 {
		return nil, knowledge.NewValidationError("description", "must be at most 2000 characters")
	}

	chunkSize := knowledge.DefaultChunkSize
	if in.ChunkSize != nil {
		chunkSize = *in.ChunkSize
	}
	if chunkSize < knowledge.MinChunkSize || chunkSize > knowledge.MaxChunkSize {
		return nil, knowledge.NewValidationError("chunk_size", "must be between 64 and 4096")
	}

	chunkOverlap := knowledge.DefaultChunkOverlap
	if in.ChunkOverlap != nil {
		chunkOverlap = *in.ChunkOverlap
	}
	if chunkOverlap < knowledge.MinChunkOverlap || chunkOverlap > knowledge.MaxChunkOverlap {
		return nil, knowledge.NewValidationError("chunk_overlap", "must be between 0 and 2048")
	}
	if chunkOverlap >= chunkSize {
		return nil, knowledge.NewValidationError("chunk_overlap", "must be less than chunk_size")
	}

	base := &knowledge.KnowledgeBase{
		ID:             uuid.New(),
		ClientID:       in.ClientID,
		Name:           in.Name,
		Description:    in.Description,
		Language:       in.Language,
		EmbeddingModel: in.EmbeddingModel,
		ChunkSize:      chunkSize,
		ChunkOverlap:   chunkOverlap,
		IsActive:       true,
		Config:         in.Config,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now(),
	}

	configJSON, err := marshalJSON(base.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO knowledge_bases
			(id, client_id, name, description, language, embedding_model, chunk_size, chunk_overlap, is_active, config, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, base.ID, base.ClientID, base.Name, base.Description, base.Language, base.EmbeddingModel,
		base.ChunkSize, base.ChunkOverlap, base.IsActive, configJSON, base.CreatedBy, base.CreatedAt)
	if err != nil {
		return nil, knowledge.NewVectorStoreError("insert knowledge base", err)
	}

	return base, nil
}

// GetKnowledgeBase fetches a base by id, scoped to clientID. Soft-deleted
// bases remain queryable by id (spec §3 invariant).
func (r *Repository) GetKnowledgeBase(ctx context.Context, clientID, id uuid.UUID) (*knowledge.KnowledgeBase, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, client_id, name, description, language, embedding_model, chunk_size, chunk_overlap,
			is_active, config, created_by, updated_by, created_at, updated_at
		FROM knowledge_bases
		WHERE id = $1 AND client_id = $2
	`, id, clientID)

	base, err := scanKnowledgeBase(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return base, nil
}

// GetKnowledgeBaseByID fetches a base by id without tenant scoping, for
// the ingestion pipeline resolving a document's owning base.
func (r *Repository) GetKnowledgeBaseByID(ctx context.Context, id uuid.UUID) (*knowledge.KnowledgeBase, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, client_id, name, description, language, embedding_model, chunk_size, chunk_overlap,
			is_active, config, created_by, updated_by, created_at, updated_at
		FROM knowledge_bases
		WHERE id = $1
	`, id)

	base, err := scanKnowledgeBase(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return base, nil
}

// ListKnowledgeBasesInput carries the listing filters for
// ListKnowledgeBases (spec §4.7: tenant-scoped, case-insensitive name
// substring search, paginated, soft-deleted bases excluded by default).
type ListKnowledgeBasesInput struct {
	ClientID       uuid.UUID
	NameContains   string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// ListKnowledgeBases returns a page of bases plus the total matching count.
func (r *Repository) ListKnowledgeBases(ctx context.Context, in ListKnowledgeBasesInput) ([]knowledge.KnowledgeBase, int, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}

	where := `client_id = $1`
	args := []any{in.ClientID}

	if !in.IncludeDeleted {
		where += ` AND is_active = TRUE`
	}
	if in.NameContains != "" {
		args = append(args, "%"+in.NameContains+"%")
		where += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_bases WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, knowledge.NewVectorStoreError("count knowledge bases", err)
	}

	args = append(args, limit, in.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, client_id, name, description, language, embedding_model, chunk_size, chunk_overlap,
			is_active, config, created_by, updated_by, created_at, updated_at
		FROM knowledge_bases
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, knowledge.NewVectorStoreError("list knowledge bases", err)
	}
	defer rows.Close()

	var bases []knowledge.KnowledgeBase
	for rows.Next() {
		base, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, 0, err
		}
		bases = append(bases, *base)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, knowledge.NewVectorStoreError("iterate knowledge bases", err)
	}

	return bases, total, nil
}

// PatchKnowledgeBaseInput carries optional field updates; nil means
// "leave unchanged".
type PatchKnowledgeBaseInput struct {
	Name           *string
	Description    *string
	Language       *string
	EmbeddingModel *string
	ChunkSize      *int
	ChunkOverlap   *int
	Config         knowledge.JSONMap
	UpdatedBy      *uuid.UUID
}

// PatchKnowledgeBase applies a partial update to a base.
func (r *Repository) PatchKnowledgeBase(ctx context.Context, clientID, id uuid.UUID, in PatchKnowledgeBaseInput) (*knowledge.KnowledgeBase, error) {
	base, err := r.GetKnowledgeBase(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, knowledge.NewNotFoundError("knowledge_base", id.String())
	}

	if in.Name != nil {
		if *in.Name == "" || len(*in.Name) > 120 {
			return nil, knowledge.NewValidationError("name", "must be 1-120 characters")
		}
		base.Name = *in.Name
	}
	if in.Description != nil {
		base.Description = in.Description
	}
	if in.Language != nil {
		base.Language = in.Language
	}
	if in.EmbeddingModel != nil {
		base.EmbeddingModel = in.EmbeddingModel
	}
	if in.ChunkSize != nil {
		if *in.ChunkSize < knowledge.MinChunkSize || *in.ChunkSize > knowledge.MaxChunkSize {
			return nil, knowledge.NewValidationError("chunk_size", "must be between 64 and 4096")
		}
		base.ChunkSize = *in.ChunkSize
	}
	if in.ChunkOverlap != nil {
		base.ChunkOverlap = *in.ChunkOverlap
	}
	if base.ChunkOverlap >= base.ChunkSize {
		return nil, knowledge.NewValidationError("chunk_overlap", "must be less than chunk_size")
	}
	if in.Config != nil {
		base.Config = in.Config
	}
	if in.UpdatedBy != nil {
		base.UpdatedBy = in.UpdatedBy
	}

	updatedAt := now()
	base.UpdatedAt = &updatedAt

	configJSON, err := marshalJSON(base.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE knowledge_bases SET
			name = $1, description = $2, language = $3, embedding_model = $4,
			chunk_size = $5, chunk_overlap = $6, config = $7, updated_by = $8, updated_at = $9
		WHERE id = $10 AND client_id = $11
	`, base.Name, base.Description, base.Language, base.EmbeddingModel, base.ChunkSize, base.ChunkOverlap,
		configJSON, base.UpdatedBy, base.UpdatedAt, base.ID, base.ClientID)
	if err != nil {
		return nil, knowledge.NewVectorStoreError("update knowledge base", err)
	}

	return base, nil
}

// ArchiveKnowledgeBase soft-deletes a base (is_active = false). Archived
// bases are excluded from ListKnowledgeBases by default but remain
// retrievable via GetKnowledgeBase (spec §3).
func (r *Repository) ArchiveKnowledgeBase(ctx context.Context, clientID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE knowledge_bases SET is_active = FALSE, updated_at = $1 WHERE id = $2 AND client_id = $3
	`, now(), id, clientID)
	if err != nil {
		return knowledge.NewVectorStoreError("archive knowledge base", err)
	}
	if tag.RowsAffected() == 0 {
		return knowledge.NewNotFoundError("knowledge_base", id.String())
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func scanKnowledgeBase(row rowScanner) (*knowledge.KnowledgeBase, error) {
	var (
		base       knowledge.KnowledgeBase
		configJSON []byte
	)

	if err := row.Scan(
		&base.ID, &base.ClientID, &base.Name, &base.Description, &base.Language, &base.EmbeddingModel,
		&base.ChunkSize, &base.ChunkOverlap, &base.IsActive, &configJSON,
		&base.CreatedBy, &base.UpdatedBy, &base.CreatedAt, &base.UpdatedAt,
	); err != nil {
		return nil, knowledge.NewVectorStoreError("scan knowledge base", err)
	}

	config, err := unmarshalJSON(configJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal knowledge base config: %w", err)
	}
	base.Config = config

	return &base, nil
}
