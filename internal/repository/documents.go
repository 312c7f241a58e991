package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

// CreateDocumentInput carries the fields needed to register a new
// document against a base, regardless of source type.
type CreateDocumentInput struct {
	// ID lets a caller pre-allocate the document id before the row exists,
	// e.g. the upload handler must know it to compute the storage path it
	// passes in as StoragePath. Left zero, CreateDocument generates one.
	ID               uuid.UUID
	KnowledgeBaseID  uuid.UUID
	ClientID         uuid.UUID
	SourceType       knowledge.SourceType
	OriginalFilename *string
	SourceURL        *string
	MimeType         *string
	StoragePath      *string
	Checksum         *string
	RawText          *string
	ExtraMetadata    knowledge.JSONMap
	CreatedBy        *uuid.UUID
}

// CreateDocument validates input against the owning base and persists a
// new document in pending status (spec §4.3/§4.4).
func (r *Repository) CreateDocument(ctx context.Context, in CreateDocumentInput) (*knowledge.KnowledgeDocument, error) {
	if !in.SourceType.Valid() {
		return nil, knowledge.NewValidationError("source_type", "must be one of upload, url, text")
	}

	base, err := r.GetKnowledgeBase(ctx, in.ClientID, in.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, knowledge.NewNotFoundError("knowledge_base", in.KnowledgeBaseID.String())
	}

	switch in.SourceType {
	case knowledge.SourceUpload:
		if in.StoragePath == nil || *in.StoragePath == "" {
			return nil, knowledge.NewValidationError("storage_path", "required for upload source")
		}
	case knowledge.SourceURL:
		if in.SourceURL == nil || *in.SourceURL == "" {
			return nil, knowledge.NewValidationError("source_url", "required for url source")
		}
	case knowledge.SourceText:
		if in.RawText == nil || *in.RawText == "" {
			return nil, knowledge.NewValidationError("raw_text", "required for text source")
		}
	}

	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	doc := &knowledge.KnowledgeDocument{
		ID:               id,
		KnowledgeBaseID:  in.KnowledgeBaseID,
		ClientID:         in.ClientID,
		SourceType:       in.SourceType,
		OriginalFilename: in.OriginalFilename,
		SourceURL:        in.SourceURL,
		MimeType:         in.MimeType,
		StoragePath:      in.StoragePath,
		Checksum:         in.Checksum,
		ExtraMetadata:    in.ExtraMetadata,
		Status:           knowledge.DocumentPending,
		CreatedBy:        in.CreatedBy,
		CreatedAt:        now(),
	}
	if in.RawText != nil {
		doc.SetRawText(*in.RawText)
	}

	if err := r.insertDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Repository) insertDocument(ctx context.Context, doc *knowledge.KnowledgeDocument) error {
	metaJSON, err := marshalJSON(doc.ExtraMetadata)
	if err != nil {
		return fmt.Errorf("marshal extra_metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO knowledge_documents
			(id, knowledge_base_id, client_id, source_type, original_filename, source_url, mime_type,
			 storage_path, checksum, content_preview, extra_metadata, status, error_message,
			 created_by, updated_by, created_at, updated_at, processing_started_at, processing_finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, doc.ID, doc.KnowledgeBaseID, doc.ClientID, doc.SourceType, doc.OriginalFilename, doc.SourceURL,
		doc.MimeType, doc.StoragePath, doc.Checksum, doc.ContentPreview, metaJSON, doc.Status, doc.ErrorMessage,
		doc.CreatedBy, doc.UpdatedBy, doc.CreatedAt, doc.UpdatedAt, doc.ProcessingStartedAt, doc.ProcessingFinishedAt)
	if err != nil {
		return knowledge.NewVectorStoreError("insert knowledge document", err)
	}
	return nil
}

// GetDocument fetches a document scoped to clientID.
func (r *Repository) GetDocument(ctx context.Context, clientID, id uuid.UUID) (*knowledge.KnowledgeDocument, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, knowledge_base_id, client_id, source_type, original_filename, source_url, mime_type,
			storage_path, checksum, content_preview, extra_metadata, status, error_message,
			created_by, updated_by, created_at, updated_at, processing_started_at, processing_finished_at
		FROM knowledge_documents
		WHERE id = $1 AND client_id = $2
	`, id, clientID)

	doc, err := scanDocument(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// GetDocumentByID fetches a document by id without tenant scoping, for
// the ingestion pipeline's background invocation (spec §4.8's
// `process_document_ingestion(document_id, job_id?)` takes no client id).
func (r *Repository) GetDocumentByID(ctx context.Context, id uuid.UUID) (*knowledge.KnowledgeDocument, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, knowledge_base_id, client_id, source_type, original_filename, source_url, mime_type,
			storage_path, checksum, content_preview, extra_metadata, status, error_message,
			created_by, updated_by, created_at, updated_at, processing_started_at, processing_finished_at
		FROM knowledge_documents
		WHERE id = $1
	`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// ListDocumentsInput carries the listing filters for ListDocuments (spec
// §4.7): scoped to a base, optionally filtered by status, paginated.
type ListDocumentsInput struct {
	KnowledgeBaseID uuid.UUID
	ClientID        uuid.UUID
	Status          *knowledge.DocumentStatus
	Limit           int
	Offset          int
}

// ListDocuments returns a page of documents within a base plus the total
// matching count.
func (r *Repository) ListDocuments(ctx context.Context, in ListDocumentsInput) ([]knowledge.KnowledgeDocument, int, error) {
	if in.Status != nil && !in.Status.Valid() {
		return nil, 0, knowledge.NewValidationError("status", "must be one of pending, processing, ready, error")
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}

	where := `knowledge_base_id = $1 AND client_id = $2`
	args := []any{in.KnowledgeBaseID, in.ClientID}
	if in.Status != nil {
		args = append(args, *in.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, knowledge.NewVectorStoreError("count knowledge documents", err)
	}

	args = append(args, limit, in.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, knowledge_base_id, client_id, source_type, original_filename, source_url, mime_type,
			storage_path, checksum, content_preview, extra_metadata, status, error_message,
			created_by, updated_by, created_at, updated_at, processing_started_at, processing_finished_at
		FROM knowledge_documents
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, knowledge.NewVectorStoreError("list knowledge documents", err)
	}
	defer rows.Close()

	var docs []knowledge.KnowledgeDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, knowledge.NewVectorStoreError("iterate knowledge documents", err)
	}

	return docs, total, nil
}

// UpdateDocument persists the full current state of doc, e.g. after a
// status transition during ingestion (spec §4.8).
func (r *Repository) UpdateDocument(ctx context.Context, doc *knowledge.KnowledgeDocument) error {
	metaJSON, err := marshalJSON(doc.ExtraMetadata)
	if err != nil {
		return fmt.Errorf("marshal extra_metadata: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE knowledge_documents SET
			original_filename = $1, source_url = $2, mime_type = $3, storage_path = $4, checksum = $5,
			content_preview = $6, extra_metadata = $7, status = $8, error_message = $9, updated_by = $10,
			updated_at = $11, processing_started_at = $12, processing_finished_at = $13
		WHERE id = $14 AND client_id = $15
	`, doc.OriginalFilename, doc.SourceURL, doc.MimeType, doc.StoragePath, doc.Checksum, doc.ContentPreview,
		metaJSON, doc.Status, doc.ErrorMessage, doc.UpdatedBy, doc.UpdatedAt,
		doc.ProcessingStartedAt, doc.ProcessingFinishedAt, doc.ID, doc.ClientID)
	if err != nil {
		return knowledge.NewVectorStoreError("update knowledge document", err)
	}
	if tag.RowsAffected() == 0 {
		return knowledge.NewNotFoundError("knowledge_document", doc.ID.String())
	}
	return nil
}

// TransitionDocumentStatus moves doc to status, stamping updated_at and,
// for the pending->processing and processing->{ready,error} edges, the
// processing timestamps (spec §4.8).
func (r *Repository) TransitionDocumentStatus(ctx context.Context, doc *knowledge.KnowledgeDocument, status knowledge.DocumentStatus, errMsg *string) error {
	if !status.Valid() {
		return knowledge.NewValidationError("status", "must be one of pending, processing, ready, error")
	}

	t := now()
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = &t

	switch status {
	case knowledge.DocumentProcessing:
		doc.ProcessingStartedAt = &t
	case knowledge.DocumentReady, knowledge.DocumentError:
		doc.ProcessingFinishedAt = &t
	}

	return r.UpdateDocument(ctx, doc)
}

func scanDocument(row rowScanner) (*knowledge.KnowledgeDocument, error) {
	var (
		doc      knowledge.KnowledgeDocument
		metaJSON []byte
	)

	if err := row.Scan(
		&doc.ID, &doc.KnowledgeBaseID, &doc.ClientID, &doc.SourceType, &doc.OriginalFilename, &doc.SourceURL,
		&doc.MimeType, &doc.StoragePath, &doc.Checksum, &doc.ContentPreview, &metaJSON, &doc.Status, &doc.ErrorMessage,
		&doc.CreatedBy, &doc.UpdatedBy, &doc.CreatedAt, &doc.UpdatedAt, &doc.ProcessingStartedAt, &doc.ProcessingFinishedAt,
	); err != nil {
		return nil, knowledge.NewVectorStoreError("scan knowledge document", err)
	}

	meta, err := unmarshalJSON(metaJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal document extra_metadata: %w", err)
	}
	doc.ExtraMetadata = meta

	return &doc, nil
}
