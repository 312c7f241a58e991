// Package ingest implements the ingestion pipeline (C8, spec §4.8): the
// extract → chunk → embed → replace-chunks state machine driving a
// document from pending to ready or error, plus a background scheduler
// abstraction (spec §9 "background scheduling") that runs it off-request.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kodeai/knowledge-core/internal/chunker"
	"github.com/kodeai/knowledge-core/internal/embeddings"
	"github.com/kodeai/knowledge-core/internal/extract"
	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/repository"
)

// Pipeline drives one document through extraction, chunking, embedding,
// and chunk persistence.
type Pipeline struct {
	repo      *repository.Repository
	extractor *extract.Extractor
	embedder  embeddings.Client

	defaultChunkSize    int
	defaultChunkOverlap int
}

// New constructs a Pipeline. defaultChunkSize/defaultChunkOverlap are the
// global fallbacks used when a document's owning base leaves chunk_size
// or chunk_overlap unset (spec §4.8 step 4).
func New(repo *repository.Repository, extractor *extract.Extractor, embedder embeddings.Client, defaultChunkSize, defaultChunkOverlap int) *Pipeline {
	return &Pipeline{
		repo:                repo,
		extractor:           extractor,
		embedder:            embedder,
		defaultChunkSize:    defaultChunkSize,
		defaultChunkOverlap: defaultChunkOverlap,
	}
}

// ProcessDocumentIngestion runs the full ingestion algorithm for
// documentID, optionally tracked by jobID. It never returns an error for
// failures occurring during extraction/chunking/embedding/persistence —
// those are recorded on the document and job per spec §7's propagation
// policy. A non-nil return indicates the job or document could not be
// loaded or could not be moved to processing; such a failure is not
// recorded on the document or job.
func (p *Pipeline) ProcessDocumentIngestion(ctx context.Context, documentID uuid.UUID, jobID *uuid.UUID) error {
	var job *knowledge.KnowledgeJob
	if jobID != nil {
		var err error
		job, err = p.repo.GetJob(ctx, *jobID)
		if err != nil {
			return fmt.Errorf("load job %s: %w", jobID, err)
		}
		if job == nil {
			return knowledge.NewNotFoundError("knowledge_job", jobID.String())
		}
		if err := p.repo.TransitionJobStatus(ctx, job, knowledge.JobProcessing, "Started ingestion", nil); err != nil {
			return fmt.Errorf("start job %s: %w", jobID, err)
		}
	}

	doc, err := p.repo.GetDocumentByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}
	if doc == nil {
		return knowledge.NewNotFoundError("knowledge_document", documentID.String())
	}

	if err := p.repo.TransitionDocumentStatus(ctx, doc, knowledge.DocumentProcessing, nil); err != nil {
		return fmt.Errorf("start processing document %s: %w", documentID, err)
	}

	if err := p.run(ctx, doc, job); err != nil {
		p.fail(ctx, documentID, jobID, err)
	}

	return nil
}

// run performs steps 4-10 of the algorithm, returning the first error
// encountered so the caller can drive the failure path.
func (p *Pipeline) run(ctx context.Context, doc *knowledge.KnowledgeDocument, job *knowledge.KnowledgeJob) error {
	base, err := p.repo.GetKnowledgeBaseByID(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}
	if base == nil {
		return knowledge.NewNotFoundError("knowledge_base", doc.KnowledgeBaseID.String())
	}

	chunkSize := base.ChunkSize
	if chunkSize <= 0 {
		chunkSize = p.defaultChunkSize
	}
	chunkOverlap := base.ChunkOverlap
	if chunkOverlap < 0 {
		chunkOverlap = p.defaultChunkOverlap
	}

	text, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return knowledge.NewExtractionError("Document content is empty")
	}

	windows := chunker.Chunk(text, chunkSize, chunkOverlap)
	if len(windows) == 0 {
		return knowledge.NewExtractionError("chunker produced zero chunks")
	}

	vectors, err := p.embedder.Embed(ctx, windows)
	if err != nil {
		return err
	}
	if len(vectors) != len(windows) {
		return knowledge.NewEmbeddingServiceError(
			fmt.Sprintf("expected %d embeddings, got %d", len(windows), len(vectors)), nil)
	}

	chunks := make([]repository.ChunkInput, 0, len(windows))
	for i, content := range windows {
		metadata := knowledge.JSONMap{
			"source_type":       string(doc.SourceType),
			"document_id":       doc.ID.String(),
			"knowledge_base_id": doc.KnowledgeBaseID.String(),
			"chunk_index":       i,
		}
		if doc.OriginalFilename != nil {
			metadata["original_filename"] = *doc.OriginalFilename
		}
		if doc.SourceURL != nil {
			metadata["source_url"] = *doc.SourceURL
		}

		chunks = append(chunks, repository.ChunkInput{
			ChunkIndex: i,
			TokenCount: len(strings.Fields(content)),
			Content:    content,
			Metadata:   metadata,
			Embedding:  vectors[i],
		})
	}

	if err := p.repo.SaveDocumentChunks(ctx, doc.KnowledgeBaseID, doc.ID, chunks); err != nil {
		return err
	}

	doc.SetLastProcessedAt(time.Now())
	if err := p.repo.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	if err := p.repo.TransitionDocumentStatus(ctx, doc, knowledge.DocumentReady, nil); err != nil {
		return err
	}
	if job != nil {
		if err := p.repo.TransitionJobStatus(ctx, job, knowledge.JobCompleted, "Ingestion completed", nil); err != nil {
			return err
		}
	}

	return nil
}

// fail implements spec §4.8's failure handling: reload document and job
// fresh (the in-memory copies may be stale past the point of failure),
// mark both, and never let a secondary failure here escape.
func (p *Pipeline) fail(ctx context.Context, documentID uuid.UUID, jobID *uuid.UUID, cause error) {
	message := cause.Error()

	doc, err := p.repo.GetDocumentByID(ctx, documentID)
	if err != nil || doc == nil {
		log.Printf("ingest: failed to reload document %s while recording failure %q: %v", documentID, message, err)
	} else if err := p.repo.TransitionDocumentStatus(ctx, doc, knowledge.DocumentError, &message); err != nil {
		log.Printf("ingest: failed to mark document %s as error: %v", documentID, err)
	}

	if jobID == nil {
		return
	}
	job, err := p.repo.GetJob(ctx, *jobID)
	if err != nil || job == nil {
		log.Printf("ingest: failed to reload job %s while recording failure %q: %v", jobID, message, err)
		return
	}
	if err := p.repo.TransitionJobStatus(ctx, job, knowledge.JobFailed, message, &message); err != nil {
		log.Printf("ingest: failed to mark job %s as failed: %v", jobID, err)
	}
}
