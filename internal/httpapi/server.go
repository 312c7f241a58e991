// Package httpapi exposes the logical operations of spec.md §6 over a
// thin chi router. Transport concerns (auth, rate limiting, request
// tracing beyond request-id) are intentionally out of scope; this layer
// exists only so the module is runnable end to end, grounded on the
// teacher's internal/server package.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/kodeai/knowledge-core/internal/ingest"
	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/repository"
	"github.com/kodeai/knowledge-core/internal/retrieve"
	"github.com/kodeai/knowledge-core/internal/storage"
)

// Server wires HTTP handlers to the repository, ingestion pipeline, and
// retriever.
type Server struct {
	router    http.Handler
	repo      *repository.Repository
	sink      *storage.Sink
	pipeline  *ingest.Pipeline
	scheduler ingest.Scheduler
	retriever *retrieve.Retriever
}

// New constructs a Server with the provided dependencies.
func New(repo *repository.Repository, sink *storage.Sink, pipeline *ingest.Pipeline, scheduler ingest.Scheduler, retriever *retrieve.Retriever) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Client-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:    mux,
		repo:      repo,
		sink:      sink,
		pipeline:  pipeline,
		scheduler: scheduler,
		retriever: retriever,
	}

	mux.Get("/api/health", s.handleHealth)

	mux.Post("/api/knowledge-bases", s.handleCreateBase)
	mux.Get("/api/knowledge-bases", s.handleListBases)
	mux.Get("/api/knowledge-bases/{baseID}", s.handleGetBase)
	mux.Patch("/api/knowledge-bases/{baseID}", s.handlePatchBase)
	mux.Post("/api/knowledge-bases/{baseID}/archive", s.handleArchiveBase)

	mux.Post("/api/knowledge-bases/{baseID}/documents/upload", s.handleUploadDocument)
	mux.Post("/api/knowledge-bases/{baseID}/documents/text", s.handleCreateTextDocument)
	mux.Post("/api/knowledge-bases/{baseID}/documents/url", s.handleCreateURLDocument)
	mux.Get("/api/knowledge-bases/{baseID}/documents", s.handleListDocuments)
	mux.Get("/api/documents/{documentID}", s.handleGetDocument)
	mux.Post("/api/documents/{documentID}/reprocess", s.handleReprocessDocument)

	mux.Post("/api/retrieve", s.handleApplyContext)

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// tenantFromRequest extracts the calling tenant's client id. Authenticating
// the caller is explicitly out of scope (spec.md §1 non-goals list
// "cross-tenant search" as out of scope but says nothing about how a
// caller is authenticated); this header is the seam a real deployment's
// auth middleware would populate.
func tenantFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Client-ID")
	if raw == "" {
		return uuid.UUID{}, errors.New("missing X-Client-ID header")
	}
	return uuid.Parse(raw)
}

func (s *Server) handleCreateBase(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var payload struct {
		Name           string         `json:"name"`
		Description    *string        `json:"description"`
		Language       *string        `json:"language"`
		EmbeddingModel *string        `json:"embedding_model"`
		ChunkSize      *int           `json:"chunk_size"`
		ChunkOverlap   *int           `json:"chunk_overlap"`
		Config         map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	base, err := s.repo.CreateKnowledgeBase(r.Context(), repository.CreateKnowledgeBaseInput{
		ClientID:       clientID,
		Name:           payload.Name,
		Description:    payload.Description,
		Language:       payload.Language,
		EmbeddingModel: payload.EmbeddingModel,
		ChunkSize:      payload.ChunkSize,
		ChunkOverlap:   payload.ChunkOverlap,
		Config:         knowledge.JSONMap(payload.Config),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, base)
}

func (s *Server) handleListBases(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	q := r.URL.Query()
	bases, total, err := s.repo.ListKnowledgeBases(r.Context(), repository.ListKnowledgeBasesInput{
		ClientID:     clientID,
		NameContains: q.Get("name"),
		Limit:        atoiOr(q.Get("limit"), 20),
		Offset:       atoiOr(q.Get("offset"), 0),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"knowledge_bases": bases, "total": total})
}

func (s *Server) handleGetBase(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	baseID, err := uuid.Parse(chi.URLParam(r, "baseID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid baseID: %w", err))
		return
	}

	base, err := s.repo.GetKnowledgeBase(r.Context(), clientID, baseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if base == nil {
		writeDomainError(w, knowledge.NewNotFoundError("knowledge_base", baseID.String()))
		return
	}

	writeJSON(w, http.StatusOK, base)
}

func (s *Server) handlePatchBase(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	baseID, err := uuid.Parse(chi.URLParam(r, "baseID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid baseID: %w", err))
		return
	}

	var payload struct {
		Name           *string        `json:"name"`
		Description    *string        `json:"description"`
		Language       *string        `json:"language"`
		EmbeddingModel *string        `json:"embedding_model"`
		ChunkSize      *int           `json:"chunk_size"`
		ChunkOverlap   *int           `json:"chunk_overlap"`
		Config         map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	var config knowledge.JSONMap
	if payload.Config != nil {
		config = knowledge.JSONMap(payload.Config)
	}

	base, err := s.repo.PatchKnowledgeBase(r.Context(), clientID, baseID, repository.PatchKnowledgeBaseInput{
		Name:           payload.Name,
		Description:    payload.Description,
		Language:       payload.Language,
		EmbeddingModel: payload.EmbeddingModel,
		ChunkSize:      payload.ChunkSize,
		ChunkOverlap:   payload.ChunkOverlap,
		Config:         config,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, base)
}

func (s *Server) handleArchiveBase(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	baseID, err := uuid.Parse(chi.URLParam(r, "baseID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid baseID: %w", err))
		return
	}

	if err := s.repo.ArchiveKnowledgeBase(r.Context(), clientID, baseID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	baseID, err := uuid.Parse(chi.URLParam(r, "baseID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid baseID: %w", err))
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read file: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read upload: %w", err))
		return
	}

	docID := uuid.New()
	path, err := s.sink.PersistUploadedFile(clientID, baseID, docID, header.Filename, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("persist upload: %w", err))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	filename := header.Filename

	doc, err := s.repo.CreateDocument(r.Context(), repository.CreateDocumentInput{
		ID:               docID,
		KnowledgeBaseID:  baseID,
		ClientID:         clientID,
		SourceType:       knowledge.SourceUpload,
		OriginalFilename: &filename,
		MimeType:         &mimeType,
		StoragePath:      &path,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.scheduleIngestion(r, doc)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleCreateTextDocument(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	baseID, err := uuid.Parse(chi.URLParam(r, "baseID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid baseID: %w", err))
		return
	}

	var payload struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	title := payload.Title
	doc, err := s.repo.CreateDocument(r.Context(), repository.CreateDocumentInput{
		KnowledgeBaseID:  baseID,
		ClientID:         clientID,
		SourceType:       knowledge.SourceText,
		OriginalFilename: &title,
		RawText:          &payload.Content,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.scheduleIngestion(r, doc)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleCreateURLDocument(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	baseID, err := uuid.Parse(chi.URLParam(r, "baseID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid baseID: %w", err))
		return
	}

	var payload struct {
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	// content_preview is not eagerly populated here; the fetched page only
	// appears once ingestion runs (spec §9 open question, pinned to the
	// original source's behavior — see DESIGN.md).
	doc, err := s.repo.CreateDocument(r.Context(), repository.CreateDocumentInput{
		KnowledgeBaseID: baseID,
		ClientID:        clientID,
		SourceType:      knowledge.SourceURL,
		SourceURL:       &payload.URL,
		ExtraMetadata:   knowledge.JSONMap{"description": payload.Description},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.scheduleIngestion(r, doc)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	baseID, err := uuid.Parse(chi.URLParam(r, "baseID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid baseID: %w", err))
		return
	}

	q := r.URL.Query()
	var status *knowledge.DocumentStatus
	if raw := q.Get("status"); raw != "" {
		parsed := knowledge.DocumentStatus(raw)
		status = &parsed
	}

	docs, total, err := s.repo.ListDocuments(r.Context(), repository.ListDocumentsInput{
		KnowledgeBaseID: baseID,
		ClientID:        clientID,
		Status:          status,
		Limit:           atoiOr(q.Get("limit"), 20),
		Offset:          atoiOr(q.Get("offset"), 0),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": total})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid documentID: %w", err))
		return
	}

	doc, err := s.repo.GetDocument(r.Context(), clientID, docID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if doc == nil {
		writeDomainError(w, knowledge.NewNotFoundError("knowledge_document", docID.String()))
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleReprocessDocument resets the document to pending, creates a new
// reprocess job, and schedules a fresh ingestion (spec §4.8: "a separate
// caller-initiated reprocess request").
func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	clientID, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid documentID: %w", err))
		return
	}

	doc, err := s.repo.GetDocument(r.Context(), clientID, docID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if doc == nil {
		writeDomainError(w, knowledge.NewNotFoundError("knowledge_document", docID.String()))
		return
	}

	if err := s.repo.TransitionDocumentStatus(r.Context(), doc, knowledge.DocumentPending, nil); err != nil {
		writeDomainError(w, err)
		return
	}

	job, err := s.repo.CreateJob(r.Context(), doc.ID, knowledge.JobReprocess, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.enqueue(doc.ID, &job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"document": doc, "job": job})
}

func (s *Server) handleApplyContext(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Config map[string]any `json:"config"`
		Query  string         `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	agent := &requestAgent{config: knowledge.JSONMap(payload.Config)}
	result, err := s.retriever.ApplyContext(r.Context(), agent, payload.Query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"text":           result.Text,
		"references":     result.References,
		"runtime_config": agent.runtimeConfig,
	})
}

// requestAgent adapts one HTTP request's config payload to retrieve.Agent.
type requestAgent struct {
	config        knowledge.JSONMap
	runtimeConfig knowledge.JSONMap
}

func (a *requestAgent) EffectiveConfig() knowledge.JSONMap {
	if a.runtimeConfig != nil {
		return a.runtimeConfig
	}
	return a.config
}

func (a *requestAgent) SetRuntimeConfig(c knowledge.JSONMap) { a.runtimeConfig = c }

func (s *Server) scheduleIngestion(r *http.Request, doc *knowledge.KnowledgeDocument) {
	job, err := s.repo.CreateJob(r.Context(), doc.ID, knowledge.JobIngest, nil)
	if err != nil {
		return
	}
	s.enqueue(doc.ID, &job.ID)
}

func (s *Server) enqueue(documentID uuid.UUID, jobID *uuid.UUID) {
	s.scheduler.Enqueue(context.Background(), func(ctx context.Context) {
		_ = s.pipeline.ProcessDocumentIngestion(ctx, documentID, jobID)
	})
}

func atoiOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *knowledge.ValidationError
	var notFoundErr *knowledge.NotFoundError
	var embedConfigErr *knowledge.EmbeddingConfigError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &embedConfigErr):
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
