// Package knowledge defines the persistent data model shared by the
// repository, ingestion pipeline, and retriever: tenants own knowledge
// bases, bases own documents, documents own chunks and jobs.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// SourceType enumerates where a KnowledgeDocument's raw content came from.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceText   SourceType = "text"
	SourceURL    SourceType = "url"
)

// Valid reports whether s is one of the recognized source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceUpload, SourceText, SourceURL:
		return true
	default:
		return false
	}
}

// DocumentStatus enumerates the document lifecycle states (spec §4.8).
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentError      DocumentStatus = "error"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentProcessing, DocumentReady, DocumentError:
		return true
	default:
		return false
	}
}

// JobType enumerates why a KnowledgeJob was created.
type JobType string

const (
	JobIngest    JobType = "ingest"
	JobReprocess JobType = "reprocess"
)

func (t JobType) Valid() bool {
	switch t {
	case JobIngest, JobReprocess:
		return true
	default:
		return false
	}
}

// JobStatus enumerates the job lifecycle states (spec §4.8).
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobCompleted, JobFailed:
		return true
	default:
		return false
	}
}

// Default chunking bounds, spec §3.
const (
	MinChunkSize    = 64
	MaxChunkSize    = 4096
	DefaultChunkSize = 512

	MinChunkOverlap    = 0
	MaxChunkOverlap    = 2048
	DefaultChunkOverlap = 128
)

// JSONMap is an opaque key-value blob, used only at the persistence
// boundary; application code should prefer the tagged accessors below
// rather than indexing into it directly (spec §9 design note).
type JSONMap map[string]any

// Clone returns a deep copy of m so that callers can mutate the result
// without affecting shared state (required by the retriever, spec §4.9).
func (m JSONMap) Clone() JSONMap {
	return deepCopyMap(m)
}

func deepCopyMap(m map[string]any) JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

// KnowledgeBase is a tenant-scoped logical grouping of documents sharing
// chunking and embedding configuration.
type KnowledgeBase struct {
	ID             uuid.UUID  `json:"id"`
	ClientID       uuid.UUID  `json:"client_id"`
	Name           string     `json:"name"`
	Description    *string    `json:"description,omitempty"`
	Language       *string    `json:"language,omitempty"`
	EmbeddingModel *string    `json:"embedding_model,omitempty"`
	ChunkSize      int        `json:"chunk_size"`
	ChunkOverlap   int        `json:"chunk_overlap"`
	IsActive       bool       `json:"is_active"`
	Config         JSONMap    `json:"config,omitempty"`
	CreatedBy      *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy      *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// EffectiveChunkOverlap returns the base's chunk_overlap normalized to at
// most half of chunk_size.
func (b KnowledgeBase) EffectiveChunkOverlap() int {
	return NormalizeOverlap(b.ChunkSize, b.ChunkOverlap)
}

// NormalizeOverlap clamps overlap to at most half of size, per spec §3's
// "normalized to ≤ chunk_size/2 at ingest time" invariant.
func NormalizeOverlap(size, overlap int) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	max := size / 2
	if overlap > max {
		return max
	}
	if overlap < 0 {
		return 0
	}
	return overlap
}

// KnowledgeDocument is a single ingestible unit within a base.
type KnowledgeDocument struct {
	ID                   uuid.UUID      `json:"id"`
	KnowledgeBaseID      uuid.UUID      `json:"knowledge_base_id"`
	ClientID             uuid.UUID      `json:"client_id"`
	SourceType           SourceType     `json:"source_type"`
	OriginalFilename     *string        `json:"original_filename,omitempty"`
	SourceURL            *string        `json:"source_url,omitempty"`
	MimeType             *string        `json:"mime_type,omitempty"`
	StoragePath          *string        `json:"storage_path,omitempty"`
	Checksum             *string        `json:"checksum,omitempty"`
	ContentPreview       *string        `json:"content_preview,omitempty"`
	ExtraMetadata        JSONMap        `json:"extra_metadata,omitempty"`
	Status               DocumentStatus `json:"status"`
	ErrorMessage         *string        `json:"error_message,omitempty"`
	CreatedBy            *uuid.UUID     `json:"created_by,omitempty"`
	UpdatedBy            *uuid.UUID     `json:"updated_by,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            *time.Time     `json:"updated_at,omitempty"`
	ProcessingStartedAt  *time.Time     `json:"processing_started_at,omitempty"`
	ProcessingFinishedAt *time.Time     `json:"processing_finished_at,omitempty"`
}

// RawText returns extra_metadata.raw_text for a text-source document.
func (d *KnowledgeDocument) RawText() string {
	if d.ExtraMetadata == nil {
		return ""
	}
	if v, ok := d.ExtraMetadata["raw_text"].(string); ok {
		return v
	}
	return ""
}

// SetRawText stamps extra_metadata.raw_text.
func (d *KnowledgeDocument) SetRawText(text string) {
	d.ensureMetadata()
	d.ExtraMetadata["raw_text"] = text
}

// SetLastProcessedAt stamps extra_metadata.last_processed_at (spec §4.8 step 10).
func (d *KnowledgeDocument) SetLastProcessedAt(t time.Time) {
	d.ensureMetadata()
	d.ExtraMetadata["last_processed_at"] = t.UTC().Format(time.RFC3339)
}

// SetLastFetchedAt stamps extra_metadata.last_fetched_at (spec §4.4, url source).
func (d *KnowledgeDocument) SetLastFetchedAt(t time.Time) {
	d.ensureMetadata()
	d.ExtraMetadata["last_fetched_at"] = t.UTC().Format(time.RFC3339)
}

func (d *KnowledgeDocument) ensureMetadata() {
	if d.ExtraMetadata == nil {
		d.ExtraMetadata = JSONMap{}
	}
}

// KnowledgeChunk is a contiguous windowed slice of a document's text,
// embedded and persisted via the vector store.
type KnowledgeChunk struct {
	ID              uuid.UUID `json:"id"`
	KnowledgeBaseID uuid.UUID `json:"knowledge_base_id"`
	DocumentID      uuid.UUID `json:"document_id"`
	ChunkIndex      int       `json:"chunk_index"`
	TokenCount      int       `json:"token_count"`
	Content         string    `json:"content"`
	ChunkMetadata   JSONMap   `json:"chunk_metadata,omitempty"`
	Embedding       []float32 `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// JobLogEntry is one ordered entry in a KnowledgeJob's log sequence.
type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Status    JobStatus `json:"status"`
}

// KnowledgeJob tracks one scheduled ingestion attempt for a document.
type KnowledgeJob struct {
	ID           uuid.UUID     `json:"id"`
	DocumentID   uuid.UUID     `json:"document_id"`
	JobType      JobType       `json:"job_type"`
	Status       JobStatus     `json:"status"`
	Attempts     int           `json:"attempts"`
	Logs         []JobLogEntry `json:"logs,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	JobMetadata  JSONMap       `json:"job_metadata,omitempty"`
	QueuedAt     time.Time     `json:"queued_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// AppendLog records a log entry with the given status.
func (j *KnowledgeJob) AppendLog(now time.Time, message string, status JobStatus) {
	j.Logs = append(j.Logs, JobLogEntry{Timestamp: now, Message: message, Status: status})
}
