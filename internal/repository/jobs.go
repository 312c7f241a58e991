package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kodeai/knowledge-core/internal/knowledge"
)

// CreateJob registers a new queued job for documentID (spec §4.8: one
// job per ingest/reprocess attempt).
func (r *Repository) CreateJob(ctx context.Context, documentID uuid.UUID, jobType knowledge.JobType, metadata knowledge.JSONMap) (*knowledge.KnowledgeJob, error) {
	if !jobType.Valid() {
		return nil, knowledge.NewValidationError("job_type", "must be one of ingest, reprocess")
	}

	job := &knowledge.KnowledgeJob{
		ID:          uuid.New(),
		DocumentID:  documentID,
		JobType:     jobType,
		Status:      knowledge.JobQueued,
		JobMetadata: metadata,
		QueuedAt:    now(),
	}

	if err := r.insertJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Repository) insertJob(ctx context.Context, job *knowledge.KnowledgeJob) error {
	logsJSON, err := marshalLogs(job.Logs)
	if err != nil {
		return fmt.Errorf("marshal job logs: %w", err)
	}
	metaJSON, err := marshalJSON(job.JobMetadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO knowledge_jobs
			(id, document_id, job_type, status, attempts, logs, error_message, job_metadata, queued_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, job.ID, job.DocumentID, job.JobType, job.Status, job.Attempts, logsJSON, job.ErrorMessage, metaJSON,
		job.QueuedAt, job.StartedAt, job.FinishedAt)
	if err != nil {
		return knowledge.NewVectorStoreError("insert knowledge job", err)
	}
	return nil
}

// GetJob fetches a job by id. Jobs are not themselves tenant-scoped;
// callers that need tenant isolation join through the owning document.
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*knowledge.KnowledgeJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, document_id, job_type, status, attempts, logs, error_message, job_metadata, queued_at, started_at, finished_at
		FROM knowledge_jobs
		WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// ListJobsForDocument returns every job queued against documentID, most
// recent first.
func (r *Repository) ListJobsForDocument(ctx context.Context, documentID uuid.UUID) ([]knowledge.KnowledgeJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, job_type, status, attempts, logs, error_message, job_metadata, queued_at, started_at, finished_at
		FROM knowledge_jobs
		WHERE document_id = $1
		ORDER BY queued_at DESC
	`, documentID)
	if err != nil {
		return nil, knowledge.NewVectorStoreError("list knowledge jobs", err)
	}
	defer rows.Close()

	var jobs []knowledge.KnowledgeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, knowledge.NewVectorStoreError("iterate knowledge jobs", err)
	}
	return jobs, nil
}

// UpdateJob persists the full current state of job.
func (r *Repository) UpdateJob(ctx context.Context, job *knowledge.KnowledgeJob) error {
	logsJSON, err := marshalLogs(job.Logs)
	if err != nil {
		return fmt.Errorf("marshal job logs: %w", err)
	}
	metaJSON, err := marshalJSON(job.JobMetadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE knowledge_jobs SET
			status = $1, attempts = $2, logs = $3, error_message = $4, job_metadata = $5,
			started_at = $6, finished_at = $7
		WHERE id = $8
	`, job.Status, job.Attempts, logsJSON, job.ErrorMessage, metaJSON, job.StartedAt, job.FinishedAt, job.ID)
	if err != nil {
		return knowledge.NewVectorStoreError("update knowledge job", err)
	}
	if tag.RowsAffected() == 0 {
		return knowledge.NewNotFoundError("knowledge_job", job.ID.String())
	}
	return nil
}

// TransitionJobStatus moves job to status, appending a log entry and, on
// the queued->processing edge, incrementing attempts and stamping
// started_at (spec §4.8).
func (r *Repository) TransitionJobStatus(ctx context.Context, job *knowledge.KnowledgeJob, status knowledge.JobStatus, message string, errMsg *string) error {
	if !status.Valid() {
		return knowledge.NewValidationError("status", "must be one of queued, processing, completed, failed")
	}

	t := now()
	job.Status = status
	job.ErrorMessage = errMsg
	job.AppendLog(t, message, status)

	switch status {
	case knowledge.JobProcessing:
		job.Attempts++
		job.StartedAt = &t
	case knowledge.JobCompleted, knowledge.JobFailed:
		job.FinishedAt = &t
	}

	return r.UpdateJob(ctx, job)
}

func marshalLogs(logs []knowledge.JobLogEntry) ([]byte, error) {
	if logs == nil {
		logs = []knowledge.JobLogEntry{}
	}
	type entry struct {
		Timestamp string `json:"timestamp"`
		Message   string `json:"message"`
		Status    string `json:"status"`
	}
	out := make([]entry, 0, len(logs))
	for _, l := range logs {
		out = append(out, entry{
			Timestamp: l.Timestamp.UTC().Format(time.RFC3339Nano),
			Message:   l.Message,
			Status:    string(l.Status),
		})
	}
	return json.Marshal(out)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func unmarshalLogs(data []byte) ([]knowledge.JobLogEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	type entry struct {
		Timestamp string `json:"timestamp"`
		Message   string `json:"message"`
		Status    string `json:"status"`
	}
	var raw []entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	logs := make([]knowledge.JobLogEntry, 0, len(raw))
	for _, e := range raw {
		ts, err := parseTimestamp(e.Timestamp)
		if err != nil {
			return nil, err
		}
		logs = append(logs, knowledge.JobLogEntry{
			Timestamp: ts,
			Message:   e.Message,
			Status:    knowledge.JobStatus(e.Status),
		})
	}
	return logs, nil
}

func scanJob(row rowScanner) (*knowledge.KnowledgeJob, error) {
	var (
		job      knowledge.KnowledgeJob
		logsJSON []byte
		metaJSON []byte
	)

	if err := row.Scan(
		&job.ID, &job.DocumentID, &job.JobType, &job.Status, &job.Attempts, &logsJSON, &job.ErrorMessage,
		&metaJSON, &job.QueuedAt, &job.StartedAt, &job.FinishedAt,
	); err != nil {
		return nil, knowledge.NewVectorStoreError("scan knowledge job", err)
	}

	logs, err := unmarshalLogs(logsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal job logs: %w", err)
	}
	job.Logs = logs

	meta, err := unmarshalJSON(metaJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal job metadata: %w", err)
	}
	job.JobMetadata = meta

	return &job, nil
}
