package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/repository"
)

func TestCreateJob_RejectsUnknownJobType(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, err := repo.CreateJob(context.Background(), uuid.New(), "sideways", nil)
	require.Error(t, err)
	var validationErr *knowledge.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCreateJob_InsertsQueued(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO knowledge_jobs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := repo.CreateJob(context.Background(), uuid.New(), knowledge.JobIngest, nil)
	require.NoError(t, err)
	assert.Equal(t, knowledge.JobQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionJobStatus_ProcessingIncrementsAttempts(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE knowledge_jobs SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	job := &knowledge.KnowledgeJob{ID: uuid.New(), DocumentID: uuid.New(), JobType: knowledge.JobIngest, Status: knowledge.JobQueued}
	err := repo.TransitionJobStatus(context.Background(), job, knowledge.JobProcessing, "starting ingestion", nil)

	require.NoError(t, err)
	assert.Equal(t, knowledge.JobProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.Len(t, job.Logs, 1)
	assert.Equal(t, knowledge.JobProcessing, job.Logs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionJobStatus_RejectsUnknownStatus(t *testing.T) {
	repo, _ := newMockRepo(t)

	job := &knowledge.KnowledgeJob{ID: uuid.New()}
	err := repo.TransitionJobStatus(context.Background(), job, "sideways", "msg", nil)
	require.Error(t, err)
	var validationErr *knowledge.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestGetJob_NotFoundReturnsNilNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT .* FROM knowledge_jobs").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "document_id", "job_type", "status", "attempts", "logs", "error_message",
			"job_metadata", "queued_at", "started_at", "finished_at",
		}))

	job, err := repo.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, job)
}
