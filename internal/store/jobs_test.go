package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/edgemesh/coordinator/internal/apierrors"
	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobRow(jobID string, status domain.JobStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"job_id", "type", "status", "payload_ref", "assigned_node_id", "attempts", "error",
		"created_at", "updated_at", "started_at", "completed_at",
	}).AddRow(jobID, string(domain.TaskInference), string(status), nil, nil, 0, nil, now, now, nil, nil)
}

func TestCreateJob_InsertsQueuedJob(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := s.CreateJob(ctx, domain.TaskInference, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Equal(t, domain.TaskInference, job.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_RejectsInvalidType(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.CreateJob(context.Background(), domain.TaskType("BOGUS"), nil)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.Validation, apiErr.Kind)
}

func TestTransitionJobStatus_RejectsInvalidTransition(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobQueued))
	mock.ExpectRollback()

	_, err := s.TransitionJobStatus(ctx, "job-1", domain.JobCompleted, nil)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.InvalidTransition, apiErr.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

// S6 — job FSM: RUNNING -> COMPLETED is allowed and stamps completed_at,
// clearing any previously recorded error.
func TestTransitionJobStatus_RunningToCompleted(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobRunning))
	mock.ExpectExec("UPDATE jobs SET status = \\$2, attempts = \\$3, error = \\$4").
		WithArgs("job-1", string(domain.JobCompleted), 0, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobCompleted))
	mock.ExpectQuery("SELECT task_id, status, assigned_node_id, retries, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"task_id", "status", "assigned_node_id", "retries", "created_at", "started_at", "completed_at",
		}))
	mock.ExpectCommit()

	job, err := s.TransitionJobStatus(ctx, "job-1", domain.JobCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

// S6 — rejects transitioning a job that's already terminal (COMPLETED is a
// dead end except for the idempotent same-state case).
func TestTransitionJobStatus_RejectsTransitionFromTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobCompleted))
	mock.ExpectRollback()

	_, err := s.TransitionJobStatus(ctx, "job-1", domain.JobRunning, nil)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.InvalidTransition, apiErr.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}
