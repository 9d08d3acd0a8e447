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

func eligibleNodeRow(nodeID string) *sqlmock.Rows {
	now := time.Now().UTC()
	policy := []byte(`{"enabled":true,"cpu_cap_percent":100,"ram_cap_percent":100,"task_allowlist":["INFERENCE","EMBEDDINGS","PREPROCESS"],"role_preference":"AUTO"}`)
	return sqlmock.NewRows([]string{
		"node_id", "display_name", "ip", "port", "capabilities", "metrics", "policy",
		"status", "last_seen", "created_at", "updated_at",
	}).AddRow(nodeID, "Node One", "10.0.0.5", 9000, []byte(`{"cpu_threads":8}`), []byte(`{}`), policy,
		string(domain.NodeOnline), now, now, now)
}

func taskRows(cols ...[]interface{}) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"task_id", "job_id", "type", "payload", "status", "assigned_node_id", "retries", "max_retries",
		"lease_expires_at", "error", "created_at", "updated_at", "started_at", "completed_at",
	})
	for _, c := range cols {
		rows.AddRow(c...)
	}
	return rows
}

// S3 — pull_task_for_node assigns the sole eligible QUEUED task to the
// requesting node and promotes the parent job to RUNNING.
func TestPullTaskForNode_AssignsEligibleTask(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	nodeID := "node-1"

	mock.ExpectBegin()
	mock.ExpectQuery("FROM tasks WHERE status = \\$1 AND lease_expires_at IS NOT NULL").
		WithArgs(string(domain.TaskRunning), sqlmock.AnyArg()).
		WillReturnRows(taskRows())
	mock.ExpectQuery("SELECT node_id, display_name, ip, port, capabilities, metrics, policy, status, last_seen, created_at, updated_at\\s+FROM nodes WHERE node_id = \\$1").
		WithArgs(nodeID).
		WillReturnRows(eligibleNodeRow(nodeID))
	mock.ExpectQuery("FROM tasks WHERE status = \\$1 ORDER BY created_at ASC").
		WithArgs(string(domain.TaskQueued)).
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskQueued),
			nil, 0, 1, nil, nil, now.Add(-time.Minute), now.Add(-time.Minute), nil, nil,
		}))
	mock.ExpectExec("UPDATE tasks SET status = \\$2, assigned_node_id = \\$3, lease_expires_at = \\$4").
		WithArgs("task-1", string(domain.TaskRunning), nodeID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobQueued))
	mock.ExpectExec("UPDATE jobs SET status = \\$2, assigned_node_id = \\$3, started_at = \\$4").
		WithArgs("job-1", string(domain.JobRunning), nodeID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status, assigned_node_id, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "assigned_node_id", "created_at", "started_at", "completed_at"}).
			AddRow(string(domain.TaskRunning), &nodeID, now, now, nil))
	mock.ExpectExec("UPDATE jobs SET status = \\$2, assigned_node_id = \\$3, started_at = \\$4,").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskRunning),
			&nodeID, 0, 1, now.Add(time.Minute), nil, now.Add(-time.Minute), now, now, nil,
		}))
	mock.ExpectCommit()

	task, err := s.PullTaskForNode(ctx, nodeID, 60)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, domain.TaskRunning, task.Status)
	assert.Equal(t, nodeID, *task.AssignedNodeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// S3 — pull_task_for_node returns (nil, nil) when no QUEUED task is
// eligible for the node (here: the only task's type isn't on the
// allowlist).
func TestPullTaskForNode_NoEligibleTaskReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM tasks WHERE status = \\$1 AND lease_expires_at IS NOT NULL").
		WithArgs(string(domain.TaskRunning), sqlmock.AnyArg()).
		WillReturnRows(taskRows())
	mock.ExpectQuery("SELECT node_id, display_name, ip, port, capabilities, metrics, policy, status, last_seen, created_at, updated_at\\s+FROM nodes WHERE node_id = \\$1").
		WithArgs("node-1").
		WillReturnRows(eligibleNodeRow("node-1"))
	mock.ExpectQuery("FROM tasks WHERE status = \\$1 ORDER BY created_at ASC").
		WithArgs(string(domain.TaskQueued)).
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskIndex), []byte(`{}`), string(domain.TaskQueued),
			nil, 0, 1, nil, nil, now, now, nil, nil,
		}))
	mock.ExpectCommit()

	task, err := s.PullTaskForNode(ctx, "node-1", 60)
	require.NoError(t, err)
	assert.Nil(t, task)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitTaskResult_AssignmentMismatch(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	nodeID := "node-a"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskRunning),
			&nodeID, 0, 1, now.Add(time.Minute), nil, now, now, now, nil,
		}))
	mock.ExpectRollback()

	_, _, err := s.SubmitTaskResult(ctx, domain.Result{TaskID: "task-1", NodeID: "node-b", Success: true})
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.AssignmentMismatch, apiErr.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitTaskResult_RequiresTaskIDAndNodeID(t *testing.T) {
	s, _ := newMockStore(t)
	_, _, err := s.SubmitTaskResult(context.Background(), domain.Result{})
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.Validation, apiErr.Kind)
}

// S3 — submit_task_result on success completes the task and, once every
// sibling task is COMPLETED, derives the parent job to COMPLETED too.
func TestSubmitTaskResult_Success_CompletesTaskAndJob(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	nodeID := "node-a"
	lease := now.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskRunning),
			&nodeID, 0, 1, lease, nil, now, now, now, nil,
		}))
	mock.ExpectExec("INSERT INTO results").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks SET status = \\$2, lease_expires_at = NULL").
		WithArgs("task-1", string(domain.TaskCompleted), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status, assigned_node_id, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "assigned_node_id", "created_at", "started_at", "completed_at"}).
			AddRow(string(domain.TaskCompleted), &nodeID, now, now, now))
	mock.ExpectExec("UPDATE jobs SET status = \\$2, assigned_node_id = \\$3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskCompleted),
			&nodeID, 0, 1, nil, nil, now, now, now, now,
		}))
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobCompleted))
	mock.ExpectQuery("SELECT task_id, status, assigned_node_id, retries, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"task_id", "status", "assigned_node_id", "retries", "created_at", "started_at", "completed_at",
		}).AddRow("task-1", string(domain.TaskCompleted), &nodeID, 0, now, now, now))
	mock.ExpectQuery("SELECT AVG\\(duration_ms\\)").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(1500.0))
	mock.ExpectCommit()

	task, job, err := s.SubmitTaskResult(ctx, domain.Result{TaskID: "task-1", NodeID: "node-a", Success: true, DurationMs: 1500})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 1, job.Stats.CompletedTasks)
	require.NotNil(t, job.Stats.ThroughputPerMinute)
	require.NoError(t, mock.ExpectationsWereMet())
}

// S4 — submit_task_result on failure requeues the task while retries
// remain (the fail-at-max_retries branch is covered by the next test).
func TestSubmitTaskResult_Failure_RequeuesUnderMaxRetries(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	nodeID := "node-a"
	lease := now.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskRunning),
			&nodeID, 0, 2, lease, nil, now, now, now, nil,
		}))
	mock.ExpectExec("INSERT INTO results").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks SET status = \\$2, retries = \\$3, assigned_node_id = NULL").
		WithArgs("task-1", string(domain.TaskQueued), 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status, assigned_node_id, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "assigned_node_id", "created_at", "started_at", "completed_at"}).
			AddRow(string(domain.TaskQueued), nil, now, now, nil))
	mock.ExpectExec("UPDATE jobs SET status = \\$2, assigned_node_id = \\$3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskQueued),
			nil, 1, 2, nil, "Task execution failed; requeued", now, now, now, nil,
		}))
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobRunning))
	mock.ExpectQuery("SELECT task_id, status, assigned_node_id, retries, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"task_id", "status", "assigned_node_id", "retries", "created_at", "started_at", "completed_at",
		}).AddRow("task-1", string(domain.TaskQueued), nil, 1, now, now, nil))
	mock.ExpectQuery("SELECT AVG\\(duration_ms\\)").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))
	mock.ExpectCommit()

	task, job, err := s.SubmitTaskResult(ctx, domain.Result{TaskID: "task-1", NodeID: "node-a", Success: false})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, task.Status)
	assert.Equal(t, 1, task.Retries)
	assert.Equal(t, domain.JobRunning, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitTaskResult_Failure_FailsTaskAtMaxRetries(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	nodeID := "node-a"
	lease := now.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskRunning),
			&nodeID, 1, 1, lease, nil, now, now, now, nil,
		}))
	mock.ExpectExec("INSERT INTO results").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks SET status = \\$2, retries = \\$3, lease_expires_at = NULL").
		WithArgs("task-1", string(domain.TaskFailed), 2, sqlmock.AnyArg(), "Task failed after max retries", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status, assigned_node_id, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "assigned_node_id", "created_at", "started_at", "completed_at"}).
			AddRow(string(domain.TaskFailed), &nodeID, now, now, now))
	mock.ExpectExec("UPDATE jobs SET status = \\$2, assigned_node_id = \\$3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskFailed),
			&nodeID, 2, 1, nil, "Task failed after max retries", now, now, now, now,
		}))
	mock.ExpectQuery("SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.JobFailed))
	mock.ExpectQuery("SELECT task_id, status, assigned_node_id, retries, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"task_id", "status", "assigned_node_id", "retries", "created_at", "started_at", "completed_at",
		}).AddRow("task-1", string(domain.TaskFailed), &nodeID, 2, now, now, now))
	mock.ExpectQuery("SELECT AVG\\(duration_ms\\)").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))
	mock.ExpectCommit()

	task, job, err := s.SubmitTaskResult(ctx, domain.Result{TaskID: "task-1", NodeID: "node-a", Success: false})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, task.Status)
	assert.Equal(t, 2, task.Retries)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, 1, job.Stats.FailedTasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

// S5 — lease expiry recovery: a RUNNING task whose lease has passed is
// requeued by RecoverStaleTasks, reusing the same retry/fail branch as
// submit_task_result.
func TestRecoverStaleTasks_RequeuesExpiredLease(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	nodeID := "node-a"
	expiredLease := now.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM tasks WHERE status = \\$1 AND lease_expires_at IS NOT NULL").
		WithArgs(string(domain.TaskRunning), sqlmock.AnyArg()).
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskRunning),
			&nodeID, 0, 1, expiredLease, nil, now, now, now, nil,
		}))
	mock.ExpectExec("UPDATE tasks SET status = \\$2, retries = \\$3, assigned_node_id = NULL").
		WithArgs("task-1", string(domain.TaskQueued), 1, "Task lease expired", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries").
		WithArgs("task-1").
		WillReturnRows(taskRows([]interface{}{
			"task-1", "job-1", string(domain.TaskInference), []byte(`{}`), string(domain.TaskQueued),
			nil, 1, 1, nil, "Task lease expired", now, now, now, nil,
		}))
	mock.ExpectQuery("SELECT status, assigned_node_id, created_at, started_at, completed_at").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "assigned_node_id", "created_at", "started_at", "completed_at"}).
			AddRow(string(domain.TaskQueued), nil, now, now, nil))
	mock.ExpectExec("UPDATE jobs SET status = \\$2, assigned_node_id = \\$3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recovered, err := s.RecoverStaleTasks(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, domain.TaskQueued, recovered[0].Status)
	assert.Equal(t, 1, recovered[0].Retries)
	require.NoError(t, mock.ExpectationsWereMet())
}
