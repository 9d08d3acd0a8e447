package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/edgemesh/coordinator/internal/apierrors"
	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/scheduler"
)

func (s *Store) scanTask(ctx context.Context, q querier, taskID string) (*domain.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries,
		       lease_expires_at, error, created_at, updated_at, started_at, completed_at
		FROM tasks WHERE task_id = $1`, taskID)
	return scanTaskRow(row.Scan, taskID)
}

// scanTaskRow centralizes the Scan call shape so both *sql.Row and
// iteration loops over *sql.Rows build a domain.Task identically.
func scanTaskRow(scan func(dest ...interface{}) error, taskID string) (*domain.Task, error) {
	var t domain.Task
	var payloadJSON []byte
	var leaseExpiresAt, startedAt, completedAt sql.NullTime

	if err := scan(&t.TaskID, &t.JobID, &t.Type, &payloadJSON, &t.Status, &t.AssignedNodeID, &t.Retries,
		&t.MaxRetries, &leaseExpiresAt, &t.Error, &t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.NewNotFound("task", taskID)
		}
		return nil, apierrors.NewInternal("scan task", err)
	}

	if err := unmarshalJSON(payloadJSON, &t.Payload); err != nil {
		return nil, apierrors.NewInternal("unmarshal task payload", err)
	}
	if leaseExpiresAt.Valid {
		t.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.scanTask(ctx, s.db, taskID)
}

// ListTasksByJob returns every task belonging to a job, ordered by
// creation time, backing GET /v1/jobs/{id}/tasks.
func (s *Store) ListTasksByJob(ctx context.Context, jobID string) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries,
		       lease_expires_at, error, created_at, updated_at, started_at, completed_at
		FROM tasks WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, apierrors.NewInternal("list tasks by job", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTaskRow(rows.Scan, "")
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// PullTaskForNode implements pull_task_for_node (spec §4.4): expires stale
// leases inline, then picks the maximum-weighted eligible QUEUED task for
// the node, where weighted = score_node + age bonus. Returns (nil, nil)
// when no eligible task exists.
func (s *Store) PullTaskForNode(ctx context.Context, nodeID string, leaseSeconds int) (*domain.Task, error) {
	var result *domain.Task

	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			if err := s.recoverStaleTasksTx(ctx, tx); err != nil {
				return err
			}

			node, err := s.scanNode(ctx, tx, nodeID)
			if err != nil {
				if e, ok := apierrors.As(err); ok && e.Kind == apierrors.NotFound {
					return nil
				}
				return err
			}

			rows, err := tx.QueryContext(ctx, `
				SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries,
				       lease_expires_at, error, created_at, updated_at, started_at, completed_at
				FROM tasks WHERE status = $1 ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED`, domain.TaskQueued)
			if err != nil {
				return apierrors.NewInternal("select queued tasks", err)
			}

			var candidates []*domain.Task
			for rows.Next() {
				task, err := scanTaskRow(rows.Scan, "")
				if err != nil {
					rows.Close()
					return err
				}
				candidates = append(candidates, task)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return apierrors.NewInternal("iterate queued tasks", err)
			}

			now := time.Now().UTC()
			var best *domain.Task
			var bestWeight float64

			for _, task := range candidates {
				eligible, _ := scheduler.EvaluateEligibility(*node, task.Type)
				if !eligible {
					continue
				}
				ageBonus := now.Sub(task.CreatedAt).Seconds() / 30
				if ageBonus < 0 {
					ageBonus = 0
				}
				weight := scheduler.ScoreNode(*node, task.Type) + ageBonus

				if best == nil || weight > bestWeight {
					best = task
					bestWeight = weight
				}
			}

			if best == nil {
				return nil
			}

			lease := now.Add(time.Duration(leaseSeconds) * time.Second)
			startedAt := best.StartedAt
			if startedAt == nil {
				startedAt = &now
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE tasks SET status = $2, assigned_node_id = $3, lease_expires_at = $4,
				       started_at = $5, updated_at = $6
				WHERE task_id = $1`,
				best.TaskID, domain.TaskRunning, nodeID, lease, startedAt, now)
			if err != nil {
				return apierrors.NewInternal("assign task", err)
			}

			if err := s.promoteJobToRunning(ctx, tx, best.JobID, nodeID, startedAt); err != nil {
				return err
			}
			if err := s.refreshJobDerivedState(ctx, tx, best.JobID); err != nil {
				return err
			}

			updated, err := s.scanTask(ctx, tx, best.TaskID)
			if err != nil {
				return err
			}
			result = updated
			return nil
		})
	})

	return result, err
}

// promoteJobToRunning implements step 8 of pull_task_for_node: the parent
// job is promoted to RUNNING with its assignment/start recorded, ahead of
// the general derived-state refresh that follows.
func (s *Store) promoteJobToRunning(ctx context.Context, tx *sql.Tx, jobID, nodeID string, startedAt *time.Time) error {
	job, err := s.scanJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobQueued {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = $2, assigned_node_id = $3, started_at = $4, updated_at = $5
			WHERE job_id = $1`,
			jobID, domain.JobRunning, nodeID, startedAt, now)
		if err != nil {
			return apierrors.NewInternal("promote job to running", err)
		}
	}
	return nil
}

// SubmitTaskResult implements submit_task_result (spec §4.4).
func (s *Store) SubmitTaskResult(ctx context.Context, result domain.Result) (*domain.Task, *domain.Job, error) {
	if err := result.Validate(); err != nil {
		return nil, nil, apierrors.NewValidation(err.Error())
	}

	var resultTask *domain.Task
	var resultJob *domain.Job

	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			task, err := s.scanTask(ctx, tx, result.TaskID)
			if err != nil {
				return err
			}

			if task.AssignedNodeID != nil && *task.AssignedNodeID != result.NodeID {
				return apierrors.NewAssignmentMismatch(task.TaskID, result.NodeID)
			}
			if task.Status != domain.TaskRunning && task.Status != domain.TaskQueued {
				return apierrors.NewNotExecutable(task.TaskID, string(task.Status))
			}

			outputJSON, err := marshalJSON(result.Output)
			if err != nil {
				return apierrors.NewInternal("marshal result output", err)
			}
			now := time.Now().UTC()
			_, err = tx.ExecContext(ctx, `
				INSERT INTO results (task_id, node_id, success, output, duration_ms, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				result.TaskID, result.NodeID, result.Success, outputJSON, result.DurationMs, now)
			if err != nil {
				return apierrors.NewInternal("insert result", err)
			}

			if err := s.applyTaskOutcome(ctx, tx, task, result.Success, "Task execution failed; requeued", "Task failed after max retries", now); err != nil {
				return err
			}

			if err := s.refreshJobDerivedState(ctx, tx, task.JobID); err != nil {
				return err
			}

			updatedTask, err := s.scanTask(ctx, tx, task.TaskID)
			if err != nil {
				return err
			}
			updatedJob, err := s.scanJob(ctx, tx, task.JobID)
			if err != nil {
				return err
			}
			stats, err := s.computeJobStats(ctx, tx, task.JobID)
			if err != nil {
				return err
			}
			updatedJob.Stats = *stats

			resultTask = updatedTask
			resultJob = updatedJob
			return nil
		})
	})

	return resultTask, resultJob, err
}

// applyTaskOutcome implements the shared success/failure branch used by
// both submit_task_result (step 6-7) and lease recovery (which reuses "the
// same retry/fail branch").
func (s *Store) applyTaskOutcome(ctx context.Context, tx *sql.Tx, task *domain.Task, success bool, requeueMsg, failMsg string, now time.Time) error {
	if success {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = $2, lease_expires_at = NULL, completed_at = $3, error = NULL, updated_at = $4
			WHERE task_id = $1`,
			task.TaskID, domain.TaskCompleted, now, now)
		if err != nil {
			return apierrors.NewInternal("complete task", err)
		}
		return nil
	}

	retries := task.Retries + 1
	if retries > task.MaxRetries {
		msg := failMsg
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = $2, retries = $3, lease_expires_at = NULL, completed_at = $4, error = $5, updated_at = $6
			WHERE task_id = $1`,
			task.TaskID, domain.TaskFailed, retries, now, msg, now)
		if err != nil {
			return apierrors.NewInternal("fail task", err)
		}
		return nil
	}

	msg := requeueMsg
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $2, retries = $3, assigned_node_id = NULL, lease_expires_at = NULL, error = $4, updated_at = $5
		WHERE task_id = $1`,
		task.TaskID, domain.TaskQueued, retries, msg, now)
	if err != nil {
		return apierrors.NewInternal("requeue task", err)
	}
	return nil
}

// RecoverStaleTasks implements recover_stale_tasks (spec §4.4) as a
// standalone operation for the liveness monitor's fixed-cadence cycle.
func (s *Store) RecoverStaleTasks(ctx context.Context) ([]*domain.Task, error) {
	var recovered []*domain.Task
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			tasks, err := s.recoverStaleTasksTxCollect(ctx, tx)
			if err != nil {
				return err
			}
			recovered = tasks
			return nil
		})
	})
	return recovered, err
}

// recoverStaleTasksTx is the inline variant invoked as step 1 of
// pull_task_for_node; it discards the list of recovered tasks since the
// caller only needs the side effect.
func (s *Store) recoverStaleTasksTx(ctx context.Context, tx *sql.Tx) error {
	_, err := s.recoverStaleTasksTxCollect(ctx, tx)
	return err
}

func (s *Store) recoverStaleTasksTxCollect(ctx context.Context, tx *sql.Tx) ([]*domain.Task, error) {
	now := time.Now().UTC()

	rows, err := tx.QueryContext(ctx, `
		SELECT task_id, job_id, type, payload, status, assigned_node_id, retries, max_retries,
		       lease_expires_at, error, created_at, updated_at, started_at, completed_at
		FROM tasks WHERE status = $1 AND lease_expires_at IS NOT NULL AND lease_expires_at < $2
		FOR UPDATE`, domain.TaskRunning, now)
	if err != nil {
		return nil, apierrors.NewInternal("select expired-lease tasks", err)
	}

	var stale []*domain.Task
	for rows.Next() {
		task, err := scanTaskRow(rows.Scan, "")
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apierrors.NewInternal("iterate expired-lease tasks", err)
	}

	jobsTouched := map[string]bool{}
	var recovered []*domain.Task

	for _, task := range stale {
		if err := s.applyTaskOutcome(ctx, tx, task, false, "Task lease expired", "Task lease expired", now); err != nil {
			return nil, err
		}
		updated, err := s.scanTask(ctx, tx, task.TaskID)
		if err != nil {
			return nil, err
		}
		recovered = append(recovered, updated)
		jobsTouched[task.JobID] = true
	}

	for jobID := range jobsTouched {
		if err := s.refreshJobDerivedState(ctx, tx, jobID); err != nil {
			return nil, err
		}
	}

	return recovered, nil
}
