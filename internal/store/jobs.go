package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/edgemesh/coordinator/internal/apierrors"
	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/google/uuid"
)

// CreateJob implements create_job (spec §4.1): inserts a job in QUEUED with
// a freshly generated UUID as its id.
func (s *Store) CreateJob(ctx context.Context, jobType domain.TaskType, payloadRef *string) (*domain.Job, error) {
	if !jobType.Valid() {
		return nil, apierrors.NewValidation(fmt.Sprintf("invalid job type %q", jobType))
	}

	var result *domain.Job
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			now := time.Now().UTC()
			job := &domain.Job{
				JobID:      uuid.NewString(),
				Type:       jobType,
				Status:     domain.JobQueued,
				PayloadRef: payloadRef,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO jobs (job_id, type, status, payload_ref, attempts, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 0, $5, $6)`,
				job.JobID, job.Type, job.Status, job.PayloadRef, job.CreatedAt, job.UpdatedAt)
			if err != nil {
				return apierrors.NewInternal("insert job", err)
			}

			result = job
			return nil
		})
	})
	return result, err
}

func (s *Store) scanJob(ctx context.Context, q querier, jobID string) (*domain.Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error,
		       created_at, updated_at, started_at, completed_at
		FROM jobs WHERE job_id = $1`, jobID)

	var j domain.Job
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&j.JobID, &j.Type, &j.Status, &j.PayloadRef, &j.AssignedNodeID, &j.Attempts, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.NewNotFound("job", jobID)
		}
		return nil, apierrors.NewInternal("scan job", err)
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return &j, nil
}

// GetJob implements get_job, returning the job with freshly derived stats.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.scanJob(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	stats, err := s.computeJobStats(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	job.Stats = *stats
	return job, nil
}

// JobFilter narrows list_jobs by optional criteria (spec §4.1).
type JobFilter struct {
	Status   *domain.JobStatus
	TaskType *domain.TaskType
	NodeID   *string
}

// ListJobs implements list_jobs(status?, task_type?, node_id?).
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `
		SELECT job_id, type, status, payload_ref, assigned_node_id, attempts, error,
		       created_at, updated_at, started_at, completed_at
		FROM jobs WHERE 1=1`
	var args []interface{}
	argN := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, *filter.Status)
		argN++
	}
	if filter.TaskType != nil {
		query += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, *filter.TaskType)
		argN++
	}
	if filter.NodeID != nil {
		query += fmt.Sprintf(" AND assigned_node_id = $%d", argN)
		args = append(args, *filter.NodeID)
		argN++
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierrors.NewInternal("list jobs", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var j domain.Job
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&j.JobID, &j.Type, &j.Status, &j.PayloadRef, &j.AssignedNodeID, &j.Attempts, &j.Error,
			&j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt); err != nil {
			return nil, apierrors.NewInternal("scan job row", err)
		}
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			j.CompletedAt = &completedAt.Time
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.NewInternal("iterate jobs", err)
	}

	for _, j := range jobs {
		stats, err := s.computeJobStats(ctx, s.db, j.JobID)
		if err != nil {
			return nil, err
		}
		j.Stats = *stats
	}
	return jobs, nil
}

// AssignJob implements assign_job(id, node_id?): sets or clears a job's
// assigned_node_id directly, independent of task-driven derivation.
func (s *Store) AssignJob(ctx context.Context, jobID string, nodeID *string) (*domain.Job, error) {
	var result *domain.Job
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.scanJob(ctx, tx, jobID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE jobs SET assigned_node_id = $2, updated_at = $3 WHERE job_id = $1`,
				jobID, nodeID, time.Now().UTC())
			if err != nil {
				return apierrors.NewInternal("assign job", err)
			}
			j, err := s.scanJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			stats, err := s.computeJobStats(ctx, tx, jobID)
			if err != nil {
				return err
			}
			j.Stats = *stats
			result = j
			return nil
		})
	})
	return result, err
}

// TransitionJobStatus implements transition_job_status(id, new, error?)
// (spec §4.3): the manual FSM entry point, retained verbatim per the
// documented override — it does not reconcile against derived aggregates.
func (s *Store) TransitionJobStatus(ctx context.Context, jobID string, newStatus domain.JobStatus, errMsg *string) (*domain.Job, error) {
	var result *domain.Job
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			job, err := s.scanJob(ctx, tx, jobID)
			if err != nil {
				return err
			}

			if !domain.AllowedJobTransition(job.Status, newStatus) {
				return apierrors.NewInvalidTransition(string(job.Status), string(newStatus))
			}

			now := time.Now().UTC()
			startedAt := job.StartedAt
			completedAt := job.CompletedAt
			attempts := job.Attempts
			var finalErr *string

			switch {
			case job.Status == newStatus:
				if errMsg != nil {
					finalErr = errMsg
				} else {
					finalErr = job.Error
				}
			case newStatus == domain.JobRunning:
				if startedAt == nil {
					startedAt = &now
				}
				attempts++
				finalErr = nil
			case newStatus == domain.JobCompleted:
				completedAt = &now
				finalErr = nil
			case newStatus == domain.JobFailed:
				completedAt = &now
				switch {
				case errMsg != nil:
					finalErr = errMsg
				case job.Error != nil:
					finalErr = job.Error
				default:
					msg := "Job failed"
					finalErr = &msg
				}
			default:
				finalErr = errMsg
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET status = $2, attempts = $3, error = $4, started_at = $5,
				       completed_at = $6, updated_at = $7
				WHERE job_id = $1`,
				jobID, newStatus, attempts, finalErr, startedAt, completedAt, now)
			if err != nil {
				return apierrors.NewInternal("transition job status", err)
			}

			j, err := s.scanJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			stats, err := s.computeJobStats(ctx, tx, jobID)
			if err != nil {
				return err
			}
			j.Stats = *stats
			result = j
			return nil
		})
	})
	return result, err
}

// CreateTasks implements create_tasks(job_id, type, payloads[], max_retries):
// atomically inserts N tasks in QUEUED, then refreshes the parent job.
func (s *Store) CreateTasks(ctx context.Context, jobID string, taskType domain.TaskType, payloads []domain.JSONMap, maxRetries int) ([]*domain.Task, error) {
	if !taskType.Valid() {
		return nil, apierrors.NewValidation(fmt.Sprintf("invalid task type %q", taskType))
	}

	var created []*domain.Task
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.scanJob(ctx, tx, jobID); err != nil {
				return err
			}

			now := time.Now().UTC()
			for _, payload := range payloads {
				task := &domain.Task{
					TaskID:     uuid.NewString(),
					JobID:      jobID,
					Type:       taskType,
					Payload:    payload,
					Status:     domain.TaskQueued,
					MaxRetries: maxRetries,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				payloadJSON, err := marshalJSON(task.Payload)
				if err != nil {
					return apierrors.NewInternal("marshal task payload", err)
				}
				_, err = tx.ExecContext(ctx, `
					INSERT INTO tasks (task_id, job_id, type, payload, status, retries, max_retries, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)`,
					task.TaskID, task.JobID, task.Type, payloadJSON, task.Status, task.MaxRetries, task.CreatedAt, task.UpdatedAt)
				if err != nil {
					return apierrors.NewInternal("insert task", err)
				}
				created = append(created, task)
			}

			return s.refreshJobDerivedState(ctx, tx, jobID)
		})
	})
	return created, err
}

// computeJobStats scans a job's tasks and results to build its derived
// aggregates, per spec §4.1's "Derived job aggregation" paragraph.
func (s *Store) computeJobStats(ctx context.Context, q querier, jobID string) (*domain.JobStats, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT task_id, status, assigned_node_id, retries, created_at, started_at, completed_at
		FROM tasks WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, apierrors.NewInternal("select job tasks", err)
	}

	var taskIDs []string
	var statuses []domain.TaskStatus
	nodeSet := map[string]bool{}
	totalRetries := 0
	var earliestStart, latestComplete *time.Time

	for rows.Next() {
		var taskID string
		var status domain.TaskStatus
		var assignedNodeID sql.NullString
		var retries int
		var createdAt time.Time
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(&taskID, &status, &assignedNodeID, &retries, &createdAt, &startedAt, &completedAt); err != nil {
			rows.Close()
			return nil, apierrors.NewInternal("scan job task row", err)
		}

		taskIDs = append(taskIDs, taskID)
		statuses = append(statuses, status)
		totalRetries += retries
		if assignedNodeID.Valid && assignedNodeID.String != "" {
			nodeSet[assignedNodeID.String] = true
		}
		if startedAt.Valid && (earliestStart == nil || startedAt.Time.Before(*earliestStart)) {
			t := startedAt.Time
			earliestStart = &t
		}
		if completedAt.Valid && (latestComplete == nil || completedAt.Time.After(*latestComplete)) {
			t := completedAt.Time
			latestComplete = &t
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apierrors.NewInternal("iterate job tasks", err)
	}

	counts := countTaskStatuses(statuses)
	stats := &domain.JobStats{
		TotalTasks:     counts.Total,
		QueuedTasks:    counts.Queued,
		RunningTasks:   counts.Running,
		CompletedTasks: counts.Completed,
		FailedTasks:    counts.Failed,
		TotalRetries:   totalRetries,
	}

	for node := range nodeSet {
		stats.AssignedNodes = append(stats.AssignedNodes, node)
	}
	sort.Strings(stats.AssignedNodes)

	if len(taskIDs) > 0 {
		avg, err := s.avgTaskDuration(ctx, q, taskIDs)
		if err != nil {
			return nil, err
		}
		stats.AvgTaskDurationMs = avg
	}

	if stats.CompletedTasks > 0 && earliestStart != nil {
		elapsedMinutes := time.Since(*earliestStart).Minutes()
		if elapsedMinutes < minThroughputWindowMinutes {
			elapsedMinutes = minThroughputWindowMinutes
		}
		throughput := round3(float64(stats.CompletedTasks) / elapsedMinutes)
		stats.ThroughputPerMinute = &throughput
	}
	_ = latestComplete
	return stats, nil
}

// minThroughputWindowMinutes floors the elapsed-time divisor for a job's
// throughput_tasks_per_minute so a job completing within the same instant
// it started doesn't divide by (near) zero.
const minThroughputWindowMinutes = 1e-6

func (s *Store) avgTaskDuration(ctx context.Context, q querier, taskIDs []string) (*float64, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]interface{}, len(taskIDs))
	for i, id := range taskIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT AVG(duration_ms) FROM results WHERE task_id IN (%s)`, placeholders), args...)

	var avg sql.NullFloat64
	if err := row.Scan(&avg); err != nil {
		return nil, apierrors.NewInternal("avg task duration", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	v := round3(avg.Float64)
	return &v, nil
}

// refreshJobDerivedState recomputes a job's derived status/assigned_node_id/
// started_at/completed_at/error from its tasks, per spec §4.1, and writes
// them back. Must run inside the caller's transaction.
func (s *Store) refreshJobDerivedState(ctx context.Context, tx *sql.Tx, jobID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT status, assigned_node_id, created_at, started_at, completed_at
		FROM tasks WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return apierrors.NewInternal("select tasks for derivation", err)
	}

	var statuses []domain.TaskStatus
	var firstAssignedNode *string
	var earliestStart, latestComplete *time.Time
	anyStarted := false

	for rows.Next() {
		var status domain.TaskStatus
		var assignedNodeID sql.NullString
		var createdAt time.Time
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(&status, &assignedNodeID, &createdAt, &startedAt, &completedAt); err != nil {
			rows.Close()
			return apierrors.NewInternal("scan task for derivation", err)
		}

		statuses = append(statuses, status)

		if assignedNodeID.Valid && assignedNodeID.String != "" && firstAssignedNode == nil {
			id := assignedNodeID.String
			firstAssignedNode = &id
		}
		if startedAt.Valid {
			anyStarted = true
			if earliestStart == nil || startedAt.Time.Before(*earliestStart) {
				t := startedAt.Time
				earliestStart = &t
			}
		}
		if completedAt.Valid && (latestComplete == nil || completedAt.Time.After(*latestComplete)) {
			t := completedAt.Time
			latestComplete = &t
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apierrors.NewInternal("iterate tasks for derivation", err)
	}

	counts := countTaskStatuses(statuses)
	if counts.Total == 0 {
		return nil
	}

	var derivedStatus domain.JobStatus
	switch {
	case counts.Completed == counts.Total:
		derivedStatus = domain.JobCompleted
	case counts.Failed > 0 && counts.Queued+counts.Running == 0:
		derivedStatus = domain.JobFailed
	case anyStarted:
		derivedStatus = domain.JobRunning
	default:
		derivedStatus = domain.JobQueued
	}

	var derivedError *string
	if derivedStatus == domain.JobFailed {
		msg := fmt.Sprintf("%d tasks failed", counts.Failed)
		derivedError = &msg
	}

	var completedAt *time.Time
	if derivedStatus.Terminal() {
		completedAt = latestComplete
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $2, assigned_node_id = $3, started_at = $4,
		       completed_at = $5, error = $6, updated_at = $7
		WHERE job_id = $1`,
		jobID, derivedStatus, firstAssignedNode, earliestStart, completedAt, derivedError, now)
	if err != nil {
		return apierrors.NewInternal("update derived job state", err)
	}
	return nil
}
