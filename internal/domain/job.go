package domain

import "time"

// Job is a user-submitted unit of work that fans out into tasks (spec §3).
type Job struct {
	JobID       string     `json:"job_id" db:"job_id"`
	Type        TaskType   `json:"type" db:"type"`
	Status      JobStatus  `json:"status" db:"status"`
	PayloadRef  *string    `json:"payload_ref,omitempty" db:"payload_ref"`
	AssignedNodeID *string `json:"assigned_node_id,omitempty" db:"assigned_node_id"`
	Attempts    int        `json:"attempts" db:"attempts"`
	Error       *string    `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Derived aggregates (spec §3: "never stored authoritatively" — these
	// are recomputed by the store on every task-touching transaction and
	// only ever returned to callers, never written back as a source of
	// truth for Status/AssignedNodeID above outside derivation).
	Stats JobStats `json:"-" db:"-"`
}

// JobStats holds the derived aggregates spec §3/§4.1 describe.
type JobStats struct {
	TotalTasks      int      `json:"total_tasks"`
	QueuedTasks     int      `json:"queued_tasks"`
	RunningTasks    int      `json:"running_tasks"`
	CompletedTasks  int      `json:"completed_tasks"`
	FailedTasks     int      `json:"failed_tasks"`
	TotalRetries    int      `json:"total_retries"`
	AssignedNodes   []string `json:"assigned_nodes"`
	AvgTaskDurationMs       *float64 `json:"avg_task_duration_ms,omitempty"`
	ThroughputPerMinute     *float64 `json:"throughput_tasks_per_minute,omitempty"`
}

// JobView is the JSON shape returned to API callers: the job row plus its
// derived stats flattened to top level, matching the teacher's pattern of
// embedding computed fields alongside stored ones in API DTOs.
type JobView struct {
	JobID          string     `json:"job_id"`
	Type           TaskType   `json:"type"`
	Status         JobStatus  `json:"status"`
	PayloadRef     *string    `json:"payload_ref,omitempty"`
	AssignedNodeID *string    `json:"assigned_node_id,omitempty"`
	Attempts       int        `json:"attempts"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	TotalTasks          int      `json:"total_tasks"`
	QueuedTasks         int      `json:"queued_tasks"`
	RunningTasks        int      `json:"running_tasks"`
	CompletedTasks      int      `json:"completed_tasks"`
	FailedTasks         int      `json:"failed_tasks"`
	TotalRetries        int      `json:"total_retries"`
	AssignedNodes       []string `json:"assigned_nodes"`
	AvgTaskDurationMs   *float64 `json:"avg_task_duration_ms,omitempty"`
	ThroughputPerMinute *float64 `json:"throughput_tasks_per_minute,omitempty"`
}

func (j *Job) View() JobView {
	return JobView{
		JobID:               j.JobID,
		Type:                j.Type,
		Status:              j.Status,
		PayloadRef:          j.PayloadRef,
		AssignedNodeID:      j.AssignedNodeID,
		Attempts:            j.Attempts,
		Error:               j.Error,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
		TotalTasks:          j.Stats.TotalTasks,
		QueuedTasks:         j.Stats.QueuedTasks,
		RunningTasks:        j.Stats.RunningTasks,
		CompletedTasks:      j.Stats.CompletedTasks,
		FailedTasks:         j.Stats.FailedTasks,
		TotalRetries:        j.Stats.TotalRetries,
		AssignedNodes:       j.Stats.AssignedNodes,
		AvgTaskDurationMs:   j.Stats.AvgTaskDurationMs,
		ThroughputPerMinute: j.Stats.ThroughputPerMinute,
	}
}

// AllowedJobTransition reports whether the job FSM (spec §4.3) permits
// moving from `from` to `to`. Same-state transitions are always allowed
// (idempotent).
func AllowedJobTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case JobQueued:
		return to == JobRunning
	case JobRunning:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}
