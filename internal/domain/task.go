package domain

import (
	"fmt"
	"time"
)

// Task is an atomic executable unit owned by a job (spec §3).
type Task struct {
	TaskID         string     `json:"task_id" db:"task_id"`
	JobID          string     `json:"job_id" db:"job_id"`
	Type           TaskType   `json:"type" db:"type"`
	Payload        JSONMap    `json:"payload" db:"payload"`
	Status         TaskStatus `json:"status" db:"status"`
	AssignedNodeID *string    `json:"assigned_node_id,omitempty" db:"assigned_node_id"`
	Retries        int        `json:"retries" db:"retries"`
	MaxRetries     int        `json:"max_retries" db:"max_retries"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	Error          *string    `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Validate enforces the spec §3 task invariants that can be checked
// without reference to sibling rows.
func (t Task) Validate() error {
	if t.Retries > t.MaxRetries+1 {
		return fmt.Errorf("task: retries (%d) exceeds max_retries+1 (%d)", t.Retries, t.MaxRetries+1)
	}
	if t.Status == TaskRunning {
		if t.AssignedNodeID == nil {
			return fmt.Errorf("task: RUNNING task must have assigned_node_id")
		}
		if t.LeaseExpiresAt == nil {
			return fmt.Errorf("task: RUNNING task must have lease_expires_at")
		}
		if t.StartedAt != nil && !t.LeaseExpiresAt.After(*t.StartedAt) {
			return fmt.Errorf("task: RUNNING task lease_expires_at must be after started_at")
		}
	}
	if (t.Status == TaskQueued || t.Status == TaskFailed) && t.LeaseExpiresAt != nil {
		return fmt.Errorf("task: %s task must not have lease_expires_at", t.Status)
	}
	return nil
}

// Result is an append-only execution outcome (spec §3).
type Result struct {
	ID         int64     `json:"id" db:"id"`
	TaskID     string    `json:"task_id" db:"task_id"`
	NodeID     string    `json:"node_id" db:"node_id"`
	Success    bool      `json:"success" db:"success"`
	Output     JSONMap   `json:"output,omitempty" db:"output"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

func (r Result) Validate() error {
	if r.DurationMs < 0 {
		return fmt.Errorf("result: duration_ms must be >= 0")
	}
	if r.TaskID == "" || r.NodeID == "" {
		return fmt.Errorf("result: task_id and node_id are required")
	}
	return nil
}
