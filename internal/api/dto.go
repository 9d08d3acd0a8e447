package api

import "github.com/edgemesh/coordinator/internal/domain"

// registerNodeRequest mirrors spec §6's agent-register wire contract.
type registerNodeRequest struct {
	NodeID       string   `json:"node_id" binding:"required"`
	DisplayName  string   `json:"display_name"`
	IP           string   `json:"ip"`
	Port         int      `json:"port"`
	Capabilities capabilitiesDTO `json:"capabilities"`
}

type capabilitiesDTO struct {
	CPUCores    int      `json:"cpu_cores"`
	CPUThreads  int      `json:"cpu_threads"`
	RAMTotalGB  *float64 `json:"ram_total_gb"`
	GPUName     *string  `json:"gpu_name"`
	VRAMTotalGB *float64 `json:"vram_total_gb"`
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	TaskTypes   []domain.TaskType `json:"task_types"`
	Labels      []string `json:"labels"`
}

func (d capabilitiesDTO) toDomain() domain.Capabilities {
	return domain.Capabilities{
		CPUCores:    d.CPUCores,
		CPUThreads:  d.CPUThreads,
		RAMTotalGB:  d.RAMTotalGB,
		GPUName:     d.GPUName,
		VRAMTotalGB: d.VRAMTotalGB,
		OS:          d.OS,
		Arch:        d.Arch,
		TaskTypes:   d.TaskTypes,
		Labels:      d.Labels,
	}
}

// heartbeatRequest mirrors spec §6's agent-heartbeat wire contract.
type heartbeatRequest struct {
	NodeID  string     `json:"node_id" binding:"required"`
	Metrics metricsDTO `json:"metrics"`
}

type metricsDTO struct {
	CPUPercent  float64  `json:"cpu_percent"`
	RAMUsedGB   float64  `json:"ram_used_gb"`
	RAMPercent  float64  `json:"ram_percent"`
	GPUPercent  *float64 `json:"gpu_percent"`
	VRAMUsedGB  *float64 `json:"vram_used_gb"`
	RunningJobs int      `json:"running_jobs"`
}

func (d metricsDTO) toDomain() domain.Metrics {
	return domain.Metrics{
		CPUPercent:  d.CPUPercent,
		RAMUsedGB:   d.RAMUsedGB,
		RAMPercent:  d.RAMPercent,
		GPUPercent:  d.GPUPercent,
		VRAMUsedGB:  d.VRAMUsedGB,
		RunningJobs: d.RunningJobs,
	}
}

// pullTaskRequest mirrors POST /v1/tasks/pull.
type pullTaskRequest struct {
	NodeID string `json:"node_id" binding:"required"`
}

// submitResultRequest mirrors POST /v1/tasks/{task_id}/result.
type submitResultRequest struct {
	NodeID     string        `json:"node_id" binding:"required"`
	Success    bool          `json:"success"`
	Output     domain.JSONMap `json:"output"`
	DurationMs int64         `json:"duration_ms"`
}

// createJobRequest mirrors POST /v1/jobs.
type createJobRequest struct {
	Type       domain.TaskType  `json:"type" binding:"required"`
	PayloadRef *string          `json:"payload_ref"`
	Tasks      []domain.JSONMap `json:"tasks" binding:"required"`
	MaxRetries int              `json:"max_retries"`
}

// transitionStatusRequest mirrors POST /v1/jobs/{id}/status.
type transitionStatusRequest struct {
	Status domain.JobStatus `json:"status" binding:"required"`
	Error  *string          `json:"error"`
}

// simulateScheduleRequest mirrors POST /v1/simulate/schedule.
type simulateScheduleRequest struct {
	TaskType domain.TaskType `json:"task_type" binding:"required"`
}
