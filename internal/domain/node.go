package domain

import (
	"fmt"
	"time"
)

// Capabilities describes what a node can physically do (spec §3).
type Capabilities struct {
	CPUCores     int      `json:"cpu_cores,omitempty" db:"cpu_cores"`
	CPUThreads   int      `json:"cpu_threads,omitempty" db:"cpu_threads"`
	RAMTotalGB   *float64 `json:"ram_total_gb,omitempty" db:"ram_total_gb"`
	RAMGB        *float64 `json:"ram_gb,omitempty" db:"ram_gb"`
	VRAMTotalGB  *float64 `json:"vram_total_gb,omitempty" db:"vram_total_gb"`
	GPUName      *string  `json:"gpu_name,omitempty" db:"gpu_name"`
	OS           string   `json:"os,omitempty" db:"os"`
	Arch         string   `json:"arch,omitempty" db:"arch"`
	TaskTypes    []TaskType `json:"task_types,omitempty" db:"task_types"`
	Labels       []string   `json:"labels,omitempty" db:"labels"`
	HasGPU       bool       `json:"has_gpu" db:"has_gpu"`
}

// Normalize applies the §3 mirroring/derivation invariants in place:
// has_gpu derives from gpu_name/vram_total_gb, and ram_total_gb/ram_gb
// mirror each other when only one is set.
func (c *Capabilities) Normalize() {
	c.HasGPU = c.GPUName != nil || c.VRAMTotalGB != nil

	if c.RAMTotalGB == nil && c.RAMGB != nil {
		v := *c.RAMGB
		c.RAMTotalGB = &v
	} else if c.RAMGB == nil && c.RAMTotalGB != nil {
		v := *c.RAMTotalGB
		c.RAMGB = &v
	}

	if len(c.TaskTypes) == 0 {
		c.TaskTypes = ValidTaskTypes()
	}
}

// Validate checks structural invariants beyond what Normalize derives.
func (c Capabilities) Validate() error {
	for _, t := range c.TaskTypes {
		if !t.Valid() {
			return fmt.Errorf("capabilities: invalid task type %q", t)
		}
	}
	if c.CPUCores < 0 || c.CPUThreads < 0 {
		return fmt.Errorf("capabilities: cpu_cores/cpu_threads must be >= 0")
	}
	if c.RAMTotalGB != nil && *c.RAMTotalGB < 0 {
		return fmt.Errorf("capabilities: ram_total_gb must be >= 0")
	}
	if c.VRAMTotalGB != nil && *c.VRAMTotalGB < 0 {
		return fmt.Errorf("capabilities: vram_total_gb must be >= 0")
	}
	return nil
}

// Metrics captures a node's last-reported utilization snapshot (spec §3).
type Metrics struct {
	CPUPercent   float64  `json:"cpu_percent" db:"cpu_percent"`
	RAMUsedGB    float64  `json:"ram_used_gb" db:"ram_used_gb"`
	RAMPercent   float64  `json:"ram_percent" db:"ram_percent"`
	GPUPercent   *float64 `json:"gpu_percent,omitempty" db:"gpu_percent"`
	VRAMUsedGB   *float64 `json:"vram_used_gb,omitempty" db:"vram_used_gb"`
	RunningJobs  int      `json:"running_jobs" db:"running_jobs"`
	HeartbeatTS  time.Time `json:"heartbeat_ts" db:"heartbeat_ts"`
	Extra        JSONMap   `json:"extra,omitempty" db:"extra"`
}

func (m Metrics) Validate() error {
	if m.CPUPercent < 0 || m.CPUPercent > 100 {
		return fmt.Errorf("metrics: cpu_percent must be in [0,100]")
	}
	if m.RAMPercent < 0 || m.RAMPercent > 100 {
		return fmt.Errorf("metrics: ram_percent must be in [0,100]")
	}
	if m.RAMUsedGB < 0 {
		return fmt.Errorf("metrics: ram_used_gb must be >= 0")
	}
	if m.GPUPercent != nil && (*m.GPUPercent < 0 || *m.GPUPercent > 100) {
		return fmt.Errorf("metrics: gpu_percent must be in [0,100]")
	}
	if m.VRAMUsedGB != nil && *m.VRAMUsedGB < 0 {
		return fmt.Errorf("metrics: vram_used_gb must be >= 0")
	}
	if m.RunningJobs < 0 {
		return fmt.Errorf("metrics: running_jobs must be >= 0")
	}
	return nil
}

// Policy is the set of scheduling constraints an operator places on a node
// (spec §3). DefaultPolicy returns the documented defaults.
type Policy struct {
	Enabled         bool           `json:"enabled" db:"enabled"`
	CPUCapPercent   float64        `json:"cpu_cap_percent" db:"cpu_cap_percent"`
	GPUCapPercent   *float64       `json:"gpu_cap_percent,omitempty" db:"gpu_cap_percent"`
	RAMCapPercent   float64        `json:"ram_cap_percent" db:"ram_cap_percent"`
	TaskAllowlist   []TaskType     `json:"task_allowlist" db:"task_allowlist"`
	RolePreference  RolePreference `json:"role_preference" db:"role_preference"`
}

func DefaultPolicy() Policy {
	return Policy{
		Enabled:        true,
		CPUCapPercent:  100,
		RAMCapPercent:  100,
		TaskAllowlist:  ValidTaskTypes(),
		RolePreference: RoleAuto,
	}
}

func (p Policy) Validate() error {
	if p.CPUCapPercent < 0 || p.CPUCapPercent > 100 {
		return fmt.Errorf("policy: cpu_cap_percent must be in [0,100]")
	}
	if p.RAMCapPercent < 0 || p.RAMCapPercent > 100 {
		return fmt.Errorf("policy: ram_cap_percent must be in [0,100]")
	}
	if p.GPUCapPercent != nil && (*p.GPUCapPercent < 0 || *p.GPUCapPercent > 100) {
		return fmt.Errorf("policy: gpu_cap_percent must be in [0,100]")
	}
	for _, t := range p.TaskAllowlist {
		if !t.Valid() {
			return fmt.Errorf("policy: invalid task type %q in allowlist", t)
		}
	}
	switch p.RolePreference {
	case RoleAuto, RolePreferInference, RolePreferEmbeddings, RolePreferPreprocess:
	default:
		return fmt.Errorf("policy: invalid role_preference %q", p.RolePreference)
	}
	return nil
}

// AllowsTask reports whether the policy's allowlist permits a task type.
func (p Policy) AllowsTask(t TaskType) bool {
	for _, allowed := range p.TaskAllowlist {
		if allowed == t {
			return true
		}
	}
	return false
}

// Node is a compute node registered with the coordinator (spec §3).
type Node struct {
	NodeID       string       `json:"node_id" db:"node_id"`
	DisplayName  string       `json:"display_name" db:"display_name"`
	IP           string       `json:"ip" db:"ip"`
	Port         int          `json:"port" db:"port"`
	Capabilities Capabilities `json:"capabilities" db:"capabilities"`
	Metrics      Metrics      `json:"metrics" db:"metrics"`
	Policy       Policy       `json:"policy" db:"policy"`
	Status       NodeStatus   `json:"status" db:"status"`
	LastSeen     *time.Time   `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// NewNode builds a freshly defaulted node record, the shape upsert_node_identity
// creates lazily on first mention of an unknown node_id (spec §4.1).
func NewNode(nodeID string) *Node {
	now := time.Now().UTC()
	return &Node{
		NodeID:    nodeID,
		Policy:    DefaultPolicy(),
		Status:    NodeUnknown,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func ValidateNodeID(id string) error {
	if len(id) < 1 || len(id) > 128 {
		return fmt.Errorf("node_id must be 1-128 characters")
	}
	return nil
}
