package scheduler

import "github.com/edgemesh/coordinator/internal/domain"

// Eligibility reason codes, per spec §4.2.
const (
	ReasonPolicyDisabled = "policy_disabled"
	ReasonNodeNotOnline  = "node_not_online"
	ReasonTaskNotAllowed = "task_not_allowed"
	ReasonCPUOverCap     = "cpu_over_cap"
	ReasonRAMOverCap     = "ram_over_cap"
	ReasonGPUOverCap     = "gpu_over_cap"
)

// EvaluateEligibility implements evaluate_node_eligibility (spec §4.2):
// accumulates every violated reason and reports eligible iff none fired.
// GPU caps are only checked when a live GPU signal exists on the task type
// that needs one; absence of a signal is "no signal", never a violation.
func EvaluateEligibility(node domain.Node, taskType domain.TaskType) (bool, []string) {
	var reasons []string

	if !node.Policy.Enabled {
		reasons = append(reasons, ReasonPolicyDisabled)
	}
	if node.Status != domain.NodeOnline {
		reasons = append(reasons, ReasonNodeNotOnline)
	}
	if !node.Policy.AllowsTask(taskType) {
		reasons = append(reasons, ReasonTaskNotAllowed)
	}
	if node.Metrics.CPUPercent > node.Policy.CPUCapPercent {
		reasons = append(reasons, ReasonCPUOverCap)
	}
	if node.Metrics.RAMPercent > node.Policy.RAMCapPercent {
		reasons = append(reasons, ReasonRAMOverCap)
	}
	if taskType.RequiresGPU() && node.Metrics.GPUPercent != nil {
		gpuCap := 100.0
		if node.Policy.GPUCapPercent != nil {
			gpuCap = *node.Policy.GPUCapPercent
		}
		if *node.Metrics.GPUPercent > gpuCap {
			reasons = append(reasons, ReasonGPUOverCap)
		}
	}

	return len(reasons) == 0, reasons
}
