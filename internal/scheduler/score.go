package scheduler

import "github.com/edgemesh/coordinator/internal/domain"

// clampRatio computes observed/cap with cap floored to >= 1 (so a 0%-cap
// node doesn't produce an infinite ratio), then clamps the result to 2.0,
// per spec §4.2's score_node ratio definition.
func clampRatio(observed, cap float64) float64 {
	if cap < 1 {
		cap = 1
	}
	ratio := observed / cap
	if ratio > 2.0 {
		ratio = 2.0
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// ScoreNode implements score_node (spec §4.2): a base utilization score
// adjusted by role-preference and GPU-affinity bonuses/penalties. Higher is
// better; ineligible nodes are still scored for diagnostic purposes.
func ScoreNode(node domain.Node, taskType domain.TaskType) float64 {
	cpuRatio := clampRatio(node.Metrics.CPUPercent, node.Policy.CPUCapPercent)
	ramRatio := clampRatio(node.Metrics.RAMPercent, node.Policy.RAMCapPercent)

	score := 100 - (cpuRatio*50 + ramRatio*40)

	if taskType == domain.TaskInference && node.Capabilities.HasGPU {
		if node.Policy.RolePreference == domain.RoleAuto || node.Policy.RolePreference == domain.RolePreferInference {
			score += 10
		}
	}

	if node.Policy.RolePreference.MatchesTask(taskType) {
		score += 15
	}

	if taskType == domain.TaskInference && node.Metrics.GPUPercent != nil {
		gpuCap := 100.0
		if node.Policy.GPUCapPercent != nil {
			gpuCap = *node.Policy.GPUCapPercent
		}
		gpuRatio := clampRatio(*node.Metrics.GPUPercent, gpuCap)
		score -= gpuRatio * 10
	}

	return round3(score)
}
