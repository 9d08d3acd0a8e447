// Package scheduler implements the pure eligibility and scoring functions
// of spec §4.2. Nothing here performs I/O or holds state: every function is
// a deterministic function of its (Node, TaskType) inputs, satisfying spec
// §8 property 5 ("scheduler purity").
package scheduler

import (
	"math"

	"github.com/edgemesh/coordinator/internal/domain"
)

// EffectiveCapacity is the result of compute_effective_capacity (spec §4.2).
type EffectiveCapacity struct {
	CPUThreads float64  `json:"cpu_threads"`
	RAMGB      float64  `json:"ram_gb"`
	VRAMGB     *float64 `json:"vram_gb,omitempty"`
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ComputeEffectiveCapacity multiplies each raw capability by its policy cap,
// per spec §4.2:
//
//	cpu_threads ← (cpu_threads ∨ cpu_cores ∨ 0) × cpu_cap/100
//	ram_gb      ← (ram_total_gb ∨ ram_gb ∨ 0) × ram_cap/100
//	vram_gb     ← vram_total_gb × (gpu_cap ∨ 100)/100, if vram_total_gb present
func ComputeEffectiveCapacity(node domain.Node) EffectiveCapacity {
	caps := node.Capabilities
	policy := node.Policy

	rawThreads := caps.CPUThreads
	if rawThreads == 0 {
		rawThreads = caps.CPUCores
	}
	cpuThreads := float64(rawThreads) * policy.CPUCapPercent / 100

	var rawRAM float64
	if caps.RAMTotalGB != nil {
		rawRAM = *caps.RAMTotalGB
	} else if caps.RAMGB != nil {
		rawRAM = *caps.RAMGB
	}
	ramGB := rawRAM * policy.RAMCapPercent / 100

	result := EffectiveCapacity{
		CPUThreads: round3(cpuThreads),
		RAMGB:      round3(ramGB),
	}

	if caps.VRAMTotalGB != nil {
		gpuCap := 100.0
		if policy.GPUCapPercent != nil {
			gpuCap = *policy.GPUCapPercent
		}
		vram := round3(*caps.VRAMTotalGB * gpuCap / 100)
		result.VRAMGB = &vram
	}

	return result
}
