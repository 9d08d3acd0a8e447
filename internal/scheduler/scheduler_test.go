package scheduler

import (
	"testing"

	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gb(v float64) *float64 { return &v }

// S1 — effective capacity.
func TestComputeEffectiveCapacity_S1(t *testing.T) {
	node := domain.Node{
		Capabilities: domain.Capabilities{
			CPUThreads:  16,
			RAMTotalGB:  gb(32),
			VRAMTotalGB: gb(24),
		},
		Policy: domain.Policy{
			CPUCapPercent: 50,
			RAMCapPercent: 80,
			GPUCapPercent: gb(75),
		},
	}

	cap := ComputeEffectiveCapacity(node)

	assert.Equal(t, 8.0, cap.CPUThreads)
	assert.Equal(t, 25.6, cap.RAMGB)
	require.NotNil(t, cap.VRAMGB)
	assert.Equal(t, 18.0, *cap.VRAMGB)
}

// S2 — cap-filter ineligibility.
func TestEvaluateEligibility_S2(t *testing.T) {
	node := domain.Node{
		Status: domain.NodeOnline,
		Metrics: domain.Metrics{
			CPUPercent: 9,
		},
		Policy: domain.Policy{
			Enabled:       true,
			CPUCapPercent: 1,
			RAMCapPercent: 100,
			TaskAllowlist: domain.ValidTaskTypes(),
		},
	}

	eligible, reasons := EvaluateEligibility(node, domain.TaskInference)

	assert.False(t, eligible)
	assert.Contains(t, reasons, ReasonCPUOverCap)
}

func TestEvaluateEligibility_AllOnlineEnabledWithinCaps(t *testing.T) {
	node := domain.Node{
		Status: domain.NodeOnline,
		Metrics: domain.Metrics{
			CPUPercent: 10,
			RAMPercent: 10,
		},
		Policy: domain.Policy{
			Enabled:       true,
			CPUCapPercent: 100,
			RAMCapPercent: 100,
			TaskAllowlist: domain.ValidTaskTypes(),
		},
	}

	eligible, reasons := EvaluateEligibility(node, domain.TaskEmbeddings)

	assert.True(t, eligible)
	assert.Empty(t, reasons)
}

func TestEvaluateEligibility_GPUCapOnlyWithSignal(t *testing.T) {
	node := domain.Node{
		Status: domain.NodeOnline,
		Policy: domain.Policy{
			Enabled:       true,
			CPUCapPercent: 100,
			RAMCapPercent: 100,
			GPUCapPercent: gb(50),
			TaskAllowlist: domain.ValidTaskTypes(),
		},
	}

	// No GPU signal reported: absence is "no signal", not a violation.
	eligible, reasons := EvaluateEligibility(node, domain.TaskInference)
	assert.True(t, eligible)
	assert.Empty(t, reasons)

	// GPU signal present and over cap: now a violation.
	node.Metrics.GPUPercent = gb(90)
	eligible, reasons = EvaluateEligibility(node, domain.TaskInference)
	assert.False(t, eligible)
	assert.Contains(t, reasons, ReasonGPUOverCap)
}

func TestEvaluateEligibility_GPUCapIgnoredForNonGPUTask(t *testing.T) {
	node := domain.Node{
		Status: domain.NodeOnline,
		Metrics: domain.Metrics{
			GPUPercent: gb(99),
		},
		Policy: domain.Policy{
			Enabled:       true,
			CPUCapPercent: 100,
			RAMCapPercent: 100,
			GPUCapPercent: gb(10),
			TaskAllowlist: domain.ValidTaskTypes(),
		},
	}

	eligible, reasons := EvaluateEligibility(node, domain.TaskEmbeddings)
	assert.True(t, eligible)
	assert.Empty(t, reasons)
}

func TestScoreNode_Deterministic(t *testing.T) {
	node := domain.Node{
		Status: domain.NodeOnline,
		Capabilities: domain.Capabilities{
			HasGPU: true,
		},
		Metrics: domain.Metrics{
			CPUPercent: 20,
			RAMPercent: 30,
		},
		Policy: domain.Policy{
			Enabled:        true,
			CPUCapPercent:  100,
			RAMCapPercent:  100,
			RolePreference: domain.RoleAuto,
		},
	}

	s1 := ScoreNode(node, domain.TaskInference)
	s2 := ScoreNode(node, domain.TaskInference)
	assert.Equal(t, s1, s2, "score_node must be a deterministic pure function")

	// GPU-capable node scoring INFERENCE under AUTO preference gets the +10
	// GPU-affinity bonus over an otherwise identical non-GPU node.
	plain := node
	plain.Capabilities.HasGPU = false
	assert.Greater(t, s1, ScoreNode(plain, domain.TaskInference))
}

func TestEligibilityMonotonicity(t *testing.T) {
	node := domain.Node{
		Status: domain.NodeOnline,
		Metrics: domain.Metrics{
			CPUPercent: 50,
		},
		Policy: domain.Policy{
			Enabled:       true,
			CPUCapPercent: 80,
			RAMCapPercent: 100,
			TaskAllowlist: domain.ValidTaskTypes(),
		},
	}

	eligible, _ := EvaluateEligibility(node, domain.TaskIndex)
	require.True(t, eligible)

	node.Policy.CPUCapPercent = 10
	eligible, reasons := EvaluateEligibility(node, domain.TaskIndex)
	assert.False(t, eligible)
	assert.Contains(t, reasons, ReasonCPUOverCap)
}
