// Package property holds generative tests over the scheduler's pure
// functions, the spec §8 universal invariants that benefit from random
// inputs rather than hand-picked scenarios. Grounded on the teacher's
// tests/property/crypto_properties_test.go gopter harness shape.
package property

import (
	"testing"

	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/scheduler"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genPercent() gopter.Gen {
	return gen.Float64Range(0, 100)
}

func genNodeForScoring() gopter.Gen {
	return gopter.CombineGens(
		genPercent(), genPercent(), genPercent(), genPercent(),
		gen.Bool(),
	).Map(func(values []interface{}) domain.Node {
		cpuPercent := values[0].(float64)
		ramPercent := values[1].(float64)
		cpuCap := values[2].(float64)
		ramCap := values[3].(float64)
		hasGPU := values[4].(bool)

		return domain.Node{
			Status:       domain.NodeOnline,
			Capabilities: domain.Capabilities{HasGPU: hasGPU},
			Metrics: domain.Metrics{
				CPUPercent: cpuPercent,
				RAMPercent: ramPercent,
			},
			Policy: domain.Policy{
				Enabled:        true,
				CPUCapPercent:  cpuCap,
				RAMCapPercent:  ramCap,
				TaskAllowlist:  domain.ValidTaskTypes(),
				RolePreference: domain.RoleAuto,
			},
		}
	})
}

// Property 5 (spec §8): score_node is a deterministic pure function of its
// inputs — calling it twice on the same node/task must yield identical
// results.
func TestScoreNodeIsDeterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ScoreNodeDeterministic", prop.ForAll(
		func(node domain.Node) bool {
			a := scheduler.ScoreNode(node, domain.TaskEmbeddings)
			b := scheduler.ScoreNode(node, domain.TaskEmbeddings)
			return a == b
		},
		genNodeForScoring(),
	))

	properties.TestingRun(t)
}

// Property 6 (spec §8): eligibility monotonicity — lowering a cap below
// the node's current observed usage can only ever remove eligibility for
// the cap reason it governs, never restore it.
func TestEligibilityMonotonicity_CPU(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("LoweringCPUCapBelowUsageRemovesEligibility", prop.ForAll(
		func(cpuPercent float64) bool {
			node := domain.Node{
				Status: domain.NodeOnline,
				Metrics: domain.Metrics{CPUPercent: cpuPercent},
				Policy: domain.Policy{
					Enabled:       true,
					CPUCapPercent: 100,
					RAMCapPercent: 100,
					TaskAllowlist: domain.ValidTaskTypes(),
				},
			}
			eligibleBefore, _ := scheduler.EvaluateEligibility(node, domain.TaskIndex)
			if !eligibleBefore {
				return true
			}

			node.Policy.CPUCapPercent = cpuPercent / 2
			if node.Policy.CPUCapPercent >= cpuPercent {
				return true
			}
			eligibleAfter, reasons := scheduler.EvaluateEligibility(node, domain.TaskIndex)
			if eligibleAfter {
				return false
			}
			for _, r := range reasons {
				if r == scheduler.ReasonCPUOverCap {
					return true
				}
			}
			return false
		},
		gen.Float64Range(1, 100),
	))

	properties.TestingRun(t)
}

// Property 3 (spec §8): retry bound — a task's retries must never exceed
// max_retries+1, the count at which submit_task_result/lease recovery
// transition it to FAILED instead of requeuing.
func TestTaskRetryBoundInvariant(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("RetriesNeverExceedMaxPlusOne", prop.ForAll(
		func(maxRetries int, retries int) bool {
			task := domain.Task{
				TaskID:     "t",
				JobID:      "j",
				Type:       domain.TaskEmbeddings,
				Status:     domain.TaskQueued,
				Retries:    retries,
				MaxRetries: maxRetries,
			}
			err := task.Validate()
			withinBound := retries <= maxRetries+1
			return (err == nil) == withinBound
		},
		gen.IntRange(0, 10), gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}
