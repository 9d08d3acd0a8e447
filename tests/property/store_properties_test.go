// Tests over internal/store and internal/domain logic that the spec §8
// invariants describe in terms of persisted state rather than scheduling
// math. Grounded on the same teacher gopter harness as
// scheduler_properties_test.go.
package property

import (
	"testing"
	"time"

	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/store"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genTaskStatus() gopter.Gen {
	return gen.OneConstOf(
		domain.TaskQueued, domain.TaskRunning, domain.TaskCompleted, domain.TaskFailed,
	)
}

// Property 1 (spec §8): job totals coherence — queued+running+completed+
// failed must always sum back to total, for any mix of task statuses.
func TestJobTotalsCoherence(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("StatusBucketsSumToTotal", prop.ForAll(
		func(statuses []domain.TaskStatus) bool {
			total, queued, running, completed, failed := store.CountTaskStatuses(statuses)
			if total != len(statuses) {
				return false
			}
			return queued+running+completed+failed == total
		},
		gen.SliceOf(genTaskStatus()),
	))

	properties.TestingRun(t)
}

// Property 2 (spec §8): lease integrity — every RUNNING task has a non-nil
// assigned_node_id and a lease_expires_at strictly after started_at.
// Validate() must reject every state that violates this and accept every
// state that doesn't.
func TestTaskLeaseIntegrity(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("RunningTaskRequiresNodeAndFutureLease", prop.ForAll(
		func(hasNode bool, hasLease bool, leaseAfterStart bool) bool {
			now := time.Now().UTC()
			started := now
			var assignedNodeID *string
			if hasNode {
				id := "node-1"
				assignedNodeID = &id
			}
			var leaseExpiresAt *time.Time
			if hasLease {
				t := started.Add(-time.Minute)
				if leaseAfterStart {
					t = started.Add(time.Minute)
				}
				leaseExpiresAt = &t
			}

			task := domain.Task{
				TaskID:         "t",
				JobID:          "j",
				Type:           domain.TaskEmbeddings,
				Status:         domain.TaskRunning,
				AssignedNodeID: assignedNodeID,
				LeaseExpiresAt: leaseExpiresAt,
				StartedAt:      &started,
			}
			err := task.Validate()
			valid := hasNode && hasLease && leaseAfterStart
			return (err == nil) == valid
		},
		gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}
