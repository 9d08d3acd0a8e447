package store

import "github.com/edgemesh/coordinator/internal/domain"

// taskStatusCounts tallies a job's tasks into the four terminal/non-terminal
// buckets spec §8 invariant 1 requires to sum back to the total. Pulled out
// as a pure function so computeJobStats and refreshJobDerivedState can't
// drift from each other (and so it's directly property-testable without a
// database).
type taskStatusCounts struct {
	Total, Queued, Running, Completed, Failed int
}

func countTaskStatuses(statuses []domain.TaskStatus) taskStatusCounts {
	var c taskStatusCounts
	for _, status := range statuses {
		c.Total++
		switch status {
		case domain.TaskQueued:
			c.Queued++
		case domain.TaskRunning:
			c.Running++
		case domain.TaskCompleted:
			c.Completed++
		case domain.TaskFailed:
			c.Failed++
		}
	}
	return c
}

// CountTaskStatuses exposes countTaskStatuses for the property-test suite
// in tests/property, which verifies spec §8 invariant 1 ("job totals
// coherence") against this exact tallying logic.
func CountTaskStatuses(statuses []domain.TaskStatus) (total, queued, running, completed, failed int) {
	c := countTaskStatuses(statuses)
	return c.Total, c.Queued, c.Running, c.Completed, c.Failed
}
