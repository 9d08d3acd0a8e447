package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/edgemesh/coordinator/internal/apierrors"
)

// ExecutionMetrics is the shape get_execution_metrics returns (spec §4.5).
type ExecutionMetrics struct {
	TotalResults            int                `json:"total_results"`
	SuccessResults          int                `json:"success_results"`
	FailedResults           int                `json:"failed_results"`
	AvgDurationMs           *float64           `json:"avg_duration_ms,omitempty"`
	ThroughputTasksPerMinute float64           `json:"throughput_tasks_per_minute"`
	NodeReliability         map[string]float64 `json:"node_reliability"`
}

// GetExecutionMetrics implements get_execution_metrics (spec §4.5):
// aggregates over the append-only result table.
func (s *Store) GetExecutionMetrics(ctx context.Context) (*ExecutionMetrics, error) {
	metrics := &ExecutionMetrics{}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0), AVG(duration_ms)
		FROM results`)

	var avg sql.NullFloat64
	var successCount int
	if err := row.Scan(&metrics.TotalResults, &successCount, &avg); err != nil {
		return nil, apierrors.NewInternal("aggregate execution metrics", err)
	}
	metrics.SuccessResults = successCount
	metrics.FailedResults = metrics.TotalResults - successCount
	if avg.Valid {
		v := round3(avg.Float64)
		metrics.AvgDurationMs = &v
	}

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	var trailingCount int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM results WHERE created_at >= $1`, cutoff).Scan(&trailingCount)
	if err != nil {
		return nil, apierrors.NewInternal("aggregate trailing results", err)
	}
	metrics.ThroughputTasksPerMinute = round3(float64(trailingCount) / 5)

	reliability, err := s.nodeReliability(ctx)
	if err != nil {
		return nil, err
	}
	metrics.NodeReliability = reliability

	return metrics, nil
}

// nodeReliability computes success_count/total_count per node, rounded to 3
// decimals, omitting nodes with zero results (spec §4.5).
func (s *Store) nodeReliability(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0)
		FROM results GROUP BY node_id ORDER BY node_id`)
	if err != nil {
		return nil, apierrors.NewInternal("aggregate node reliability", err)
	}
	defer rows.Close()

	reliability := map[string]float64{}
	for rows.Next() {
		var nodeID string
		var total, successCount int
		if err := rows.Scan(&nodeID, &total, &successCount); err != nil {
			return nil, apierrors.NewInternal("scan node reliability row", err)
		}
		if total > 0 {
			reliability[nodeID] = round3(float64(successCount) / float64(total))
		}
	}
	return reliability, rows.Err()
}
