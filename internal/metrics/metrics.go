// Package metrics exposes a refresh-on-scrape Prometheus registry over the
// coordinator's derived state, grounded on the teacher's
// pkg/observability/prometheus.go PrometheusExporter, trimmed to gauges
// only: every value here is a last-value snapshot, never a counter or
// histogram, matching spec §9's "no persistent metrics history" Non-goal.
package metrics

import (
	"context"

	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Exporter holds gauges registered on a caller-supplied Prometheus registry.
// The /metrics handler calls Refresh from the store before every scrape, so
// scrapes reflect current state without a separate background refresh loop.
type Exporter struct {
	store *store.Store

	resultsTotal     prometheus.Gauge
	avgDurationMs    prometheus.Gauge
	throughput       prometheus.Gauge
	nodesOnline      prometheus.Gauge
	nodeReliability  *prometheus.GaugeVec
	jobsByStatus     *prometheus.GaugeVec
}

// New constructs an Exporter and registers it with registry.
func New(s *store.Store, registry *prometheus.Registry) *Exporter {
	e := &Exporter{
		store: s,
		resultsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgemesh_results_total",
			Help: "Total number of task results recorded.",
		}),
		avgDurationMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgemesh_avg_duration_ms",
			Help: "Arithmetic mean task duration in milliseconds across all results.",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgemesh_throughput_per_minute",
			Help: "Task results completed per minute over the trailing 5 minutes.",
		}),
		nodesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgemesh_nodes_online",
			Help: "Count of nodes currently in ONLINE status.",
		}),
		nodeReliability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgemesh_node_reliability",
			Help: "Per-node success_count/total_count ratio.",
		}, []string{"node_id"}),
		jobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgemesh_jobs_by_status",
			Help: "Count of jobs currently in each status.",
		}, []string{"status"}),
	}

	registry.MustRegister(e.resultsTotal, e.avgDurationMs, e.throughput, e.nodesOnline, e.nodeReliability, e.jobsByStatus)
	return e
}

// Refresh recomputes every gauge from current store state. Called
// immediately before each /metrics scrape.
func (e *Exporter) Refresh(ctx context.Context) error {
	execMetrics, err := e.store.GetExecutionMetrics(ctx)
	if err != nil {
		return err
	}
	e.resultsTotal.Set(float64(execMetrics.TotalResults))
	if execMetrics.AvgDurationMs != nil {
		e.avgDurationMs.Set(*execMetrics.AvgDurationMs)
	} else {
		e.avgDurationMs.Set(0)
	}
	e.throughput.Set(execMetrics.ThroughputTasksPerMinute)

	e.nodeReliability.Reset()
	for nodeID, ratio := range execMetrics.NodeReliability {
		e.nodeReliability.WithLabelValues(nodeID).Set(ratio)
	}

	nodes, err := e.store.ListNodes(ctx)
	if err != nil {
		return err
	}
	online := 0
	for _, n := range nodes {
		if n.Status == domain.NodeOnline {
			online++
		}
	}
	e.nodesOnline.Set(float64(online))

	jobs, err := e.store.ListJobs(ctx, store.JobFilter{})
	if err != nil {
		return err
	}
	counts := map[domain.JobStatus]int{}
	for _, j := range jobs {
		counts[j.Status]++
	}
	e.jobsByStatus.Reset()
	for _, status := range []domain.JobStatus{domain.JobQueued, domain.JobRunning, domain.JobCompleted, domain.JobFailed, domain.JobCancelled} {
		e.jobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	return nil
}
