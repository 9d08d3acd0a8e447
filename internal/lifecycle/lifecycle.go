// Package lifecycle wires the store, scheduler, and event buses together
// into the operations the API and liveness layers call: every store
// mutation that should fan out a NodeEvent or JobEvent goes through here
// rather than the store directly, mirroring the teacher's pkg/scheduler
// engine's pattern of wrapping its database layer with event publication.
package lifecycle

import (
	"context"
	"time"

	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/eventbus"
	"github.com/edgemesh/coordinator/internal/store"
	"github.com/rs/zerolog/log"
)

// Engine is the process-wide coordination point between persistence and
// fan-out, constructed once at startup (spec §9: "process-wide registries").
type Engine struct {
	Store    *store.Store
	NodeBus  *eventbus.Bus[domain.NodeEvent]
	JobBus   *eventbus.Bus[domain.JobEvent]
}

func New(s *store.Store, nodeBus *eventbus.Bus[domain.NodeEvent], jobBus *eventbus.Bus[domain.JobEvent]) *Engine {
	return &Engine{Store: s, NodeBus: nodeBus, JobBus: jobBus}
}

func (e *Engine) publishNodeEvent(eventType string, node *domain.Node) {
	e.NodeBus.Publish(domain.NodeEvent{
		Type:      eventType,
		NodeID:    node.NodeID,
		Node:      node,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) publishJobEvent(eventType string, job *domain.Job) {
	view := job.View()
	e.JobBus.Publish(domain.JobEvent{
		Type:      eventType,
		JobID:     job.JobID,
		Job:       &view,
		Timestamp: time.Now().UTC(),
	})
}

// RegisterNode upserts a node's identity and publishes node_registered.
func (e *Engine) RegisterNode(ctx context.Context, nodeID, displayName, ip string, port int) (*domain.Node, error) {
	node, err := e.Store.UpsertNodeIdentity(ctx, nodeID, displayName, ip, port)
	if err != nil {
		return nil, err
	}
	e.publishNodeEvent(domain.NodeEventRegistered, node)
	return node, nil
}

// UpdateNodeCapabilities upserts capabilities and publishes
// node_status_change. It does not publish node_heartbeat — capability
// changes are not a heartbeat signal.
func (e *Engine) UpdateNodeCapabilities(ctx context.Context, nodeID string, caps domain.Capabilities) (*domain.Node, error) {
	node, err := e.Store.UpsertNodeCapabilities(ctx, nodeID, caps)
	if err != nil {
		return nil, err
	}
	e.publishNodeEvent(domain.NodeEventStatusChange, node)
	return node, nil
}

// Heartbeat updates a node's metrics and publishes node_heartbeat.
func (e *Engine) Heartbeat(ctx context.Context, nodeID string, metrics domain.Metrics) (*domain.Node, error) {
	node, err := e.Store.UpdateNodeMetrics(ctx, nodeID, metrics)
	if err != nil {
		return nil, err
	}
	e.publishNodeEvent(domain.NodeEventHeartbeat, node)
	return node, nil
}

// UpdateNodePolicy updates a node's policy and publishes node_policy_change.
func (e *Engine) UpdateNodePolicy(ctx context.Context, nodeID string, policy domain.Policy) (*domain.Node, error) {
	node, err := e.Store.UpdateNodePolicy(ctx, nodeID, policy)
	if err != nil {
		return nil, err
	}
	e.publishNodeEvent(domain.NodeEventPolicyChange, node)
	return node, nil
}

// CreateJob creates a job plus its tasks in one logical operation and
// publishes job_created. The job fan-out happens after both the job row
// and its tasks exist, so subscribers never observe a job with zero tasks
// that is about to receive some.
func (e *Engine) CreateJob(ctx context.Context, jobType domain.TaskType, payloadRef *string, taskPayloads []domain.JSONMap, maxRetries int) (*domain.Job, error) {
	job, err := e.Store.CreateJob(ctx, jobType, payloadRef)
	if err != nil {
		return nil, err
	}
	if _, err := e.Store.CreateTasks(ctx, job.JobID, jobType, taskPayloads, maxRetries); err != nil {
		return nil, err
	}
	refreshed, err := e.Store.GetJob(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	e.publishJobEvent(domain.JobEventCreated, refreshed)
	return refreshed, nil
}

// TransitionJobStatus applies the manual FSM transition and publishes
// job_status_change.
func (e *Engine) TransitionJobStatus(ctx context.Context, jobID string, newStatus domain.JobStatus, errMsg *string) (*domain.Job, error) {
	job, err := e.Store.TransitionJobStatus(ctx, jobID, newStatus, errMsg)
	if err != nil {
		return nil, err
	}
	e.publishJobEvent(domain.JobEventStatusChange, job)
	return job, nil
}

// PullTaskForNode pulls a task for the given node and, when one is
// assigned, publishes job_task_update for the owning job.
func (e *Engine) PullTaskForNode(ctx context.Context, nodeID string, leaseSeconds int) (*domain.Task, error) {
	task, err := e.Store.PullTaskForNode(ctx, nodeID, leaseSeconds)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	job, err := e.Store.GetJob(ctx, task.JobID)
	if err != nil {
		return nil, err
	}
	e.publishJobEvent(domain.JobEventTaskUpdate, job)
	return task, nil
}

// SubmitTaskResult submits a result and publishes job_task_update with the
// refreshed job state.
func (e *Engine) SubmitTaskResult(ctx context.Context, result domain.Result) (*domain.Task, *domain.Job, error) {
	task, job, err := e.Store.SubmitTaskResult(ctx, result)
	if err != nil {
		return nil, nil, err
	}
	e.publishJobEvent(domain.JobEventTaskUpdate, job)
	return task, job, nil
}

// RecoverStaleTasks expires stranded leases and publishes job_task_update
// for every affected job, deduplicated by job id.
func (e *Engine) RecoverStaleTasks(ctx context.Context) ([]*domain.Task, error) {
	recovered, err := e.Store.RecoverStaleTasks(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, task := range recovered {
		if seen[task.JobID] {
			continue
		}
		seen[task.JobID] = true
		job, err := e.Store.GetJob(ctx, task.JobID)
		if err != nil {
			log.Error().Err(err).Str("job_id", task.JobID).Msg("lifecycle: refresh job after lease recovery")
			continue
		}
		e.publishJobEvent(domain.JobEventTaskUpdate, job)
	}

	if len(recovered) > 0 {
		log.Info().Int("count", len(recovered)).Msg("lifecycle: recovered stale task leases")
	}
	return recovered, nil
}

// MarkOfflineIfStale marks silent nodes OFFLINE and publishes
// node_status_change for each transitioned node.
func (e *Engine) MarkOfflineIfStale(ctx context.Context, cutoffSeconds int) ([]*domain.Node, error) {
	transitioned, err := e.Store.MarkOfflineIfStale(ctx, cutoffSeconds)
	if err != nil {
		return nil, err
	}
	for _, node := range transitioned {
		e.publishNodeEvent(domain.NodeEventStatusChange, node)
	}
	return transitioned, nil
}
