package domain

import "time"

// NodeEvent is published to the node event bus whenever a node's status,
// metrics, or policy changes (spec §4.7).
type NodeEvent struct {
	Type      string    `json:"type"`
	NodeID    string    `json:"node_id"`
	Node      *Node     `json:"node,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	NodeEventRegistered  = "node_registered"
	NodeEventHeartbeat   = "node_heartbeat"
	NodeEventStatusChange = "node_status_change"
	NodeEventPolicyChange = "node_policy_change"
)

// JobEvent is published to the job event bus whenever a job or one of its
// tasks changes (spec §4.7).
type JobEvent struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Job       *JobView  `json:"job,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	JobEventCreated     = "job_created"
	JobEventStatusChange = "job_status_change"
	JobEventTaskUpdate   = "job_task_update"
)
