package domain

// TaskType enumerates the kinds of work EdgeMesh agents execute.
type TaskType string

const (
	TaskInference  TaskType = "INFERENCE"
	TaskEmbeddings TaskType = "EMBEDDINGS"
	TaskIndex      TaskType = "INDEX"
	TaskTokenize   TaskType = "TOKENIZE"
	TaskPreprocess TaskType = "PREPROCESS"
)

// ValidTaskTypes lists every TaskType value, used to default a node's
// capability allowlist when an agent registers without naming any.
func ValidTaskTypes() []TaskType {
	return []TaskType{TaskInference, TaskEmbeddings, TaskIndex, TaskTokenize, TaskPreprocess}
}

func (t TaskType) Valid() bool {
	switch t {
	case TaskInference, TaskEmbeddings, TaskIndex, TaskTokenize, TaskPreprocess:
		return true
	}
	return false
}

// RequiresGPU reports whether a task type is GPU-bound for scoring/eligibility
// purposes. Only INFERENCE carries a GPU cap check (spec §4.2).
func (t TaskType) RequiresGPU() bool {
	return t == TaskInference
}

// JobStatus enumerates the job lifecycle FSM states (spec §4.3).
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// TaskStatus enumerates the task lease lifecycle (spec §4.4).
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// NodeStatus enumerates node liveness state.
type NodeStatus string

const (
	NodeUnknown NodeStatus = "UNKNOWN"
	NodeOnline  NodeStatus = "ONLINE"
	NodeOffline NodeStatus = "OFFLINE"
)

// RolePreference biases scheduler scoring toward a workload shape.
type RolePreference string

const (
	RoleAuto              RolePreference = "AUTO"
	RolePreferInference   RolePreference = "PREFER_INFERENCE"
	RolePreferEmbeddings  RolePreference = "PREFER_EMBEDDINGS"
	RolePreferPreprocess  RolePreference = "PREFER_PREPROCESS"
)

// MatchesTask reports whether a role preference explicitly favors the given
// task type, per the scoring bonus table in spec §4.2.
func (r RolePreference) MatchesTask(t TaskType) bool {
	switch {
	case r == RolePreferInference && t == TaskInference:
		return true
	case r == RolePreferEmbeddings && t == TaskEmbeddings:
		return true
	case r == RolePreferPreprocess && t == TaskPreprocess:
		return true
	}
	return false
}
