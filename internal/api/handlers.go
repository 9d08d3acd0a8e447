package api

import (
	"github.com/edgemesh/coordinator/internal/apierrors"
	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/store"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleRegisterNode(c *gin.Context) {
	var req registerNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}

	node, err := s.lc.RegisterNode(c.Request.Context(), req.NodeID, req.DisplayName, req.IP, req.Port)
	if err != nil {
		respondError(c, err)
		return
	}

	caps := req.Capabilities.toDomain()
	caps.Normalize()
	if err := caps.Validate(); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}
	node, err = s.lc.UpdateNodeCapabilities(c.Request.Context(), req.NodeID, caps)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(201, node)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}

	node, err := s.lc.Heartbeat(c.Request.Context(), req.NodeID, req.Metrics.toDomain())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(202, node)
}

func (s *Server) handlePullTask(c *gin.Context) {
	var req pullTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}

	task, err := s.lc.PullTaskForNode(c.Request.Context(), req.NodeID, s.cfg.TaskLeaseSeconds)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(200, gin.H{"task": task})
}

func (s *Server) handleSubmitResult(c *gin.Context) {
	taskID := c.Param("task_id")

	var req submitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}

	result := domain.Result{
		TaskID:     taskID,
		NodeID:     req.NodeID,
		Success:    req.Success,
		Output:     req.Output,
		DurationMs: req.DurationMs,
	}

	task, job, err := s.lc.SubmitTaskResult(c.Request.Context(), result)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(200, gin.H{"task": task, "job": job.View()})
}

func (s *Server) handleCreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}

	job, err := s.lc.CreateJob(c.Request.Context(), req.Type, req.PayloadRef, req.Tasks, req.MaxRetries)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(201, job.View())
}

func (s *Server) handleListJobs(c *gin.Context) {
	filter := store.JobFilter{}
	if status := c.Query("status"); status != "" {
		js := domain.JobStatus(status)
		filter.Status = &js
	}
	if taskType := c.Query("task_type"); taskType != "" {
		tt := domain.TaskType(taskType)
		filter.TaskType = &tt
	}
	if nodeID := c.Query("node_id"); nodeID != "" {
		filter.NodeID = &nodeID
	}

	jobs, err := s.lc.Store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]domain.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	c.JSON(200, gin.H{"jobs": views})
}

func (s *Server) handleGetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := s.lc.Store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, job.View())
}

func (s *Server) handleListJobTasks(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := s.lc.Store.GetJob(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}

	tasks, err := s.lc.Store.ListTasksByJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"tasks": tasks})
}

func (s *Server) handleTransitionJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	var req transitionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}

	job, err := s.lc.TransitionJobStatus(c.Request.Context(), jobID, req.Status, req.Error)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(200, job.View())
}

func (s *Server) handleClusterSummary(c *gin.Context) {
	summary, err := s.clusterSummary(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, summary)
}

func (s *Server) handleSimulateSchedule(c *gin.Context) {
	var req simulateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidation(err.Error()))
		return
	}

	nodes, err := s.lc.Store.ListNodes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(200, s.simulateSchedule(nodes, req.TaskType))
}

func (s *Server) handleExecutionMetrics(c *gin.Context) {
	metrics, err := s.lc.Store.GetExecutionMetrics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, metrics)
}
