package api

import (
	"sort"

	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/scheduler"
)

// candidateScore mirrors the original coordinator's CandidateScore schema: a
// per-node eligibility/score breakdown for a simulated pull_task_for_node,
// without mutating any task or job state.
type candidateScore struct {
	NodeID   string   `json:"node_id"`
	Eligible bool     `json:"eligible"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
}

type simulateScheduleResponse struct {
	TaskType        domain.TaskType   `json:"task_type"`
	ChosenNodeID    *string           `json:"chosen_node_id,omitempty"`
	Reason          *string           `json:"reason,omitempty"`
	RankedCandidates []candidateScore `json:"ranked_candidates"`
}

// simulateSchedule implements a dry run of pull_task_for_node's candidate
// selection (spec §4.2/§4.4) against every registered node, for operators
// to preview scheduling outcomes without creating real tasks.
func (s *Server) simulateSchedule(nodes []*domain.Node, taskType domain.TaskType) *simulateScheduleResponse {
	resp := &simulateScheduleResponse{TaskType: taskType, RankedCandidates: []candidateScore{}}

	var chosen *candidateScore
	for _, n := range nodes {
		eligible, reasons := scheduler.EvaluateEligibility(*n, taskType)
		cs := candidateScore{
			NodeID:   n.NodeID,
			Eligible: eligible,
			Score:    scheduler.ScoreNode(*n, taskType),
			Reasons:  reasons,
		}
		resp.RankedCandidates = append(resp.RankedCandidates, cs)
		if eligible && (chosen == nil || cs.Score > chosen.Score) {
			candidate := cs
			chosen = &candidate
		}
	}

	sort.SliceStable(resp.RankedCandidates, func(i, j int) bool {
		return resp.RankedCandidates[i].Score > resp.RankedCandidates[j].Score
	})

	if chosen != nil {
		id := chosen.NodeID
		resp.ChosenNodeID = &id
	} else {
		reason := "no eligible node"
		resp.Reason = &reason
	}

	return resp
}
