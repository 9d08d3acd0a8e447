package api

import (
	"math"

	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// clusterSummaryResponse is GET /v1/cluster/summary's shape (spec §6):
// effective capacity summed across enabled ∧ ONLINE nodes, plus a
// node-count breakdown supplementing the raw sum (SPEC_FULL.md §L).
type clusterSummaryResponse struct {
	TotalNodes             int     `json:"total_nodes"`
	OnlineNodes            int     `json:"online_nodes"`
	OfflineNodes           int     `json:"offline_nodes"`
	EligibleNodes          int     `json:"eligible_nodes"`
	TotalCPUThreads        float64 `json:"total_cpu_threads"`
	TotalRAMGB             float64 `json:"total_ram_gb"`
	TotalVRAMGB            float64 `json:"total_vram_gb"`
	ActiveRunningJobsTotal int     `json:"active_running_jobs_total"`
}

func (s *Server) clusterSummary(c *gin.Context) (*clusterSummaryResponse, error) {
	nodes, err := s.lc.Store.ListNodes(c.Request.Context())
	if err != nil {
		return nil, err
	}

	resp := &clusterSummaryResponse{TotalNodes: len(nodes)}

	for _, n := range nodes {
		if n.Status == domain.NodeOnline {
			resp.OnlineNodes++
		}
		if n.Status == domain.NodeOffline {
			resp.OfflineNodes++
		}
		resp.ActiveRunningJobsTotal += n.Metrics.RunningJobs

		if !n.Policy.Enabled || n.Status != domain.NodeOnline {
			continue
		}
		resp.EligibleNodes++

		cap := scheduler.ComputeEffectiveCapacity(*n)
		resp.TotalCPUThreads += cap.CPUThreads
		resp.TotalRAMGB += cap.RAMGB
		if cap.VRAMGB != nil {
			resp.TotalVRAMGB += *cap.VRAMGB
		}
	}

	resp.TotalCPUThreads = round3(resp.TotalCPUThreads)
	resp.TotalRAMGB = round3(resp.TotalRAMGB)
	resp.TotalVRAMGB = round3(resp.TotalVRAMGB)

	return resp, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
