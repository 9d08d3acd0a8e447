// Package liveness implements the background monitor of spec §4.6: a
// ticker-driven loop that marks silent nodes OFFLINE and, on a separate
// cadence, recovers stranded task leases. Grounded on the teacher's
// pkg/scheduler engine's health-check goroutine pattern (ticker +
// context.Done select loop).
package liveness

import (
	"context"
	"time"

	"github.com/edgemesh/coordinator/internal/lifecycle"
	"github.com/rs/zerolog/log"
)

// Monitor runs the two independent background loops described in spec
// §4.4 ("the monitor invokes this on a fixed cadence") and §4.6.
type Monitor struct {
	engine               *lifecycle.Engine
	nodeStaleSeconds      int
	livenessCheckInterval time.Duration
	taskRecoveryInterval  time.Duration
}

func New(engine *lifecycle.Engine, nodeStaleSeconds int, livenessCheckInterval, taskRecoveryInterval time.Duration) *Monitor {
	return &Monitor{
		engine:                engine,
		nodeStaleSeconds:      nodeStaleSeconds,
		livenessCheckInterval: livenessCheckInterval,
		taskRecoveryInterval:  taskRecoveryInterval,
	}
}

// Run blocks until ctx is cancelled, ticking the node-liveness sweep and
// the task-lease recovery sweep on their own independent cadences.
func (m *Monitor) Run(ctx context.Context) {
	nodeTicker := time.NewTicker(m.livenessCheckInterval)
	defer nodeTicker.Stop()

	taskTicker := time.NewTicker(m.taskRecoveryInterval)
	defer taskTicker.Stop()

	log.Info().
		Dur("liveness_interval", m.livenessCheckInterval).
		Dur("task_recovery_interval", m.taskRecoveryInterval).
		Msg("liveness: monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("liveness: monitor stopped")
			return
		case <-nodeTicker.C:
			m.sweepStaleNodes(ctx)
		case <-taskTicker.C:
			m.sweepStaleLeases(ctx)
		}
	}
}

func (m *Monitor) sweepStaleNodes(ctx context.Context) {
	transitioned, err := m.engine.MarkOfflineIfStale(ctx, m.nodeStaleSeconds)
	if err != nil {
		log.Error().Err(err).Msg("liveness: mark_offline_if_stale failed")
		return
	}
	if len(transitioned) > 0 {
		log.Info().Int("count", len(transitioned)).Msg("liveness: nodes marked offline")
	}
}

func (m *Monitor) sweepStaleLeases(ctx context.Context) {
	if _, err := m.engine.RecoverStaleTasks(ctx); err != nil {
		log.Error().Err(err).Msg("liveness: recover_stale_tasks failed")
	}
}
