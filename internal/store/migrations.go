package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Migration mirrors the teacher's pkg/database/migrations.go Migration
// struct exactly: a numbered, described, idempotently-applied SQL step.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// Migrations returns the ordered schema for spec §6's "Persisted state
// layout": four tables (nodes, jobs, tasks, results) plus the
// schema_migrations tracking table.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "schema_migrations tracking table",
			Up: `
				CREATE TABLE IF NOT EXISTS schema_migrations (
					version INTEGER PRIMARY KEY,
					description TEXT NOT NULL,
					applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     2,
			Description: "nodes table",
			Up: `
				CREATE TABLE IF NOT EXISTS nodes (
					node_id VARCHAR(128) PRIMARY KEY,
					display_name TEXT NOT NULL DEFAULT '',
					ip TEXT NOT NULL DEFAULT '',
					port INTEGER NOT NULL DEFAULT 0,
					capabilities JSONB NOT NULL DEFAULT '{}',
					metrics JSONB NOT NULL DEFAULT '{}',
					policy JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(16) NOT NULL DEFAULT 'UNKNOWN',
					last_seen TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);
				CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
			`,
		},
		{
			Version:     3,
			Description: "jobs table",
			Up: `
				CREATE TABLE IF NOT EXISTS jobs (
					job_id VARCHAR(64) PRIMARY KEY,
					type VARCHAR(32) NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'QUEUED',
					payload_ref TEXT,
					assigned_node_id VARCHAR(128),
					attempts INTEGER NOT NULL DEFAULT 0,
					error TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
					started_at TIMESTAMP WITH TIME ZONE,
					completed_at TIMESTAMP WITH TIME ZONE
				);
				CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
				CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type);
				CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
			`,
		},
		{
			Version:     4,
			Description: "tasks table",
			Up: `
				CREATE TABLE IF NOT EXISTS tasks (
					task_id VARCHAR(64) PRIMARY KEY,
					job_id VARCHAR(64) NOT NULL REFERENCES jobs(job_id),
					type VARCHAR(32) NOT NULL,
					payload JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(16) NOT NULL DEFAULT 'QUEUED',
					assigned_node_id VARCHAR(128),
					retries INTEGER NOT NULL DEFAULT 0,
					max_retries INTEGER NOT NULL DEFAULT 0,
					lease_expires_at TIMESTAMP WITH TIME ZONE,
					error TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
					started_at TIMESTAMP WITH TIME ZONE,
					completed_at TIMESTAMP WITH TIME ZONE
				);
				CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id);
				CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
				CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
				CREATE INDEX IF NOT EXISTS idx_tasks_lease ON tasks(lease_expires_at);
			`,
		},
		{
			Version:     5,
			Description: "results table",
			Up: `
				CREATE TABLE IF NOT EXISTS results (
					id BIGSERIAL PRIMARY KEY,
					task_id VARCHAR(64) NOT NULL REFERENCES tasks(task_id),
					node_id VARCHAR(128) NOT NULL,
					success BOOLEAN NOT NULL,
					output JSONB NOT NULL DEFAULT '{}',
					duration_ms BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_results_task ON results(task_id);
				CREATE INDEX IF NOT EXISTS idx_results_node ON results(node_id);
				CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);
			`,
		},
	}
}

// Migrate runs every pending migration in version order, idempotently,
// mirroring the teacher's Manager.RunMigrations.
func (s *Store) Migrate(ctx context.Context) error {
	log.Info().Msg("store: running migrations")

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("store: ensure migration table: %w", err)
	}

	migrations := Migrations()
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	for _, m := range migrations {
		applied, err := s.isMigrationApplied(ctx, m.Version)
		if err != nil {
			return fmt.Errorf("store: check migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}

		log.Info().Int("version", m.Version).Str("description", m.Description).Msg("store: applying migration")
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("store: apply migration %d: %w", m.Version, err)
		}
	}

	log.Info().Msg("store: migrations complete")
	return nil
}

func (s *Store) isMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("execute migration sql: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)`,
			m.Version, m.Description, time.Now())
		return err
	})
}
