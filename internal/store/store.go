// Package store implements spec §4.1: durable, transactionally consistent
// persistence for nodes, jobs, tasks, and results, plus the derived job
// aggregation and the task lease protocol of spec §4.4. Grounded on the
// teacher's pkg/database/manager.go (Manager wrapping *sql.DB, connection
// pool config, BeginTx/ExecuteInTransaction) and pkg/database/operations.go
// (UUID-on-insert, JSONB-via-[]byte marshaling, sql.ErrNoRows translation).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Config mirrors the teacher's database.Config connection-pool settings.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultConfig(databaseURL string) Config {
	return Config{
		DatabaseURL:     databaseURL,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store wraps the Postgres connection and the single-writer mutex spec §5
// requires around the read-decide-write sequences in §4.4. Reads that don't
// participate in one of those sequences may run concurrently without the
// mutex, matching spec §5's "reads may run concurrently" guarantee.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open connects to Postgres and verifies connectivity. Migrations are not
// run here; call Migrate explicitly at startup before accepting traffic,
// per spec §4.1 ("applied at startup before any traffic is accepted").
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	log.Info().Msg("store: connected to database")
	return &Store{db: db}, nil
}

// OpenWithDB wraps an already-open *sql.DB, used by tests to inject a
// sqlmock connection in place of a real Postgres instance.
func OpenWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withWriteLock serializes fn against every other mutating operation,
// EdgeMesh's equivalent of the teacher's single-writer discipline
// generalized one level above a single SQL transaction: fn typically reads
// state, decides, and issues one or more statements, and none of that may
// interleave with a concurrent caller's own read-decide-write sequence.
func (s *Store) withWriteLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// beginTx starts a transaction, mirroring the teacher's Manager.BeginTx.
func (s *Store) beginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// execTx runs fn inside a transaction, committing on success and rolling
// back on error or panic, mirroring Manager.ExecuteInTransaction.
func (s *Store) execTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
