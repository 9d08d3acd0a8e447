package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edgemesh/coordinator/internal/apierrors"
	"github.com/edgemesh/coordinator/internal/domain"
)

// getOrCreateNode loads a node by id, lazily creating it with defaults if
// absent, per spec §3: "created lazily on first mention by node_id". Must
// be called from within withWriteLock by every caller that mutates a node.
func (s *Store) getOrCreateNode(ctx context.Context, tx *sql.Tx, nodeID string) (*domain.Node, error) {
	node, err := s.scanNode(ctx, tx, nodeID)
	if err == nil {
		return node, nil
	}
	if apiErr, ok := apierrors.As(err); !ok || apiErr.Kind != apierrors.NotFound {
		return nil, err
	}

	fresh := domain.NewNode(nodeID)
	if err := s.insertNode(ctx, tx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Store) insertNode(ctx context.Context, tx *sql.Tx, n *domain.Node) error {
	capsJSON, err := marshalJSON(n.Capabilities)
	if err != nil {
		return fmt.Errorf("store: marshal capabilities: %w", err)
	}
	metricsJSON, err := marshalJSON(n.Metrics)
	if err != nil {
		return fmt.Errorf("store: marshal metrics: %w", err)
	}
	policyJSON, err := marshalJSON(n.Policy)
	if err != nil {
		return fmt.Errorf("store: marshal policy: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (node_id, display_name, ip, port, capabilities, metrics, policy, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (node_id) DO NOTHING`,
		n.NodeID, n.DisplayName, n.IP, n.Port, capsJSON, metricsJSON, policyJSON, n.Status, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert node: %w", err)
	}
	return nil
}

func (s *Store) scanNode(ctx context.Context, q querier, nodeID string) (*domain.Node, error) {
	row := q.QueryRowContext(ctx, `
		SELECT node_id, display_name, ip, port, capabilities, metrics, policy, status, last_seen, created_at, updated_at
		FROM nodes WHERE node_id = $1`, nodeID)

	var n domain.Node
	var capsJSON, metricsJSON, policyJSON []byte
	var lastSeen sql.NullTime

	if err := row.Scan(&n.NodeID, &n.DisplayName, &n.IP, &n.Port, &capsJSON, &metricsJSON, &policyJSON,
		&n.Status, &lastSeen, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.NewNotFound("node", nodeID)
		}
		return nil, apierrors.NewInternal("scan node", err)
	}

	if err := unmarshalJSON(capsJSON, &n.Capabilities); err != nil {
		return nil, apierrors.NewInternal("unmarshal capabilities", err)
	}
	if err := unmarshalJSON(metricsJSON, &n.Metrics); err != nil {
		return nil, apierrors.NewInternal("unmarshal metrics", err)
	}
	if err := unmarshalJSON(policyJSON, &n.Policy); err != nil {
		return nil, apierrors.NewInternal("unmarshal policy", err)
	}
	if lastSeen.Valid {
		n.LastSeen = &lastSeen.Time
	}

	return &n, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so read helpers can run
// either standalone or as part of a caller's transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// GetNode returns a node by id without taking the write lock (a plain read).
func (s *Store) GetNode(ctx context.Context, nodeID string) (*domain.Node, error) {
	return s.scanNode(ctx, s.db, nodeID)
}

// ListNodes returns every registered node, ordered by node_id for stable
// pagination-free listing.
func (s *Store) ListNodes(ctx context.Context) ([]*domain.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, display_name, ip, port, capabilities, metrics, policy, status, last_seen, created_at, updated_at
		FROM nodes ORDER BY node_id`)
	if err != nil {
		return nil, apierrors.NewInternal("list nodes", err)
	}
	defer rows.Close()

	var nodes []*domain.Node
	for rows.Next() {
		var n domain.Node
		var capsJSON, metricsJSON, policyJSON []byte
		var lastSeen sql.NullTime

		if err := rows.Scan(&n.NodeID, &n.DisplayName, &n.IP, &n.Port, &capsJSON, &metricsJSON, &policyJSON,
			&n.Status, &lastSeen, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, apierrors.NewInternal("scan node row", err)
		}
		if err := unmarshalJSON(capsJSON, &n.Capabilities); err != nil {
			return nil, apierrors.NewInternal("unmarshal capabilities", err)
		}
		if err := unmarshalJSON(metricsJSON, &n.Metrics); err != nil {
			return nil, apierrors.NewInternal("unmarshal metrics", err)
		}
		if err := unmarshalJSON(policyJSON, &n.Policy); err != nil {
			return nil, apierrors.NewInternal("unmarshal policy", err)
		}
		if lastSeen.Valid {
			n.LastSeen = &lastSeen.Time
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// UpsertNodeIdentity implements upsert_node_identity (spec §4.1).
func (s *Store) UpsertNodeIdentity(ctx context.Context, nodeID, displayName, ip string, port int) (*domain.Node, error) {
	if err := domain.ValidateNodeID(nodeID); err != nil {
		return nil, apierrors.NewValidation(err.Error())
	}

	var result *domain.Node
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.getOrCreateNode(ctx, tx, nodeID); err != nil {
				return err
			}

			now := time.Now().UTC()
			_, err := tx.ExecContext(ctx, `
				UPDATE nodes SET display_name = $2, ip = $3, port = $4, updated_at = $5
				WHERE node_id = $1`, nodeID, displayName, ip, port, now)
			if err != nil {
				return apierrors.NewInternal("update node identity", err)
			}

			n, err := s.scanNode(ctx, tx, nodeID)
			if err != nil {
				return err
			}
			result = n
			return nil
		})
	})
	return result, err
}

// UpsertNodeCapabilities implements upsert_node_capabilities (spec §4.1).
func (s *Store) UpsertNodeCapabilities(ctx context.Context, nodeID string, caps domain.Capabilities) (*domain.Node, error) {
	caps.Normalize()
	if err := caps.Validate(); err != nil {
		return nil, apierrors.NewValidation(err.Error())
	}

	var result *domain.Node
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.getOrCreateNode(ctx, tx, nodeID); err != nil {
				return err
			}

			capsJSON, err := marshalJSON(caps)
			if err != nil {
				return apierrors.NewInternal("marshal capabilities", err)
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE nodes SET capabilities = $2, updated_at = $3 WHERE node_id = $1`,
				nodeID, capsJSON, time.Now().UTC())
			if err != nil {
				return apierrors.NewInternal("update node capabilities", err)
			}

			n, err := s.scanNode(ctx, tx, nodeID)
			if err != nil {
				return err
			}
			result = n
			return nil
		})
	})
	return result, err
}

// UpdateNodeMetrics implements update_node_metrics (spec §4.1): replaces
// metrics, flips status to ONLINE, and sets last_seen from the heartbeat
// timestamp. Last-writer-wins is intentional (spec §5): metrics are
// snapshot values, so concurrent heartbeats for the same node need no
// ordering beyond whichever commits last.
func (s *Store) UpdateNodeMetrics(ctx context.Context, nodeID string, metrics domain.Metrics) (*domain.Node, error) {
	if err := metrics.Validate(); err != nil {
		return nil, apierrors.NewValidation(err.Error())
	}
	if metrics.HeartbeatTS.IsZero() {
		metrics.HeartbeatTS = time.Now().UTC()
	}

	var result *domain.Node
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.getOrCreateNode(ctx, tx, nodeID); err != nil {
				return err
			}

			metricsJSON, err := marshalJSON(metrics)
			if err != nil {
				return apierrors.NewInternal("marshal metrics", err)
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE nodes SET metrics = $2, status = $3, last_seen = $4, updated_at = $5
				WHERE node_id = $1`,
				nodeID, metricsJSON, domain.NodeOnline, metrics.HeartbeatTS, time.Now().UTC())
			if err != nil {
				return apierrors.NewInternal("update node metrics", err)
			}

			n, err := s.scanNode(ctx, tx, nodeID)
			if err != nil {
				return err
			}
			result = n
			return nil
		})
	})
	return result, err
}

// UpdateNodePolicy implements update_node_policy (spec §4.1).
func (s *Store) UpdateNodePolicy(ctx context.Context, nodeID string, policy domain.Policy) (*domain.Node, error) {
	if err := policy.Validate(); err != nil {
		return nil, apierrors.NewValidation(err.Error())
	}

	var result *domain.Node
	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.getOrCreateNode(ctx, tx, nodeID); err != nil {
				return err
			}

			policyJSON, err := marshalJSON(policy)
			if err != nil {
				return apierrors.NewInternal("marshal policy", err)
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE nodes SET policy = $2, updated_at = $3 WHERE node_id = $1`,
				nodeID, policyJSON, time.Now().UTC())
			if err != nil {
				return apierrors.NewInternal("update node policy", err)
			}

			n, err := s.scanNode(ctx, tx, nodeID)
			if err != nil {
				return err
			}
			result = n
			return nil
		})
	})
	return result, err
}

// MarkOfflineIfStale implements mark_offline_if_stale (spec §4.1, §4.6):
// transitions every node whose last_seen predates the cutoff to OFFLINE
// and returns exactly the nodes that transitioned.
func (s *Store) MarkOfflineIfStale(ctx context.Context, cutoffSeconds int) ([]*domain.Node, error) {
	var transitioned []*domain.Node

	err := s.withWriteLock(func() error {
		return s.execTx(ctx, func(tx *sql.Tx) error {
			cutoff := time.Now().UTC().Add(-time.Duration(cutoffSeconds) * time.Second)

			rows, err := tx.QueryContext(ctx, `
				SELECT node_id FROM nodes
				WHERE last_seen IS NOT NULL AND last_seen < $1 AND status != $2
				FOR UPDATE`, cutoff, domain.NodeOffline)
			if err != nil {
				return apierrors.NewInternal("select stale nodes", err)
			}

			var ids []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return apierrors.NewInternal("scan stale node id", err)
				}
				ids = append(ids, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return apierrors.NewInternal("iterate stale nodes", err)
			}

			for _, id := range ids {
				_, err := tx.ExecContext(ctx, `
					UPDATE nodes SET status = $2, updated_at = $3 WHERE node_id = $1`,
					id, domain.NodeOffline, time.Now().UTC())
				if err != nil {
					return apierrors.NewInternal("mark node offline", err)
				}
				n, err := s.scanNode(ctx, tx, id)
				if err != nil {
					return err
				}
				transitioned = append(transitioned, n)
			}
			return nil
		})
	})

	return transitioned, err
}
