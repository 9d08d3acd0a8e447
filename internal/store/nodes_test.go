package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return OpenWithDB(db), mock
}

func TestUpsertNodeIdentity_CreatesThenUpdates(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT node_id, display_name, ip, port, capabilities, metrics, policy, status, last_seen, created_at, updated_at\\s+FROM nodes WHERE node_id = \\$1").
		WithArgs("node-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO nodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE nodes SET display_name").WithArgs("node-1", "Node One", "10.0.0.5", 9000, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT node_id, display_name, ip, port, capabilities, metrics, policy, status, last_seen, created_at, updated_at\\s+FROM nodes WHERE node_id = \\$1").
		WithArgs("node-1").
		WillReturnRows(nodeRow("node-1", "Node One", "10.0.0.5", 9000))
	mock.ExpectCommit()

	node, err := s.UpsertNodeIdentity(ctx, "node-1", "Node One", "10.0.0.5", 9000)
	require.NoError(t, err)
	require.Equal(t, "node-1", node.NodeID)
	require.Equal(t, "Node One", node.DisplayName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func nodeRow(nodeID, displayName, ip string, port int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"node_id", "display_name", "ip", "port", "capabilities", "metrics", "policy",
		"status", "last_seen", "created_at", "updated_at",
	}).AddRow(nodeID, displayName, ip, port, []byte(`{}`), []byte(`{}`), []byte(`{"enabled":true}`),
		string(domain.NodeUnknown), nil, now, now)
}
