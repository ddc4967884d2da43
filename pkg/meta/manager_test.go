package meta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(&Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Bootstrap())
	t.Cleanup(func() { mgr.Stop() })

	require.Eventually(t, mgr.IsLeader, 5*time.Second, 20*time.Millisecond, "single-node raft never elected itself leader")
	return mgr
}

func TestManagerWorkerLifecycle(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.RegisterWorker("w1", WorkerCompute, "127.0.0.1", 6001))

	workers := mgr.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, WorkerStarting, workers[0].Status)

	require.NoError(t, mgr.Activate("w1"))
	workers = mgr.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, WorkerRunning, workers[0].Status)

	require.NoError(t, mgr.Heartbeat("w1", 1234))
	workers = mgr.ListWorkers()
	require.Equal(t, int64(1234), workers[0].HeartbeatUnix)
}

func TestManagerActivateUnknownWorkerFails(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.Activate("does-not-exist")
	assert.Error(t, err)
}

func TestManagerCatalogDDL(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.CreateDatabase("default", 1))
	require.NoError(t, mgr.CreateSchema(&Schema{ID: 1, DatabaseID: 1, Name: "public"}))
	require.NoError(t, mgr.CreateTable(&Table{ID: 1, SchemaID: 1, Name: "orders"}))

	tables, err := mgr.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)

	require.NoError(t, mgr.DropTable(1, "orders"))
	tables, err = mgr.ListTables()
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestManagerResolveTableSatisfiesCatalogResolver(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.CreateDatabase("default", 1))
	require.NoError(t, mgr.CreateSchema(&Schema{ID: 1, DatabaseID: 1, Name: "public"}))
	require.NoError(t, mgr.CreateTable(&Table{ID: 1, SchemaID: 1, Name: "orders", Columns: []string{"id", "amount"}}))

	info, err := mgr.ResolveTable(context.Background(), "public", "orders")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.ID)
	require.Len(t, info.Columns, 2)
	assert.Equal(t, "amount", info.Columns[1].Name)
}

func TestManagerResolveTableUnknownSchemaFails(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.ResolveTable(context.Background(), "missing", "orders")
	assert.Error(t, err)
}

func TestManagerRaftStatsReportsLeader(t *testing.T) {
	mgr := newTestManager(t)
	stats := mgr.GetRaftStats()
	require.NotNil(t, stats)
	assert.Equal(t, "Leader", stats["state"])
	if peers, ok := stats["peers"].(int); ok {
		assert.GreaterOrEqual(t, peers, 1)
	} else {
		t.Fatalf("expected peers to be int, got %T", stats["peers"])
	}
}
