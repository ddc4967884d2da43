package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := NewCatalog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestCatalogTableRoundTrip(t *testing.T) {
	cat := newTestCatalog(t)

	tbl := &Table{ID: 1, SchemaID: 1, Name: "orders", Columns: []string{"id", "amount"}}
	require.NoError(t, cat.PutTable(tbl))

	tables, err := cat.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)
	assert.Equal(t, []string{"id", "amount"}, tables[0].Columns)

	require.NoError(t, cat.DeleteTable(1, "orders"))
	tables, err = cat.ListTables()
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestCatalogWorkerRoundTrip(t *testing.T) {
	cat := newTestCatalog(t)

	w := &Worker{ID: "w1", Kind: WorkerCompute, Status: WorkerStarting, Host: "127.0.0.1", Port: 6001}
	require.NoError(t, cat.PutWorker(w))

	workers, err := cat.ListWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, WorkerStarting, workers[0].Status)

	require.NoError(t, cat.DeleteWorker("w1"))
	workers, err = cat.ListWorkers()
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestCatalogDatabaseAndSourcePut(t *testing.T) {
	cat := newTestCatalog(t)

	require.NoError(t, cat.PutDatabase(&Database{ID: 1, Name: "default"}))
	require.NoError(t, cat.PutSchema(&Schema{ID: 1, DatabaseID: 1, Name: "public"}))
	require.NoError(t, cat.PutSource(&Source{ID: 1, SchemaID: 1, Name: "events", ConnectorProperties: map[string]string{"topic": "events"}}))
}
