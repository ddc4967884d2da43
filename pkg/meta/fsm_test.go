package meta

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*FSM, *Catalog) {
	t.Helper()
	cat := newTestCatalog(t)
	return NewFSM(cat), cat
}

func applyCommand(t *testing.T, fsm *FSM, op string, payload interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmd := Command{Op: op, Data: data}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: raw})
}

func TestFSMApplyPutAndDeleteTable(t *testing.T) {
	fsm, cat := newTestFSM(t)

	res := applyCommand(t, fsm, opPutTable, &Table{ID: 1, SchemaID: 1, Name: "orders"})
	if err, ok := res.(error); ok {
		require.NoError(t, err)
	}

	tables, err := cat.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)

	res = applyCommand(t, fsm, opDeleteTable, struct {
		SchemaID uint32
		Name     string
	}{SchemaID: 1, Name: "orders"})
	if err, ok := res.(error); ok {
		require.NoError(t, err)
	}

	tables, err = cat.ListTables()
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestFSMApplyUnknownOp(t *testing.T) {
	fsm, _ := newTestFSM(t)
	res := applyCommand(t, fsm, "not_a_real_op", struct{}{})
	err, ok := res.(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "unknown command op")
}

// fakeSnapshotSink is a minimal in-memory raft.SnapshotSink for exercising
// FSM.Snapshot's Persist without a real raft snapshot store.
type fakeSnapshotSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *fakeSnapshotSink) ID() string     { return "fake" }
func (s *fakeSnapshotSink) Cancel() error  { s.cancelled = true; return nil }
func (s *fakeSnapshotSink) Close() error   { return nil }

func TestFSMSnapshotRestoreRoundTrip(t *testing.T) {
	fsm, cat := newTestFSM(t)
	require.NoError(t, cat.PutTable(&Table{ID: 1, SchemaID: 1, Name: "orders"}))
	require.NoError(t, cat.PutWorker(&Worker{ID: "w1", Kind: WorkerCompute, Status: WorkerRunning}))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &fakeSnapshotSink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	restoreCat := newTestCatalog(t)
	restoreFSM := NewFSM(restoreCat)
	require.NoError(t, restoreFSM.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	tables, err := restoreCat.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)

	workers, err := restoreCat.ListWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, WorkerRunning, workers[0].Status)
}
