package logstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/hummock/sharedbuffer"
	"github.com/tidestream/tidestream/pkg/hummock/version"
	"github.com/tidestream/tidestream/pkg/objectstore"
)

func TestEntryEncodeDecodeRoundTripChunk(t *testing.T) {
	e := &Entry{Kind: EntryChunk, Epoch: 7, ChunkBytes: []byte("payload")}
	data := e.encode()

	decoded, err := decodeEntry(3, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), decoded.Offset)
	assert.Equal(t, EntryChunk, decoded.Kind)
	assert.Equal(t, uint64(7), decoded.Epoch)
	assert.Equal(t, []byte("payload"), decoded.ChunkBytes)
}

func TestEntryEncodeDecodeRoundTripBarrier(t *testing.T) {
	e := &Entry{Kind: EntryBarrier, Epoch: 9, VnodeBitmap: []byte{0xff, 0x01}}
	data := e.encode()

	decoded, err := decodeEntry(0, data)
	require.NoError(t, err)
	assert.Equal(t, EntryBarrier, decoded.Kind)
	assert.Equal(t, []byte{0xff, 0x01}, decoded.VnodeBitmap)
}

func TestDecodeEntryRejectsTooShortInput(t *testing.T) {
	_, err := decodeEntry(0, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeEntryRejectsUnknownKind(t *testing.T) {
	e := &Entry{Kind: EntryChunk, Epoch: 1, ChunkBytes: []byte("x")}
	data := e.encode()
	data[0] = 0x42
	_, err := decodeEntry(0, data)
	assert.Error(t, err)
}

func newTestWriter() *Writer {
	versions := version.NewManager()
	uploader := sharedbuffer.NewUploader(objectstore.NewMemStore(), versions, sharedbuffer.NewConflictDetector(false), "data")
	return NewWriter(1, 1, uploader)
}

func TestWriterAppendChunkAssignsSequentialOffsets(t *testing.T) {
	w := newTestWriter()
	w.InitEpoch(1)
	o1 := w.AppendChunk([]byte("a"))
	o2 := w.AppendChunk([]byte("b"))
	assert.Equal(t, uint64(0), o1)
	assert.Equal(t, uint64(1), o2)
}

func TestWriterSyncStagesCurrentEpochBatch(t *testing.T) {
	w := newTestWriter()
	w.InitEpoch(1)
	w.AppendChunk([]byte("a"))
	require.NoError(t, w.Sync(context.Background()))
}

func TestWriterSyncWithNoEpochOpenIsNoop(t *testing.T) {
	w := newTestWriter()
	assert.NoError(t, w.Sync(context.Background()))
}

func TestTruncationTrackerAdvancesAndRejectsBackwardsMove(t *testing.T) {
	tr := NewTruncationTracker()
	require.NoError(t, tr.Truncate(1, 10))
	assert.Equal(t, uint64(10), tr.TruncatedOffset(1))

	require.NoError(t, tr.Truncate(1, 15))
	assert.Equal(t, uint64(15), tr.TruncatedOffset(1))

	err := tr.Truncate(1, 5)
	assert.Error(t, err)
	assert.Equal(t, uint64(15), tr.TruncatedOffset(1), "rejected truncate must not move the point")
}

func TestTruncationTrackerTracksChannelsIndependently(t *testing.T) {
	tr := NewTruncationTracker()
	require.NoError(t, tr.Truncate(1, 5))
	assert.Equal(t, uint64(0), tr.TruncatedOffset(2))
}
