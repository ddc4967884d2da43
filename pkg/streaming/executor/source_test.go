package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/connector"
	"github.com/tidestream/tidestream/pkg/hummock/sharedbuffer"
	"github.com/tidestream/tidestream/pkg/hummock/version"
	"github.com/tidestream/tidestream/pkg/logstore"
	"github.com/tidestream/tidestream/pkg/objectstore"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func newTestWriter() *logstore.Writer {
	versions := version.NewManager()
	uploader := sharedbuffer.NewUploader(objectstore.NewMemStore(), versions, sharedbuffer.NewConflictDetector(false), "data")
	return logstore.NewWriter(1, 1, uploader)
}

func TestSourceExecutorPullsConnectorRecordBeforeBlockingOnInbox(t *testing.T) {
	src := connector.NewMemorySource([]connector.Row{{Cols: []interface{}{int64(1)}, Offset: 1}})
	inbox := actor.NewInbox(1)
	writer := newTestWriter()
	writer.InitEpoch(1)
	s := NewSourceExecutor([]string{"a"}, src, writer, inbox)
	require.NoError(t, s.Init(context.Background(), 1))

	msg, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, actor.MessageChunk, msg.Kind)
	assert.Equal(t, []interface{}{int64(1)}, msg.Chunk.Rows[0])
}

func TestSourceExecutorPrefersPendingBarrierOverConnectorRecord(t *testing.T) {
	src := connector.NewMemorySource([]connector.Row{{Cols: []interface{}{int64(1)}, Offset: 1}})
	inbox := actor.NewInbox(1)
	writer := newTestWriter()
	writer.InitEpoch(1)
	barrier := &actor.Message{Kind: actor.MessageBarrier, Barrier: &actor.Barrier{Epoch: 2}}
	require.NoError(t, inbox.Send(context.Background(), barrier))

	s := NewSourceExecutor([]string{"a"}, src, writer, inbox)
	require.NoError(t, s.Init(context.Background(), 1))

	msg, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Same(t, barrier, msg)
}
