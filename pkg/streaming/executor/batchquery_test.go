package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func TestBatchQueryExecutorReplaysSnapshotThenHandsOffToUpstream(t *testing.T) {
	schema := &statetable.Schema{
		Columns:   []statetable.ColumnType{statetable.TypeInt64},
		PkIndices: []int{0},
	}
	rows := []statetable.Row{{int64(2)}, {int64(1)}}
	upstream := &stubExecutor{messages: []*actor.Message{
		chunkMsg([][]interface{}{{int64(3)}}, nil),
	}}
	b := NewBatchQueryExecutor(schema, rows, upstream)
	require.NoError(t, b.Init(context.Background(), 1))

	msg1, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1)}, msg1.Chunk.Rows[0])

	msg2, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2)}, msg2.Chunk.Rows[0])

	msg3, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(3)}}, msg3.Chunk.Rows)
}
