package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func materializeSchema() *statetable.Schema {
	return &statetable.Schema{
		Columns:   []statetable.ColumnType{statetable.TypeInt64},
		PkIndices: []int{0},
	}
}

func TestMaterializeExecutorForwardsChunkAfterWriting(t *testing.T) {
	schema := materializeSchema()
	upstream := &stubExecutor{messages: []*actor.Message{
		chunkMsg([][]interface{}{{int64(1)}, {int64(2)}}, []actor.Op{actor.OpInsert, actor.OpDelete}),
	}}
	m := NewMaterializeExecutor(upstream, newTestStateTable(schema), schema)
	require.NoError(t, m.Init(context.Background(), 1))

	msg, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, actor.MessageChunk, msg.Kind)
	assert.Len(t, msg.Chunk.Rows, 2)
}

func TestMaterializeExecutorCommitsAndReopensEpochOnBarrier(t *testing.T) {
	schema := materializeSchema()
	upstream := &stubExecutor{messages: []*actor.Message{barrierMsg(9)}}
	m := NewMaterializeExecutor(upstream, newTestStateTable(schema), schema)
	require.NoError(t, m.Init(context.Background(), 1))

	msg, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, actor.MessageBarrier, msg.Kind)
	assert.Equal(t, uint64(9), msg.Barrier.Epoch)
}
