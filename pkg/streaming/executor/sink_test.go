package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/sink"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func TestSinkExecutorWritesVisibleRowsAndForwardsChunk(t *testing.T) {
	upstream := &stubExecutor{messages: []*actor.Message{
		chunkMsg([][]interface{}{{int64(1)}, {int64(2)}}, []actor.Op{actor.OpInsert, actor.OpDelete}),
	}}
	w := sink.NewMemoryWriter()
	s := NewSinkExecutor(upstream, w)
	require.NoError(t, s.Init(context.Background(), 1))

	msg, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, actor.MessageChunk, msg.Kind)
	assert.Empty(t, w.Committed, "rows must not be visible before commit")
}

func TestSinkExecutorDropsInvisibleRows(t *testing.T) {
	chunk := &actor.Chunk{
		Rows:       [][]interface{}{{int64(1)}, {int64(2)}},
		Ops:        []actor.Op{actor.OpInsert, actor.OpInsert},
		Visibility: []bool{true, false},
	}
	upstream := &stubExecutor{messages: []*actor.Message{{Kind: actor.MessageChunk, Chunk: chunk}, barrierMsg(1)}}
	w := sink.NewMemoryWriter()
	s := NewSinkExecutor(upstream, w)
	require.NoError(t, s.Init(context.Background(), 1))

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.NoError(t, err)

	require.Len(t, w.Committed, 1)
	assert.Equal(t, int64(1), w.Committed[0].Values[0])
}

func TestSinkExecutorCommitsOnBarrierAndForwardsIt(t *testing.T) {
	upstream := &stubExecutor{messages: []*actor.Message{
		chunkMsg([][]interface{}{{int64(1)}}, []actor.Op{actor.OpInsert}),
		barrierMsg(7),
	}}
	w := sink.NewMemoryWriter()
	s := NewSinkExecutor(upstream, w)
	require.NoError(t, s.Init(context.Background(), 1))

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, w.Committed)

	msg, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, actor.MessageBarrier, msg.Kind)
	assert.Equal(t, uint64(7), msg.Barrier.Epoch)
	require.Len(t, w.Committed, 1)
	assert.Equal(t, "insert", w.Committed[0].Op)
}
