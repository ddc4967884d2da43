package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func aggSchema() *statetable.Schema {
	return &statetable.Schema{
		Columns:   []statetable.ColumnType{statetable.TypeVarchar, statetable.TypeInt64},
		PkIndices: []int{0},
	}
}

func TestHashAggExecutorSumsPerGroup(t *testing.T) {
	upstream := &stubExecutor{messages: []*actor.Message{
		chunkMsg([][]interface{}{{"a", int64(1)}, {"b", int64(5)}, {"a", int64(2)}}, nil),
	}}
	agg := NewHashAggExecutor(upstream, []int{0}, func() AggFunc { return NewSumInt64Agg(1) }, newTestStateTable(aggSchema()))
	require.NoError(t, agg.Init(context.Background(), 1))

	msg, err := agg.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, msg.Chunk.Rows, 2)

	results := map[string]int64{}
	for _, row := range msg.Chunk.Rows {
		results[row[0].(string)] = row[1].(int64)
	}
	assert.Equal(t, int64(3), results["a"])
	assert.Equal(t, int64(5), results["b"])
}

func TestHashAggExecutorRetractsOnDelete(t *testing.T) {
	upstream := &stubExecutor{messages: []*actor.Message{
		chunkMsg([][]interface{}{{"a", int64(10)}}, []actor.Op{actor.OpInsert}),
		chunkMsg([][]interface{}{{"a", int64(4)}}, []actor.Op{actor.OpDelete}),
	}}
	agg := NewHashAggExecutor(upstream, []int{0}, func() AggFunc { return NewSumInt64Agg(1) }, newTestStateTable(aggSchema()))
	require.NoError(t, agg.Init(context.Background(), 1))

	_, err := agg.Next(context.Background())
	require.NoError(t, err)
	msg2, err := agg.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, msg2.Chunk.Rows, 1)
	assert.Equal(t, int64(6), msg2.Chunk.Rows[0][1])
}

func TestHashAggExecutorCommitsOnBarrier(t *testing.T) {
	upstream := &stubExecutor{messages: []*actor.Message{barrierMsg(7)}}
	agg := NewHashAggExecutor(upstream, []int{0}, func() AggFunc { return NewCountAgg() }, newTestStateTable(aggSchema()))
	require.NoError(t, agg.Init(context.Background(), 1))

	msg, err := agg.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, actor.MessageBarrier, msg.Kind)
	assert.Equal(t, uint64(7), msg.Barrier.Epoch)
}

func TestCountAggAddRemove(t *testing.T) {
	a := NewCountAgg()
	a.Add(nil)
	a.Add(nil)
	a.Remove(nil)
	assert.Equal(t, int64(1), a.Result())
}
