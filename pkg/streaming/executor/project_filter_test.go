package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func TestProjectExecutorTransformsEveryRow(t *testing.T) {
	upstream := &stubExecutor{messages: []*actor.Message{
		chunkMsg([][]interface{}{{int64(1)}, {int64(2)}}, nil),
	}}
	p := NewProjectExecutor(nil, nil, upstream, func(row []interface{}) []interface{} {
		return []interface{}{row[0].(int64) * 2}
	})

	msg, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(2)}, {int64(4)}}, msg.Chunk.Rows)
}

func TestProjectExecutorForwardsBarrierUnchanged(t *testing.T) {
	upstream := &stubExecutor{messages: []*actor.Message{barrierMsg(3)}}
	p := NewProjectExecutor(nil, nil, upstream, func(row []interface{}) []interface{} { return row })

	msg, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, actor.MessageBarrier, msg.Kind)
	assert.Equal(t, uint64(3), msg.Barrier.Epoch)
}

func TestFilterExecutorDropsNonMatchingAndInvisibleRows(t *testing.T) {
	upstream := &stubExecutor{schema: []string{"a"}, messages: []*actor.Message{
		{Kind: actor.MessageChunk, Chunk: &actor.Chunk{
			Rows:       [][]interface{}{{int64(1)}, {int64(2)}, {int64(3)}},
			Visibility: []bool{true, false, true},
		}},
	}}
	f := NewFilterExecutor(upstream, func(row []interface{}) bool {
		return row[0].(int64) > 1
	})

	msg, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(3)}}, msg.Chunk.Rows)
}

func TestFilterExecutorInheritsUpstreamSchema(t *testing.T) {
	upstream := &stubExecutor{schema: []string{"a", "b"}, pk: []int{0}}
	f := NewFilterExecutor(upstream, func(row []interface{}) bool { return true })
	assert.Equal(t, []string{"a", "b"}, f.Schema())
	assert.Equal(t, []int{0}, f.PKIndices())
}
