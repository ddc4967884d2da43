package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func TestValuesExecutorEmitsRowsOnceThenBlocksOnInbox(t *testing.T) {
	inbox := actor.NewInbox(1)
	rows := [][]interface{}{{int64(1)}, {int64(2)}}
	v := NewValuesExecutor([]string{"a"}, []int{0}, rows, inbox)

	msg, err := v.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, actor.MessageChunk, msg.Kind)
	assert.Equal(t, rows, msg.Chunk.Rows)

	barrier := &actor.Message{Kind: actor.MessageBarrier, Barrier: &actor.Barrier{Epoch: 1}}
	require.NoError(t, inbox.Send(context.Background(), barrier))
	msg2, err := v.Next(context.Background())
	require.NoError(t, err)
	assert.Same(t, barrier, msg2)
}
