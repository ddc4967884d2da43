package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriterBuffersUntilCommit(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, []Row{{Op: "insert", Values: []interface{}{1}}}))
	assert.Empty(t, w.Committed, "rows must not be visible before Commit")

	require.NoError(t, w.Commit(ctx, 1))
	require.Len(t, w.Committed, 1)
	assert.Equal(t, "insert", w.Committed[0].Op)
}

func TestMemoryWriterCommitClearsPendingAfterFlush(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, []Row{{Op: "insert"}}))
	require.NoError(t, w.Commit(ctx, 1))
	require.NoError(t, w.Commit(ctx, 2))

	assert.Len(t, w.Committed, 1, "second commit with no new writes must not duplicate rows")
}

func TestMemoryWriterAccumulatesAcrossEpochs(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, []Row{{Op: "insert"}}))
	require.NoError(t, w.Commit(ctx, 1))
	require.NoError(t, w.Write(ctx, []Row{{Op: "delete"}}))
	require.NoError(t, w.Commit(ctx, 2))

	assert.Len(t, w.Committed, 2)
}
