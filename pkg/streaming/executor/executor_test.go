package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/hummock/sharedbuffer"
	"github.com/tidestream/tidestream/pkg/hummock/version"
	"github.com/tidestream/tidestream/pkg/objectstore"
	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// stubExecutor replays a fixed message sequence, standing in for whatever
// real upstream operator a test doesn't need to exercise.
type stubExecutor struct {
	schema   []string
	pk       []int
	messages []*actor.Message
	idx      int
}

func (s *stubExecutor) Init(ctx context.Context, epoch uint64) error { return nil }
func (s *stubExecutor) Schema() []string                            { return s.schema }
func (s *stubExecutor) PKIndices() []int                            { return s.pk }
func (s *stubExecutor) Next(ctx context.Context) (*actor.Message, error) {
	if s.idx >= len(s.messages) {
		return nil, nil
	}
	msg := s.messages[s.idx]
	s.idx++
	return msg, nil
}

func chunkMsg(rows [][]interface{}, ops []actor.Op) *actor.Message {
	vis := make([]bool, len(rows))
	for i := range vis {
		vis[i] = true
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: &actor.Chunk{Rows: rows, Ops: ops, Visibility: vis}}
}

func barrierMsg(epoch uint64) *actor.Message {
	return &actor.Message{Kind: actor.MessageBarrier, Barrier: &actor.Barrier{Epoch: epoch}}
}

// newTestStateTable builds a real state table backed by an in-memory
// object store, so Commit/Insert exercise the actual shared-buffer path
// instead of a double.
func newTestStateTable(schema *statetable.Schema) *statetable.StateTable {
	versions := version.NewManager()
	uploader := sharedbuffer.NewUploader(objectstore.NewMemStore(), versions, sharedbuffer.NewConflictDetector(false), "data")
	return statetable.New(1, 1, schema, uploader)
}
