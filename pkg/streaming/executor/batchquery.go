package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// BatchQueryExecutor streams historical rows from a state table at a fixed
// epoch (its pinned snapshot), then hands over to the live upstream once
// the historical iterator is exhausted — the chain/backfill pattern spec
// §4.9 names: read the snapshot to catch a new fragment up, then switch to
// the ordinary stream without a visible seam.
type BatchQueryExecutor struct {
	Base
	historical *statetable.Iterator
	upstream   actor.Executor
	handedOff  bool
}

// NewBatchQueryExecutor creates a backfill executor: rows is the pinned
// snapshot to replay before handing off to upstream's live stream.
func NewBatchQueryExecutor(schema *statetable.Schema, rows []statetable.Row, upstream actor.Executor) *BatchQueryExecutor {
	return &BatchQueryExecutor{
		Base:       newBase(upstream.Schema(), upstream.PKIndices()),
		historical: statetable.NewIterator(schema, rows),
		upstream:   upstream,
	}
}

func (b *BatchQueryExecutor) Init(ctx context.Context, epoch uint64) error {
	return b.upstream.Init(ctx, epoch)
}

func (b *BatchQueryExecutor) Next(ctx context.Context) (*actor.Message, error) {
	if !b.handedOff {
		if b.historical.Next() {
			row := b.historical.Row()
			return &actor.Message{Kind: actor.MessageChunk, Chunk: &actor.Chunk{
				Rows:       [][]interface{}{row},
				Ops:        []actor.Op{actor.OpInsert},
				Visibility: []bool{true},
			}}, nil
		}
		b.handedOff = true
	}
	return b.upstream.Next(ctx)
}
