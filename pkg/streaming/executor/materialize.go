package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// MaterializeExecutor is the only writer to a user-visible state table: it
// applies every row in each chunk (insert/update-after -> Insert,
// delete/update-before -> Delete) and, on barrier, opens the table's next
// epoch and commits the batch staged for the one just closed.
type MaterializeExecutor struct {
	Base
	upstream actor.Executor
	table    *statetable.StateTable
	schema   *statetable.Schema
}

// NewMaterializeExecutor wraps upstream, writing every chunk into table.
func NewMaterializeExecutor(upstream actor.Executor, table *statetable.StateTable, schema *statetable.Schema) *MaterializeExecutor {
	return &MaterializeExecutor{
		Base:     newBase(upstream.Schema(), upstream.PKIndices()),
		upstream: upstream,
		table:    table,
		schema:   schema,
	}
}

func (m *MaterializeExecutor) Init(ctx context.Context, epoch uint64) error {
	if err := m.upstream.Init(ctx, epoch); err != nil {
		return err
	}
	m.table.InitEpoch(epoch)
	return nil
}

func (m *MaterializeExecutor) Next(ctx context.Context) (*actor.Message, error) {
	msg, err := m.upstream.Next(ctx)
	if err != nil || msg == nil {
		return msg, err
	}
	switch msg.Kind {
	case actor.MessageChunk:
		for i, row := range msg.Chunk.Rows {
			if !isVisible(msg.Chunk, i) {
				continue
			}
			op := actor.OpInsert
			if i < len(msg.Chunk.Ops) {
				op = msg.Chunk.Ops[i]
			}
			switch op {
			case actor.OpDelete, actor.OpUpdateBefore:
				m.table.Delete(statetable.Row(row))
			default:
				m.table.Insert(statetable.Row(row))
			}
		}
		return msg, nil
	case actor.MessageBarrier:
		if err := m.table.Commit(ctx); err != nil {
			return nil, err
		}
		m.table.InitEpoch(msg.Barrier.Epoch)
		return msg, nil
	}
	return msg, nil
}
