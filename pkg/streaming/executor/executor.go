// Package executor implements the concrete streaming operators: the
// capability set every one of them satisfies is actor.Executor
// (Init/Next/Schema/PKIndices, spec §9's dynamic-dispatch decision —
// operators are plain interface values driven by Actor.Run, not a
// closed enum switched on at the call site). Most operators wrap one
// upstream actor.Executor and are pulled in a straight chain within a
// single actor; only the leaf executors Source and Values (and,
// transitively, any executor sitting above them) also consume barriers
// pushed onto an Inbox from outside the chain, since a leaf has no
// upstream of its own to pull a barrier from.
package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// Base gives an executor its Schema/PKIndices; concrete executors embed it
// and implement Init and Next themselves.
type Base struct {
	schema    []string
	pkIndices []int
}

func newBase(schema []string, pkIndices []int) Base {
	return Base{schema: schema, pkIndices: pkIndices}
}

func (b *Base) Schema() []string  { return b.schema }
func (b *Base) PKIndices() []int { return b.pkIndices }

// RowPredicate is a boolean test over a row, used by Filter and as the
// dynamic half of DynamicFilter.
type RowPredicate func(row []interface{}) bool

// RowTransform projects/derives an output row from an input row.
type RowTransform func(row []interface{}) []interface{}

// filterChunk keeps rows (and their op/visibility) for which keep returns
// true, preserving order.
func filterChunk(c *actor.Chunk, keep func(i int, row []interface{}) bool) *actor.Chunk {
	out := &actor.Chunk{}
	for i, row := range c.Rows {
		if !keep(i, row) {
			continue
		}
		out.Rows = append(out.Rows, row)
		if i < len(c.Ops) {
			out.Ops = append(out.Ops, c.Ops[i])
		}
		out.Visibility = append(out.Visibility, true)
	}
	return out
}

func isVisible(c *actor.Chunk, i int) bool {
	return i >= len(c.Visibility) || c.Visibility[i]
}

// pullNonBarrierForwarding calls upstream.Next and, for a barrier message,
// runs onBarrier before returning it unchanged — the common case for every
// stateless or state-flushing operator that doesn't otherwise touch
// control messages.
func pullNonBarrierForwarding(ctx context.Context, upstream actor.Executor, onBarrier func(epoch uint64) error) (*actor.Message, error) {
	msg, err := upstream.Next(ctx)
	if err != nil || msg == nil {
		return msg, err
	}
	if msg.Kind == actor.MessageBarrier && onBarrier != nil {
		if err := onBarrier(msg.Barrier.Epoch); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
