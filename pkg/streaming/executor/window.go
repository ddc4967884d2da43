package executor

import (
	"context"
	"fmt"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// FrameFunc computes one window function's value over an ordered partition
// buffer up to (and including) the current row's position.
type FrameFunc func(partition [][]interface{}, pos int) interface{}

// OverWindowExecutor keeps a per-partition ordered buffer with frame
// semantics, emitting one output row per fully-resolved frame (a row
// becomes resolvable once the buffer holds every row its frame function
// needs — for a running/unbounded-preceding frame that's immediately on
// insert). On checkpoint it persists every partition buffer; Init does not
// read the buffers back, so they start empty.
type OverWindowExecutor struct {
	Base
	upstream   actor.Executor
	partitionCol int
	orderBy    []OrderKey
	fn         FrameFunc
	partitions map[string][][]interface{}
	table      *statetable.StateTable
}

// NewOverWindowExecutor creates an over-window operator.
func NewOverWindowExecutor(upstream actor.Executor, partitionCol int, orderBy []OrderKey, fn FrameFunc, table *statetable.StateTable) *OverWindowExecutor {
	return &OverWindowExecutor{
		Base:         newBase(append(upstream.Schema(), "window_result"), upstream.PKIndices()),
		upstream:     upstream,
		partitionCol: partitionCol,
		orderBy:      orderBy,
		fn:           fn,
		partitions:   make(map[string][][]interface{}),
		table:        table,
	}
}

func (w *OverWindowExecutor) Init(ctx context.Context, epoch uint64) error {
	if err := w.upstream.Init(ctx, epoch); err != nil {
		return err
	}
	w.table.InitEpoch(epoch)
	return nil
}

func (w *OverWindowExecutor) Next(ctx context.Context) (*actor.Message, error) {
	msg, err := w.upstream.Next(ctx)
	if err != nil || msg == nil {
		return msg, err
	}
	if msg.Kind == actor.MessageBarrier {
		for key, rows := range w.partitions {
			for _, row := range rows {
				w.table.Insert(statetable.Row(append([]interface{}{key}, row...)))
			}
		}
		if err := w.table.Commit(ctx); err != nil {
			return nil, err
		}
		w.table.InitEpoch(msg.Barrier.Epoch)
		return msg, nil
	}

	var out actor.Chunk
	for i, row := range msg.Chunk.Rows {
		if !isVisible(msg.Chunk, i) {
			continue
		}
		key := fmt.Sprint(row[w.partitionCol])
		buf := insertOrdered(w.partitions[key], row, w.orderBy)
		w.partitions[key] = buf

		pos := indexOf(buf, row)
		result := w.fn(buf, pos)
		out.Rows = append(out.Rows, append(append([]interface{}{}, row...), result))
		out.Ops = append(out.Ops, actor.OpInsert)
		out.Visibility = append(out.Visibility, true)
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: &out}, nil
}

func insertOrdered(buf [][]interface{}, row []interface{}, orderBy []OrderKey) [][]interface{} {
	i := 0
	for i < len(buf) && less(orderBy, buf[i], row) {
		i++
	}
	buf = append(buf, nil)
	copy(buf[i+1:], buf[i:])
	buf[i] = row
	return buf
}

func indexOf(buf [][]interface{}, row []interface{}) int {
	for i, r := range buf {
		if rowEqual(r, row) {
			return i
		}
	}
	return len(buf) - 1
}

// RunningSum is a FrameFunc summing one float64-coercible column from the
// partition's start through pos (an unbounded-preceding running total).
func RunningSum(col int) FrameFunc {
	return func(partition [][]interface{}, pos int) interface{} {
		var sum float64
		for i := 0; i <= pos; i++ {
			f, _ := toFloat(partition[i][col])
			sum += f
		}
		return sum
	}
}
