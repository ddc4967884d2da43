package executor

import (
	"context"
	"fmt"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// AggFunc accumulates one group's aggregate value over a stream of rows,
// implementing the value-state half of the aggregation-state abstraction
// (sum/count); ordered-set state for min/max and the distinct-value table
// are left to a richer AggFunc implementation than this one covers.
type AggFunc interface {
	Add(row []interface{})
	Remove(row []interface{})
	Result() interface{}
}

// SumInt64Agg sums one int64 column, retracting on delete/update-before.
type SumInt64Agg struct {
	col int
	sum int64
}

func NewSumInt64Agg(col int) *SumInt64Agg { return &SumInt64Agg{col: col} }
func (a *SumInt64Agg) Add(row []interface{})    { a.sum += row[a.col].(int64) }
func (a *SumInt64Agg) Remove(row []interface{}) { a.sum -= row[a.col].(int64) }
func (a *SumInt64Agg) Result() interface{}      { return a.sum }

// CountAgg counts rows per group.
type CountAgg struct{ n int64 }

func NewCountAgg() *CountAgg             { return &CountAgg{} }
func (a *CountAgg) Add(row []interface{})    { a.n++ }
func (a *CountAgg) Remove(row []interface{}) { a.n-- }
func (a *CountAgg) Result() interface{}      { return a.n }

// HashAggExecutor maintains one AggFunc instance per distinct group-key
// value, emitting the updated aggregate row after every input chunk.
// Each updated group row is written to a state table and committed on
// barrier; Init does not read the table back, so the in-memory map starts
// empty.
type HashAggExecutor struct {
	Base
	upstream  actor.Executor
	groupCols []int
	newAgg    func() AggFunc
	groups    map[string]AggFunc
	groupKeys map[string][]interface{}
	table     *statetable.StateTable
}

// NewHashAggExecutor wraps upstream, grouping by groupCols and tracking
// one aggregate per group via newAgg.
func NewHashAggExecutor(upstream actor.Executor, groupCols []int, newAgg func() AggFunc, table *statetable.StateTable) *HashAggExecutor {
	return &HashAggExecutor{
		Base:      newBase(upstream.Schema(), groupCols),
		upstream:  upstream,
		groupCols: groupCols,
		newAgg:    newAgg,
		groups:    make(map[string]AggFunc),
		groupKeys: make(map[string][]interface{}),
		table:     table,
	}
}

func (h *HashAggExecutor) groupKey(row []interface{}) string {
	return fmt.Sprint(pick(row, h.groupCols))
}

func pick(row []interface{}, idxs []int) []interface{} {
	out := make([]interface{}, len(idxs))
	for i, idx := range idxs {
		out[i] = row[idx]
	}
	return out
}

func (h *HashAggExecutor) Init(ctx context.Context, epoch uint64) error {
	if err := h.upstream.Init(ctx, epoch); err != nil {
		return err
	}
	h.table.InitEpoch(epoch)
	return nil
}

func (h *HashAggExecutor) Next(ctx context.Context) (*actor.Message, error) {
	msg, err := h.upstream.Next(ctx)
	if err != nil || msg == nil {
		return msg, err
	}
	if msg.Kind == actor.MessageBarrier {
		if err := h.table.Commit(ctx); err != nil {
			return nil, err
		}
		h.table.InitEpoch(msg.Barrier.Epoch)
		return msg, nil
	}

	var outRows [][]interface{}
	var outOps []actor.Op
	touched := make(map[string]bool)
	for i, row := range msg.Chunk.Rows {
		if !isVisible(msg.Chunk, i) {
			continue
		}
		key := h.groupKey(row)
		agg, ok := h.groups[key]
		if !ok {
			agg = h.newAgg()
			h.groups[key] = agg
			h.groupKeys[key] = pick(row, h.groupCols)
		}
		op := actor.OpInsert
		if i < len(msg.Chunk.Ops) {
			op = msg.Chunk.Ops[i]
		}
		switch op {
		case actor.OpDelete, actor.OpUpdateBefore:
			agg.Remove(row)
		default:
			agg.Add(row)
		}
		touched[key] = true
	}
	for key := range touched {
		result := append(append([]interface{}{}, h.groupKeys[key]...), h.groups[key].Result())
		outRows = append(outRows, result)
		outOps = append(outOps, actor.OpUpdateAfter)
		h.table.Insert(statetable.Row(result))
	}
	vis := make([]bool, len(outRows))
	for i := range vis {
		vis[i] = true
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: &actor.Chunk{Rows: outRows, Ops: outOps, Visibility: vis}}, nil
}
