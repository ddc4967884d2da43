package executor

import (
	"container/heap"
	"context"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// OrderKey is one column of a TopN/OverWindow order-pair list.
type OrderKey struct {
	Col  int
	Desc bool
}

func less(orderBy []OrderKey, a, b []interface{}) bool {
	for _, k := range orderBy {
		cmp := compareScalar(a[k.Col], b[k.Col])
		if cmp == 0 {
			continue
		}
		if k.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func compareScalar(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := toString(a), toString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// topNHeap is a max-heap over the current top set, ordered so the worst
// (first-to-evict) row sits at index 0 under the supplied order.
type topNHeap struct {
	rows    [][]interface{}
	orderBy []OrderKey
}

func (h topNHeap) Len() int { return len(h.rows) }
func (h topNHeap) Less(i, j int) bool {
	// worst row first: reverse of "less" ordering so Pop evicts the worst.
	return less(h.orderBy, h.rows[j], h.rows[i])
}
func (h topNHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *topNHeap) Push(x interface{}) { h.rows = append(h.rows, x.([]interface{})) }
func (h *topNHeap) Pop() interface{} {
	old := h.rows
	n := len(old)
	item := old[n-1]
	h.rows = old[:n-1]
	return item
}

// belowHeap is a min-heap (by order-pair list) over every row that didn't
// make the top set: index 0 is always the best candidate to promote when a
// top-set row is retracted.
type belowHeap struct {
	rows    [][]interface{}
	orderBy []OrderKey
}

func (h belowHeap) Len() int            { return len(h.rows) }
func (h belowHeap) Less(i, j int) bool  { return less(h.orderBy, h.rows[i], h.rows[j]) }
func (h belowHeap) Swap(i, j int)       { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *belowHeap) Push(x interface{}) { h.rows = append(h.rows, x.([]interface{})) }
func (h *belowHeap) Pop() interface{} {
	old := h.rows
	n := len(old)
	item := old[n-1]
	h.rows = old[:n-1]
	return item
}

// TopNExecutor keeps the top set in a heap of at most limit rows with the
// worst row on top, ordered and tie-broken by an order-pair list; supports
// append-only and retract streams. Every row that doesn't fit in the top
// set is kept in below, a secondary min-heap, so that retracting a top-set
// row can immediately promote the next-best candidate instead of leaving
// the set short. The current top set is written to a state table on every
// barrier; Init does not read it back, so the heap starts empty.
type TopNExecutor struct {
	Base
	upstream actor.Executor
	limit    int
	orderBy  []OrderKey
	heap     *topNHeap
	below    belowHeap
	table    *statetable.StateTable
}

// NewTopNExecutor creates a top-N operator over upstream.
func NewTopNExecutor(upstream actor.Executor, limit int, orderBy []OrderKey, table *statetable.StateTable) *TopNExecutor {
	return &TopNExecutor{
		Base:     newBase(upstream.Schema(), upstream.PKIndices()),
		upstream: upstream,
		limit:    limit,
		orderBy:  orderBy,
		heap:     &topNHeap{orderBy: orderBy},
		below:    belowHeap{orderBy: orderBy},
		table:    table,
	}
}

func (t *TopNExecutor) Init(ctx context.Context, epoch uint64) error {
	if err := t.upstream.Init(ctx, epoch); err != nil {
		return err
	}
	t.table.InitEpoch(epoch)
	return nil
}

func (t *TopNExecutor) Next(ctx context.Context) (*actor.Message, error) {
	msg, err := t.upstream.Next(ctx)
	if err != nil || msg == nil {
		return msg, err
	}
	if msg.Kind == actor.MessageBarrier {
		for _, row := range t.heap.rows {
			t.table.Insert(statetable.Row(row))
		}
		if err := t.table.Commit(ctx); err != nil {
			return nil, err
		}
		t.table.InitEpoch(msg.Barrier.Epoch)
		return msg, nil
	}

	var changed bool
	for i, row := range msg.Chunk.Rows {
		if !isVisible(msg.Chunk, i) {
			continue
		}
		op := actor.OpInsert
		if i < len(msg.Chunk.Ops) {
			op = msg.Chunk.Ops[i]
		}
		if op == actor.OpDelete || op == actor.OpUpdateBefore {
			if t.retract(row) {
				changed = true
			}
			continue
		}
		if t.admit(row) {
			changed = true
		}
	}
	if !changed {
		return &actor.Message{Kind: actor.MessageChunk, Chunk: &actor.Chunk{}}, nil
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: t.snapshotChunk()}, nil
}

func (t *TopNExecutor) admit(row []interface{}) bool {
	if t.heap.Len() < t.limit {
		heap.Push(t.heap, row)
		return true
	}
	worst := t.heap.rows[0]
	if less(t.orderBy, row, worst) {
		evicted := heap.Pop(t.heap).([]interface{})
		heap.Push(t.heap, row)
		heap.Push(&t.below, evicted)
		return true
	}
	heap.Push(&t.below, row)
	return false
}

// retract removes row from wherever it currently sits. A top-set removal
// backfills the vacated slot from below (the next-best row under orderBy)
// so the top set stays at limit size instead of shrinking; a below-set
// removal is invisible downstream and reports no change.
func (t *TopNExecutor) retract(row []interface{}) bool {
	if idx := findRowIndex(t.heap.rows, row); idx >= 0 {
		heap.Remove(t.heap, idx)
		if t.below.Len() > 0 {
			promoted := heap.Pop(&t.below).([]interface{})
			heap.Push(t.heap, promoted)
		}
		return true
	}
	if idx := findRowIndex(t.below.rows, row); idx >= 0 {
		heap.Remove(&t.below, idx)
	}
	return false
}

func findRowIndex(rows [][]interface{}, row []interface{}) int {
	for i, r := range rows {
		if rowEqual(r, row) {
			return i
		}
	}
	return -1
}

func rowEqual(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if compareScalar(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

func (t *TopNExecutor) snapshotChunk() *actor.Chunk {
	ops := make([]actor.Op, len(t.heap.rows))
	vis := make([]bool, len(t.heap.rows))
	for i := range ops {
		ops[i] = actor.OpUpdateAfter
		vis[i] = true
	}
	return &actor.Chunk{Rows: append([][]interface{}{}, t.heap.rows...), Ops: ops, Visibility: vis}
}
