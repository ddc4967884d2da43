package executor

import (
	"context"
	"fmt"

	"github.com/tidestream/tidestream/pkg/statetable"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// side identifies which input of a two-input operator a message came from;
// both HashJoin and DynamicFilter are driven by two upstream chains pulled
// in round-robin by Next, since an actor.Executor has exactly one Next
// method and the actor model gives every operator a single inbound pull
// point.
type side int

const (
	sideLeft side = iota
	sideRight
)

// HashJoinExecutor keeps dual state tables (left, right) keyed by join
// key; on each input chunk it probes the opposite side's state, emits
// matching rows, then writes into its own side's state — the shape spec
// §4.9 names directly.
type HashJoinExecutor struct {
	Base
	left, right       actor.Executor
	leftKey, rightKey int
	leftTable, rightTable *statetable.StateTable
	leftRows  map[interface{}][][]interface{}
	rightRows map[interface{}][][]interface{}
	turn      side
	leftDone, rightDone bool
}

// NewHashJoinExecutor creates a hash join over left.Schema()+right.Schema(),
// keyed by leftKey/rightKey column indices into each side respectively.
func NewHashJoinExecutor(left, right actor.Executor, leftKey, rightKey int, leftTable, rightTable *statetable.StateTable) *HashJoinExecutor {
	schema := append(append([]string{}, left.Schema()...), right.Schema()...)
	return &HashJoinExecutor{
		Base:      newBase(schema, nil),
		left:      left,
		right:     right,
		leftKey:   leftKey,
		rightKey:  rightKey,
		leftTable: leftTable, rightTable: rightTable,
		leftRows:  make(map[interface{}][][]interface{}),
		rightRows: make(map[interface{}][][]interface{}),
	}
}

func (j *HashJoinExecutor) Init(ctx context.Context, epoch uint64) error {
	if err := j.left.Init(ctx, epoch); err != nil {
		return err
	}
	if err := j.right.Init(ctx, epoch); err != nil {
		return err
	}
	j.leftTable.InitEpoch(epoch)
	j.rightTable.InitEpoch(epoch)
	return nil
}

// Next alternates pulling from left and right so neither side starves the
// other. Once one side has delivered a barrier, only the other side is
// pulled until its barrier arrives, and the barrier is then forwarded
// (alignment within the operator, mirroring the actor-level alignment
// invariant one level down). The two barriers' epochs are not compared.
func (j *HashJoinExecutor) Next(ctx context.Context) (*actor.Message, error) {
	for {
		var upstream actor.Executor
		var s side
		if j.rightDone || (j.turn == sideLeft && !j.leftDone) {
			upstream, s = j.left, sideLeft
			j.turn = sideRight
		} else {
			upstream, s = j.right, sideRight
			j.turn = sideLeft
		}

		msg, err := upstream.Next(ctx)
		if err != nil || msg == nil {
			return msg, err
		}
		if msg.Kind == actor.MessageBarrier {
			if s == sideLeft {
				j.leftDone = true
			} else {
				j.rightDone = true
			}
			if j.leftDone && j.rightDone {
				j.leftDone, j.rightDone = false, false
				if err := j.leftTable.Commit(ctx); err != nil {
					return nil, err
				}
				if err := j.rightTable.Commit(ctx); err != nil {
					return nil, err
				}
				j.leftTable.InitEpoch(msg.Barrier.Epoch)
				j.rightTable.InitEpoch(msg.Barrier.Epoch)
				return msg, nil
			}
			continue
		}
		return j.probeAndStore(s, msg.Chunk), nil
	}
}

func (j *HashJoinExecutor) probeAndStore(s side, chunk *actor.Chunk) *actor.Message {
	var out actor.Chunk
	for i, row := range chunk.Rows {
		if !isVisible(chunk, i) {
			continue
		}
		if s == sideLeft {
			key := row[j.leftKey]
			for _, match := range j.rightRows[key] {
				out.Rows = append(out.Rows, append(append([]interface{}{}, row...), match...))
				out.Ops = append(out.Ops, actor.OpInsert)
				out.Visibility = append(out.Visibility, true)
			}
			j.leftRows[key] = append(j.leftRows[key], row)
			j.leftTable.Insert(statetable.Row(append([]interface{}{key}, row...)))
		} else {
			key := row[j.rightKey]
			for _, match := range j.leftRows[key] {
				out.Rows = append(out.Rows, append(append([]interface{}{}, match...), row...))
				out.Ops = append(out.Ops, actor.OpInsert)
				out.Visibility = append(out.Visibility, true)
			}
			j.rightRows[key] = append(j.rightRows[key], row)
			j.rightTable.Insert(statetable.Row(append([]interface{}{key}, row...)))
		}
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: &out}
}

// DynamicFilterExecutor watches a right-side scalar (a single-row state
// maintained by the right input, e.g. `max(t.ts)` in `WHERE t.ts > scalar`)
// and filters the left input against it, buffering every admitted left row
// (in memory and in table). For a monotonic comparator
// (Greater/GreaterOrEqual), when the scalar moves past a previously-admitted
// row that row is retracted downstream, and a watermark is advanced on the
// state table; for the other comparators admitted rows are never retracted.
type DynamicFilterExecutor struct {
	Base
	left, right actor.Executor
	compareCol  int
	cmp         func(rowVal, scalar interface{}) bool
	monotonic   bool
	table       *statetable.StateTable
	scalar      interface{}
	turn        side
	buffered    [][]interface{}
	pending     *actor.Message
}

// Comparator kinds; Greater/GreaterOrEqual are monotonic (watermark-safe).
const (
	CmpGreater = iota
	CmpGreaterOrEqual
	CmpLess
	CmpLessOrEqual
	CmpEqual
)

// NewDynamicFilterExecutor creates a dynamic filter keeping left rows where
// cmp(row[compareCol], currentScalar) holds.
func NewDynamicFilterExecutor(left, right actor.Executor, compareCol int, kind int, table *statetable.StateTable) *DynamicFilterExecutor {
	return &DynamicFilterExecutor{
		Base:       newBase(left.Schema(), left.PKIndices()),
		left:       left,
		right:      right,
		compareCol: compareCol,
		cmp:        comparatorFor(kind),
		monotonic:  kind == CmpGreater || kind == CmpGreaterOrEqual,
		table:      table,
	}
}

func comparatorFor(kind int) func(a, b interface{}) bool {
	toF := func(v interface{}) float64 {
		switch t := v.(type) {
		case int32:
			return float64(t)
		case int64:
			return float64(t)
		case float64:
			return t
		default:
			return 0
		}
	}
	switch kind {
	case CmpGreater:
		return func(a, b interface{}) bool { return toF(a) > toF(b) }
	case CmpGreaterOrEqual:
		return func(a, b interface{}) bool { return toF(a) >= toF(b) }
	case CmpLess:
		return func(a, b interface{}) bool { return toF(a) < toF(b) }
	case CmpLessOrEqual:
		return func(a, b interface{}) bool { return toF(a) <= toF(b) }
	default:
		return func(a, b interface{}) bool { return fmt.Sprint(a) == fmt.Sprint(b) }
	}
}

func (d *DynamicFilterExecutor) Init(ctx context.Context, epoch uint64) error {
	if err := d.left.Init(ctx, epoch); err != nil {
		return err
	}
	if err := d.right.Init(ctx, epoch); err != nil {
		return err
	}
	d.table.InitEpoch(epoch)
	return nil
}

// Next prioritizes an already-pulled left message stashed behind a
// retraction chunk (see below) over pulling the right side again, so a
// retraction is always observed by downstream before whatever left message
// triggered it.
func (d *DynamicFilterExecutor) Next(ctx context.Context) (*actor.Message, error) {
	if d.pending != nil {
		msg := d.pending
		d.pending = nil
		return d.emitLeft(msg)
	}

	rmsg, err := d.right.Next(ctx)
	if err != nil {
		return nil, err
	}
	var retracted [][]interface{}
	if rmsg != nil && rmsg.Kind == actor.MessageChunk && len(rmsg.Chunk.Rows) > 0 {
		d.scalar = rmsg.Chunk.Rows[len(rmsg.Chunk.Rows)-1][0]
		if d.monotonic {
			d.table.AdvanceWatermark([]byte(fmt.Sprint(d.scalar)))
			retracted = d.evictStale()
		}
	}

	msg, err := d.left.Next(ctx)
	if err != nil {
		return nil, err
	}
	if len(retracted) > 0 {
		// A left message (chunk or barrier) was already pulled; stash it so
		// the retraction chunk goes out first and nothing is dropped.
		d.pending = msg
		return retractionChunk(retracted), nil
	}
	return d.emitLeft(msg)
}

func (d *DynamicFilterExecutor) emitLeft(msg *actor.Message) (*actor.Message, error) {
	if msg == nil || msg.Kind != actor.MessageChunk {
		return msg, nil
	}
	out := filterChunk(msg.Chunk, func(i int, row []interface{}) bool {
		if !isVisible(msg.Chunk, i) {
			return false
		}
		if d.scalar == nil {
			return true
		}
		return d.cmp(row[d.compareCol], d.scalar)
	})
	for _, row := range out.Rows {
		d.buffered = append(d.buffered, row)
		d.table.Insert(statetable.Row(row))
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: out}, nil
}

// evictStale drops every buffered row that no longer satisfies cmp against
// the current scalar, deleting it from the state table and returning it so
// the caller can retract it downstream.
func (d *DynamicFilterExecutor) evictStale() [][]interface{} {
	var stale, kept [][]interface{}
	for _, row := range d.buffered {
		if d.cmp(row[d.compareCol], d.scalar) {
			kept = append(kept, row)
		} else {
			stale = append(stale, row)
			d.table.Delete(statetable.Row(row))
		}
	}
	d.buffered = kept
	return stale
}

func retractionChunk(rows [][]interface{}) *actor.Message {
	out := &actor.Chunk{}
	for _, row := range rows {
		out.Rows = append(out.Rows, row)
		out.Ops = append(out.Ops, actor.OpDelete)
		out.Visibility = append(out.Visibility, true)
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: out}
}
