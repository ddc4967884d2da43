package actor

import (
	"context"
	"fmt"
	"hash/fnv"
)

// DispatchKind selects how a Dispatcher fans a message out to its
// downstream actors.
type DispatchKind int

const (
	// Broadcast sends every message to every downstream actor (used for
	// building per-fragment shared state like a dynamic filter's scalar
	// side).
	Broadcast DispatchKind = iota
	// HashShard routes each row of a chunk to one downstream actor by
	// hashing its distribution-key columns mod vnode count, and sends
	// barriers to every downstream.
	HashShard
	// Simple routes everything to exactly one downstream actor (the
	// common case for a linear operator chain with one consumer).
	Simple
)

// Downstream is one edge out of a dispatcher: the target actor and,
// for HashShard, the vnode range it currently owns.
type Downstream struct {
	ActorID  ID
	Inbox    *Inbox
	VnodeLo  int
	VnodeHi  int // exclusive
}

// Dispatcher fans an actor's output messages out to its registered
// downstream actors according to its Kind.
type Dispatcher struct {
	Kind            DispatchKind
	Downstreams     []Downstream
	DistKeyIndices  []int
	VnodeCount      int
}

// NewDispatcher creates a dispatcher. vnodeCount is only meaningful for
// HashShard (the spec's 256-per-table default).
func NewDispatcher(kind DispatchKind, vnodeCount int) *Dispatcher {
	return &Dispatcher{Kind: kind, VnodeCount: vnodeCount}
}

// AddDownstream registers one downstream edge.
func (d *Dispatcher) AddDownstream(ds Downstream) {
	d.Downstreams = append(d.Downstreams, ds)
}

// Dispatch routes msg according to the dispatcher's kind.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	switch msg.Kind {
	case MessageBarrier:
		return d.dispatchBarrier(ctx, msg)
	case MessageChunk:
		return d.dispatchChunk(ctx, msg)
	default:
		return fmt.Errorf("dispatcher: unknown message kind %v", msg.Kind)
	}
}

// dispatchBarrier always goes to every downstream: alignment requires every
// downstream actor to observe every barrier exactly once (invariant 5).
func (d *Dispatcher) dispatchBarrier(ctx context.Context, msg *Message) error {
	for _, ds := range d.Downstreams {
		if err := ds.Inbox.Send(ctx, msg); err != nil {
			return fmt.Errorf("dispatch barrier to actor %d: %w", ds.ActorID, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchChunk(ctx context.Context, msg *Message) error {
	switch d.Kind {
	case Broadcast:
		for _, ds := range d.Downstreams {
			if err := ds.Inbox.Send(ctx, msg); err != nil {
				return fmt.Errorf("dispatch chunk to actor %d: %w", ds.ActorID, err)
			}
		}
		return nil
	case Simple:
		if len(d.Downstreams) == 0 {
			return nil
		}
		return d.Downstreams[0].Inbox.Send(ctx, msg)
	case HashShard:
		return d.dispatchHashShard(ctx, msg)
	default:
		return fmt.Errorf("dispatcher: unknown kind %v", d.Kind)
	}
}

// dispatchHashShard splits the chunk into one sub-chunk per downstream,
// collapsing invisible rows before hashing (visibility-before-hashing is
// mandatory, per the spec's resolution of the source's ambiguity on this
// point) and sends each non-empty sub-chunk to its target.
func (d *Dispatcher) dispatchHashShard(ctx context.Context, msg *Message) error {
	chunk := msg.Chunk
	perDownstream := make(map[ID]*Chunk, len(d.Downstreams))

	for i, row := range chunk.Rows {
		if i < len(chunk.Visibility) && !chunk.Visibility[i] {
			continue
		}
		vnode := d.vnodeFor(row) % d.VnodeCount
		ds := d.downstreamForVnode(vnode)
		if ds == nil {
			continue
		}
		sub := perDownstream[ds.ActorID]
		if sub == nil {
			sub = &Chunk{}
			perDownstream[ds.ActorID] = sub
		}
		sub.Rows = append(sub.Rows, row)
		if i < len(chunk.Ops) {
			sub.Ops = append(sub.Ops, chunk.Ops[i])
		}
		sub.Visibility = append(sub.Visibility, true)
	}

	for _, ds := range d.Downstreams {
		sub, ok := perDownstream[ds.ActorID]
		if !ok || len(sub.Rows) == 0 {
			continue
		}
		if err := ds.Inbox.Send(ctx, &Message{Kind: MessageChunk, Chunk: sub}); err != nil {
			return fmt.Errorf("dispatch chunk to actor %d: %w", ds.ActorID, err)
		}
	}
	return nil
}

func (d *Dispatcher) vnodeFor(row []interface{}) int {
	h := fnv.New32a()
	for _, idx := range d.DistKeyIndices {
		if idx >= len(row) {
			continue
		}
		fmt.Fprintf(h, "%v|", row[idx])
	}
	return int(h.Sum32())
}

func (d *Dispatcher) downstreamForVnode(vnode int) *Downstream {
	for i := range d.Downstreams {
		ds := &d.Downstreams[i]
		if vnode >= ds.VnodeLo && vnode < ds.VnodeHi {
			return ds
		}
	}
	return nil
}
