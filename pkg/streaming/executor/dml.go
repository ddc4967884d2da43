package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// DmlManager is the externally-pushed side of a DmlExecutor: callers
// (pgwire INSERT/UPDATE/DELETE handling, out of scope here) push chunks
// onto it directly rather than through the ordinary actor inbox/dispatcher
// path, since DML traffic originates from a client session, not another
// actor.
type DmlManager struct {
	ch chan *actor.Chunk
}

// NewDmlManager creates a DML manager with the given buffer depth.
func NewDmlManager(depth int) *DmlManager {
	return &DmlManager{ch: make(chan *actor.Chunk, depth)}
}

// Push enqueues a chunk of externally-issued DML rows, blocking if the
// manager's buffer is full (same never-drop back-pressure policy as an
// actor inbox).
func (m *DmlManager) Push(ctx context.Context, chunk *actor.Chunk) error {
	select {
	case m.ch <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DmlExecutor selects between the upstream stream and its DmlManager
// channel; it starts paused (DML traffic buffered but not drained) and is
// explicitly resumed, matching "paused by default on a configuration-
// change barrier" — the initial state is the same as after a Pause
// mutation, not a special case of it.
type DmlExecutor struct {
	Base
	upstream actor.Executor
	manager  *DmlManager
	paused   bool
}

// NewDmlExecutor creates a DML executor reading from upstream and manager,
// starting paused.
func NewDmlExecutor(upstream actor.Executor, manager *DmlManager) *DmlExecutor {
	return &DmlExecutor{Base: newBase(upstream.Schema(), upstream.PKIndices()), upstream: upstream, manager: manager, paused: true}
}

func (d *DmlExecutor) Init(ctx context.Context, epoch uint64) error {
	return d.upstream.Init(ctx, epoch)
}

func (d *DmlExecutor) Next(ctx context.Context) (*actor.Message, error) {
	if !d.paused {
		select {
		case dmlChunk := <-d.manager.ch:
			return &actor.Message{Kind: actor.MessageChunk, Chunk: dmlChunk}, nil
		default:
		}
	}
	msg, err := d.upstream.Next(ctx)
	if err != nil || msg == nil {
		return msg, err
	}
	if msg.Kind == actor.MessageBarrier {
		d.applyMutation(msg.Barrier.Mutation)
	}
	return msg, nil
}

func (d *DmlExecutor) applyMutation(mut *actor.Mutation) {
	if mut == nil {
		return
	}
	switch mut.Kind {
	case "pause":
		d.paused = true
	case "resume":
		d.paused = false
	}
}
