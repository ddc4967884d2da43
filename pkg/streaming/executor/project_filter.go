package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// ProjectExecutor applies a row transform to every row of each chunk it
// pulls, keeping the chunk's ops and visibility, and forwards barriers
// unchanged.
type ProjectExecutor struct {
	Base
	upstream  actor.Executor
	transform RowTransform
}

// NewProjectExecutor wraps upstream with a per-row projection.
func NewProjectExecutor(schema []string, pkIndices []int, upstream actor.Executor, transform RowTransform) *ProjectExecutor {
	return &ProjectExecutor{Base: newBase(schema, pkIndices), upstream: upstream, transform: transform}
}

func (p *ProjectExecutor) Init(ctx context.Context, epoch uint64) error {
	return p.upstream.Init(ctx, epoch)
}

func (p *ProjectExecutor) Next(ctx context.Context) (*actor.Message, error) {
	msg, err := p.upstream.Next(ctx)
	if err != nil || msg == nil || msg.Kind != actor.MessageChunk {
		return msg, err
	}
	out := &actor.Chunk{Ops: msg.Chunk.Ops, Visibility: msg.Chunk.Visibility}
	for _, row := range msg.Chunk.Rows {
		out.Rows = append(out.Rows, p.transform(row))
	}
	return &actor.Message{Kind: actor.MessageChunk, Chunk: out}, nil
}

// FilterExecutor drops rows that don't satisfy a predicate, forwarding
// barriers unchanged. An empty output chunk (all rows filtered) is still
// emitted, matching the source's "one message per Next call" contract so
// the actor loop's inbox-depth bookkeeping stays meaningful.
type FilterExecutor struct {
	Base
	upstream actor.Executor
	pred     RowPredicate
}

// NewFilterExecutor wraps upstream with a row predicate.
func NewFilterExecutor(upstream actor.Executor, pred RowPredicate) *FilterExecutor {
	return &FilterExecutor{Base: newBase(upstream.Schema(), upstream.PKIndices()), upstream: upstream, pred: pred}
}

func (f *FilterExecutor) Init(ctx context.Context, epoch uint64) error {
	return f.upstream.Init(ctx, epoch)
}

func (f *FilterExecutor) Next(ctx context.Context) (*actor.Message, error) {
	msg, err := f.upstream.Next(ctx)
	if err != nil || msg == nil || msg.Kind != actor.MessageChunk {
		return msg, err
	}
	out := filterChunk(msg.Chunk, func(i int, row []interface{}) bool {
		return isVisible(msg.Chunk, i) && f.pred(row)
	})
	return &actor.Message{Kind: actor.MessageChunk, Chunk: out}, nil
}
