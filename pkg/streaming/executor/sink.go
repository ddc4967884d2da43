package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/sink"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// SinkExecutor is the dataflow's terminal node for a CREATE SINK job: it
// stages every visible row of each chunk into the configured sink.Writer
// and flushes on barrier, mirroring MaterializeExecutor's write/commit
// split so a sink's checkpoint boundary lines up with Hummock's.
type SinkExecutor struct {
	Base
	upstream actor.Executor
	writer   sink.Writer
}

// NewSinkExecutor wraps upstream, writing every chunk through writer.
func NewSinkExecutor(upstream actor.Executor, writer sink.Writer) *SinkExecutor {
	return &SinkExecutor{
		Base:     newBase(upstream.Schema(), upstream.PKIndices()),
		upstream: upstream,
		writer:   writer,
	}
}

func (s *SinkExecutor) Init(ctx context.Context, epoch uint64) error {
	return s.upstream.Init(ctx, epoch)
}

func (s *SinkExecutor) Next(ctx context.Context) (*actor.Message, error) {
	msg, err := s.upstream.Next(ctx)
	if err != nil || msg == nil {
		return msg, err
	}
	switch msg.Kind {
	case actor.MessageChunk:
		rows := make([]sink.Row, 0, len(msg.Chunk.Rows))
		for i, row := range msg.Chunk.Rows {
			if !isVisible(msg.Chunk, i) {
				continue
			}
			op := "insert"
			if i < len(msg.Chunk.Ops) {
				switch msg.Chunk.Ops[i] {
				case actor.OpDelete:
					op = "delete"
				case actor.OpUpdateBefore, actor.OpUpdateAfter:
					op = "update"
				}
			}
			rows = append(rows, sink.Row{Op: op, Values: row})
		}
		if len(rows) > 0 {
			if err := s.writer.Write(ctx, rows); err != nil {
				return nil, err
			}
		}
		return msg, nil
	case actor.MessageBarrier:
		if err := s.writer.Commit(ctx, msg.Barrier.Epoch); err != nil {
			return nil, err
		}
		return msg, nil
	}
	return msg, nil
}
