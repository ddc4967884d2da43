package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/connector"
	"github.com/tidestream/tidestream/pkg/logstore"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// SourceExecutor pulls records from an external connector.Source and
// appends one log store entry per record through a logstore.Writer. The
// entry's payload is empty and the connector's own offset is not recorded,
// so nothing resumes the connector from the log. Barriers arrive on inbox (pushed by the
// barrier manager, since a source has no upstream actor.Executor to pull
// one from) and are interleaved with connector records in the order this
// executor observes them, matching the order the log store persists them.
type SourceExecutor struct {
	Base
	src    connector.Source
	writer *logstore.Writer
	inbox  *actor.Inbox
}

// NewSourceExecutor creates a source executor.
func NewSourceExecutor(schema []string, src connector.Source, writer *logstore.Writer, inbox *actor.Inbox) *SourceExecutor {
	return &SourceExecutor{Base: newBase(schema, nil), src: src, writer: writer, inbox: inbox}
}

func (s *SourceExecutor) Init(ctx context.Context, epoch uint64) error {
	s.writer.InitEpoch(epoch)
	return nil
}

// Next prefers a pending barrier over new connector records, so that once
// the barrier manager has injected epoch e, this actor observes it
// promptly rather than draining an arbitrarily long connector backlog
// first.
func (s *SourceExecutor) Next(ctx context.Context) (*actor.Message, error) {
	if msg, ok := s.inbox.TryRecv(); ok {
		if msg.Kind == actor.MessageBarrier {
			s.writer.AppendBarrier(msg.Barrier.Epoch, nil)
		}
		return msg, nil
	}

	rec, err := s.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return s.inbox.Recv(ctx)
	}
	s.writer.AppendChunk(encodeRecord(rec))
	return &actor.Message{Kind: actor.MessageChunk, Chunk: &actor.Chunk{
		Rows:       [][]interface{}{rec.Row},
		Ops:        []actor.Op{actor.OpInsert},
		Visibility: []bool{true},
	}}, nil
}

// encodeRecord returns an empty payload: the log store entry records that a
// row was emitted, not the row's value (materialize downstream holds the
// typed copy).
func encodeRecord(rec *connector.Record) []byte {
	return []byte{}
}
