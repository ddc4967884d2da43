package executor

import (
	"context"

	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// ValuesExecutor is the trivial leaf that emits a fixed set of rows once
// (used for VALUES clauses and test fixtures), then blocks forever on its
// inbox for barriers, same as Source but without a connector behind it.
type ValuesExecutor struct {
	Base
	rows    [][]interface{}
	emitted bool
	inbox   *actor.Inbox
}

// NewValuesExecutor creates a leaf executor over a fixed row set.
func NewValuesExecutor(schema []string, pkIndices []int, rows [][]interface{}, inbox *actor.Inbox) *ValuesExecutor {
	return &ValuesExecutor{Base: newBase(schema, pkIndices), rows: rows, inbox: inbox}
}

func (v *ValuesExecutor) Init(ctx context.Context, epoch uint64) error { return nil }

func (v *ValuesExecutor) Next(ctx context.Context) (*actor.Message, error) {
	if !v.emitted {
		v.emitted = true
		ops := make([]actor.Op, len(v.rows))
		vis := make([]bool, len(v.rows))
		for i := range v.rows {
			ops[i] = actor.OpInsert
			vis[i] = true
		}
		return &actor.Message{Kind: actor.MessageChunk, Chunk: &actor.Chunk{Rows: v.rows, Ops: ops, Visibility: vis}}, nil
	}
	return v.inbox.Recv(ctx)
}
