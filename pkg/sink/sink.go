// Package sink is the downstream-sink collaborator interface a
// MaterializeExecutor variant would write committed rows to (Kafka,
// Postgres, Iceberg, ...). Per spec.md §6 "Out of scope" no real sink
// connector ships here, only the interface plus an in-memory double.
package sink

import "context"

// Row is one committed change a sink writer applies downstream.
type Row struct {
	Op     string // "insert" | "delete" | "update"
	Values []interface{}
}

// Writer is the contract every sink connector implements: buffer rows
// within an epoch, then flush durably on barrier commit — mirroring the
// two-phase write/commit split pkg/streaming/barrier drives for Hummock
// itself, so a sink's checkpoint boundary lines up with the dataflow's.
type Writer interface {
	Write(ctx context.Context, rows []Row) error
	Commit(ctx context.Context, epoch uint64) error
}

// MemoryWriter buffers every committed row in memory; used by tests.
type MemoryWriter struct {
	Committed []Row
	pending   []Row
}

func NewMemoryWriter() *MemoryWriter { return &MemoryWriter{} }

func (w *MemoryWriter) Write(ctx context.Context, rows []Row) error {
	w.pending = append(w.pending, rows...)
	return nil
}

func (w *MemoryWriter) Commit(ctx context.Context, epoch uint64) error {
	w.Committed = append(w.Committed, w.pending...)
	w.pending = nil
	return nil
}
