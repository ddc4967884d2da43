package rpc

import (
	"github.com/tidestream/tidestream/pkg/hummock/compaction"
	"github.com/tidestream/tidestream/pkg/hummock/version"
)

// RegisterWorkerRequest registers a new compute or compactor node.
type RegisterWorkerRequest struct {
	ID   string
	Kind string // "compute" | "compactor"
	Host string
	Port int
}

type RegisterWorkerResponse struct{}

// HeartbeatRequest is sent periodically by every registered worker.
type HeartbeatRequest struct {
	ID       string
	UnixTime int64
}

type HeartbeatResponse struct{}

// ActivateRequest confirms a worker has finished starting up and may now
// receive fragment placements.
type ActivateRequest struct {
	ID string
}

type ActivateResponse struct{}

// PinSnapshotRequest asks meta to pin the current max_committed_epoch so a
// long-running batch query or backfill can read a stable snapshot.
type PinSnapshotRequest struct{}

type PinSnapshotResponse struct {
	Epoch uint64
}

// UnpinSnapshotBeforeRequest releases every pin at or below Epoch.
type UnpinSnapshotBeforeRequest struct {
	Epoch uint64
}

type UnpinSnapshotBeforeResponse struct{}

// AddTablesRequest commits a compute node's flushed L0 sstables at Epoch.
type AddTablesRequest struct {
	Epoch   uint64
	GroupID uint64
	Ssts    []*version.SstableInfo
}

type AddTablesResponse struct {
	Version *version.HummockVersion
}

// GetCompactionTaskRequest polls for a compaction assignment.
type GetCompactionTaskRequest struct {
	WorkerID string
}

type GetCompactionTaskResponse struct {
	Task *compaction.Task // nil when nothing is pending
}

// ReportCompactionTaskRequest reports a completed (or failed) compaction.
type ReportCompactionTaskRequest struct {
	TaskID  uint64
	Status  string
	Outputs []*version.SstableInfo
}

type ReportCompactionTaskResponse struct{}

// SubscribeRequest opens a worker's notification stream.
type SubscribeRequest struct {
	WorkerID string
}

// Notification is one event pushed down a Subscribe stream: a new Hummock
// version committed, a fragment reschedule, or a pause/resume mutation the
// worker's actors must apply.
type Notification struct {
	Kind           string // "version", "reschedule", "mutation"
	HummockVersion *version.HummockVersion `json:",omitempty"`
	Payload        map[string]interface{}  `json:",omitempty"`
}
