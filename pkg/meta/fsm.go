package meta

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// Command is one raft log entry: an op name plus its JSON-encoded payload,
// mirroring the teacher's FSM command envelope.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opPutDatabase  = "put_database"
	opPutSchema    = "put_schema"
	opPutTable     = "put_table"
	opDeleteTable  = "delete_table"
	opPutSource    = "put_source"
	opPutWorker    = "put_worker"
	opDeleteWorker = "delete_worker"
)

// FSM applies committed raft log entries to the bbolt-backed Catalog, and
// snapshots/restores the whole catalog for raft's log compaction.
type FSM struct {
	mu      sync.RWMutex
	catalog *Catalog
}

// NewFSM wraps a catalog as a raft.FSM.
func NewFSM(catalog *Catalog) *FSM {
	return &FSM{catalog: catalog}
}

// Apply decodes one committed log entry and replays it against the catalog.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("meta: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opPutDatabase:
		var d Database
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			return err
		}
		return f.catalog.PutDatabase(&d)
	case opPutSchema:
		var s Schema
		if err := json.Unmarshal(cmd.Data, &s); err != nil {
			return err
		}
		return f.catalog.PutSchema(&s)
	case opPutTable:
		var t Table
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		return f.catalog.PutTable(&t)
	case opDeleteTable:
		var ref struct {
			SchemaID uint32
			Name     string
		}
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		return f.catalog.DeleteTable(ref.SchemaID, ref.Name)
	case opPutSource:
		var s Source
		if err := json.Unmarshal(cmd.Data, &s); err != nil {
			return err
		}
		return f.catalog.PutSource(&s)
	case opPutWorker:
		var w Worker
		if err := json.Unmarshal(cmd.Data, &w); err != nil {
			return err
		}
		return f.catalog.PutWorker(&w)
	case opDeleteWorker:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.catalog.DeleteWorker(id)
	default:
		return fmt.Errorf("meta: unknown command op %q", cmd.Op)
	}
}

// catalogSnapshot is the full catalog contents captured at a point in time,
// serialized by Persist and replayed wholesale by Restore.
type catalogSnapshot struct {
	Tables  []*Table  `json:"tables"`
	Workers []*Worker `json:"workers"`
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tables, err := f.catalog.ListTables()
	if err != nil {
		return nil, err
	}
	workers, err := f.catalog.ListWorkers()
	if err != nil {
		return nil, err
	}
	return &catalogSnapshot{Tables: tables, Workers: workers}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap catalogSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("meta: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range snap.Tables {
		if err := f.catalog.PutTable(t); err != nil {
			return err
		}
	}
	for _, w := range snap.Workers {
		if err := f.catalog.PutWorker(w); err != nil {
			return err
		}
	}
	return nil
}

func (s *catalogSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *catalogSnapshot) Release() {}
