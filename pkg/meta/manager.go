package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/tidestream/tidestream/pkg/catalog"
	"github.com/tidestream/tidestream/pkg/hummock/compaction"
	"github.com/tidestream/tidestream/pkg/hummock/version"
	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/metrics"
	"github.com/tidestream/tidestream/pkg/streaming/barrier"
)

var _ catalog.Resolver = (*Manager)(nil)

// Config configures a Manager, mirroring the teacher's raft bootstrap knobs.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// BaseLevel is the first leveled (non-L0) level compaction targets.
	BaseLevel int
}

// Manager is the Meta service: the raft-replicated catalog, the Hummock
// version manager, the compaction scheduler, and the cluster's barrier
// orchestration loop, all behind one handle the way the teacher's Manager
// bundles raft plus its collaborator subsystems.
type Manager struct {
	mu       sync.Mutex
	nodeID   string
	bindAddr string
	dataDir  string

	raft    *raft.Raft
	fsm     *FSM
	catalog *Catalog

	versions  *version.Manager
	compactor *compaction.Scheduler

	// barrierLoop, when non-nil, is the in-process barrier manager this
	// node drives directly — the single-process deployment mode. A
	// multi-node deployment instead fans epoch Inject calls out to each
	// compute worker's own barrier.Manager over pkg/rpc; that fan-out
	// is not yet wired (see DESIGN.md), so barrierLoop is left nil and
	// injectEpoch becomes a no-op until a worker attaches one.
	barrierLoop *barrier.Manager
	epoch       uint64
	stopCh      chan struct{}
}

// NewManager creates a Meta service instance. Call Bootstrap to start its
// single-node raft cluster (or Join, once peer-join support is added).
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("meta: create data directory: %w", err)
	}

	catalog, err := NewCatalog(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	fsm := NewFSM(catalog)
	versions := version.NewManager()
	baseLevel := cfg.BaseLevel
	if baseLevel <= 0 {
		baseLevel = 1
	}

	return &Manager{
		nodeID:    cfg.NodeID,
		bindAddr:  cfg.BindAddr,
		dataDir:   cfg.DataDir,
		fsm:       fsm,
		catalog:   catalog,
		versions:  versions,
		compactor: compaction.NewScheduler(versions, baseLevel),
		stopCh:    make(chan struct{}),
	}, nil
}

// Bootstrap starts a single-node raft cluster with this node as its only
// voter, tuned the way the teacher tunes its LAN deployment: fast
// heartbeats over the WAN-conservative hashicorp/raft defaults.
func (m *Manager) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("meta: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("meta: create transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("meta: create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("meta: create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("meta: create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("meta: create raft: %w", err)
	}
	m.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("meta: bootstrap cluster: %w", err)
	}

	log.WithComponent("meta").Info().Str("node_id", m.nodeID).Str("bind_addr", m.bindAddr).Msg("bootstrapped meta raft cluster")
	return nil
}

// IsLeader reports whether this node currently holds raft leadership.
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// GetRaftStats mirrors the teacher's raft stats snapshot, trimmed to the
// fields this system's metrics collector actually samples.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
		"peers":          0,
	}
	if cf := m.raft.GetConfiguration(); cf.Error() == nil {
		stats["peers"] = len(cf.Configuration().Servers)
	}
	return stats
}

// apply submits cmd to the raft log and waits for it to commit; only the
// leader may call this successfully.
func (m *Manager) apply(op string, payload interface{}) error {
	if !m.IsLeader() {
		return fmt.Errorf("meta: not the leader")
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	cmd := Command{Op: op, Data: data}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	future := m.raft.Apply(encoded, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("meta: apply %s: %w", op, err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// HummockVersionManager exposes the Hummock version manager to callers
// that need to pin snapshots, add tables, or inspect the current version
// (RPC handlers, the metrics collector).
func (m *Manager) HummockVersionManager() *version.Manager { return m.versions }

// CompactionScheduler exposes the compaction scheduler to the
// GetCompactionTask/ReportCompactionTask RPC handlers.
func (m *Manager) CompactionScheduler() *compaction.Scheduler { return m.compactor }

// AttachBarrierManager wires this meta node's single-process barrier
// orchestration loop to a local barrier.Manager. Used by the
// single-binary deployment (compute and meta colocated); a distributed
// deployment instead drives each worker's barrier.Manager over pkg/rpc.
func (m *Manager) AttachBarrierManager(b *barrier.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barrierLoop = b
}

// StartBarrierLoop begins injecting a new epoch barrier every interval,
// the cluster-wide checkpoint cadence. Only the leader injects; followers
// call this too but Inject becomes a no-op once leadership moves, since
// the attached barrier.Manager belongs to whichever node is driving the
// dataflow locally in this single-process deployment mode.
func (m *Manager) StartBarrierLoop(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.injectEpoch()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) injectEpoch() {
	m.mu.Lock()
	b := m.barrierLoop
	if !m.IsLeader() || b == nil {
		m.mu.Unlock()
		return
	}
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	if err := b.Inject(context.Background(), epoch, nil); err != nil {
		log.WithComponent("meta").Error().Err(err).Uint64("epoch", epoch).Msg("barrier injection failed")
	}
}

// Stop shuts down the barrier loop and closes the catalog.
func (m *Manager) Stop() error {
	close(m.stopCh)
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return err
		}
	}
	return m.catalog.Close()
}

// ---- Worker registry ----

// RegisterWorker admits a new compute/compactor node into the cluster,
// starting in WorkerStarting until Activate confirms it's ready to
// receive fragments.
func (m *Manager) RegisterWorker(id string, kind WorkerKind, host string, port int) error {
	w := &Worker{
		ID:            id,
		Kind:          kind,
		Status:        WorkerStarting,
		Host:          host,
		Port:          port,
		HeartbeatUnix: 0,
	}
	return m.apply(opPutWorker, w)
}

// Activate marks a registered worker as running, eligible for scheduling.
func (m *Manager) Activate(id string) error {
	workers, err := m.catalog.ListWorkers()
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.ID == id {
			w.Status = WorkerRunning
			return m.apply(opPutWorker, w)
		}
	}
	return fmt.Errorf("meta: unknown worker %q", id)
}

// Heartbeat records liveness for a worker at the given unix timestamp;
// heartbeats are applied directly against the local catalog read path
// rather than through raft, since liveness is a local health signal, not
// cluster-replicated state that must survive a leader failover.
func (m *Manager) Heartbeat(id string, unixTime int64) error {
	workers, err := m.catalog.ListWorkers()
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.ID == id {
			w.HeartbeatUnix = unixTime
			return m.catalog.PutWorker(w)
		}
	}
	return fmt.Errorf("meta: unknown worker %q", id)
}

// ListWorkers returns every registered worker, satisfying the metrics
// collector's poll target.
func (m *Manager) ListWorkers() []*Worker {
	workers, err := m.catalog.ListWorkers()
	if err != nil {
		log.WithComponent("meta").Error().Err(err).Msg("list workers failed")
		return nil
	}
	return workers
}

// ---- Catalog DDL ----

func (m *Manager) CreateDatabase(name string, id uint32) error {
	return m.apply(opPutDatabase, &Database{ID: id, Name: name})
}

func (m *Manager) CreateSchema(s *Schema) error { return m.apply(opPutSchema, s) }

func (m *Manager) CreateTable(t *Table) error { return m.apply(opPutTable, t) }

func (m *Manager) DropTable(schemaID uint32, name string) error {
	return m.apply(opDeleteTable, struct {
		SchemaID uint32
		Name     string
	}{schemaID, name})
}

func (m *Manager) CreateSource(s *Source) error { return m.apply(opPutSource, s) }

func (m *Manager) ListTables() ([]*Table, error) { return m.catalog.ListTables() }

// ResolveTable satisfies catalog.Resolver against the persisted catalog,
// the server-side counterpart to catalog.MemoryResolver's client-side
// double: a compute node resolving a table by schema-qualified name gets
// back the same catalog.TableInfo shape either way.
//
// The meta catalog doesn't track column types (no SQL layer defines them
// here, per spec.md §6), so every resolved column reports ColumnType
// "unknown" — good enough for PK/column-count-shaped lookups, not for a
// real type-checking planner.
func (m *Manager) ResolveTable(ctx context.Context, schema, name string) (*catalog.TableInfo, error) {
	schemas, err := m.catalog.ListSchemas()
	if err != nil {
		return nil, err
	}
	var schemaID uint32
	found := false
	for _, s := range schemas {
		if s.Name == schema {
			schemaID = s.ID
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("meta: no such schema %q", schema)
	}

	tables, err := m.catalog.ListTables()
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if t.SchemaID == schemaID && t.Name == name {
			cols := make([]catalog.ColumnSchema, len(t.Columns))
			for i, c := range t.Columns {
				cols[i] = catalog.ColumnSchema{Name: c, Type: "unknown"}
			}
			return &catalog.TableInfo{ID: t.ID, Name: t.Name, Columns: cols}, nil
		}
	}
	return nil, fmt.Errorf("meta: no such table %s.%s", schema, name)
}
