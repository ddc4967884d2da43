// Package meta implements the Meta service: the raft+bbolt-backed catalog
// (databases/schemas/tables/sources/workers), the Hummock version manager
// and compaction scheduler integration, the worker registry, and the
// barrier orchestration loop that drives checkpoints across the cluster.
package meta

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDatabases = []byte("databases")
	bucketSchemas   = []byte("schemas")
	bucketTables    = []byte("tables")
	bucketSources   = []byte("sources")
	bucketWorkers   = []byte("workers")
)

// Database, Schema, Table, and Source are the catalog's user-facing
// objects; DDL elsewhere (out of scope — no SQL surface here) would
// populate these through Manager's Create* methods.
type Database struct {
	ID   uint32
	Name string
}

type Schema struct {
	ID         uint32
	DatabaseID uint32
	Name       string
}

type Table struct {
	ID       uint32
	SchemaID uint32
	Name     string
	Columns  []string
}

type Source struct {
	ID         uint32
	SchemaID   uint32
	Name       string
	ConnectorProperties map[string]string
}

// WorkerKind distinguishes a compute node from a compactor node.
type WorkerKind string

const (
	WorkerCompute    WorkerKind = "compute"
	WorkerCompactor  WorkerKind = "compactor"
)

// WorkerStatus tracks a registered worker's lifecycle per the
// RegisterWorker/Heartbeat/Activate RPC sequence.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerRunning  WorkerStatus = "running"
	WorkerDown     WorkerStatus = "down"
)

// Worker is one registered compute or compactor node.
type Worker struct {
	ID            string
	Kind          WorkerKind
	Status        WorkerStatus
	Host          string
	Port          int
	HeartbeatUnix int64
}

// Catalog is the bbolt-backed persisted store the FSM applies raft log
// entries against, grounded on the teacher's BoltStore bucket-per-
// collection shape.
type Catalog struct {
	db *bolt.DB
}

// NewCatalog opens (creating if absent) a bbolt database under dataDir.
func NewCatalog(dataDir string) (*Catalog, error) {
	dbPath := filepath.Join(dataDir, "tidestream-meta.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("meta: open catalog db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDatabases, bucketSchemas, bucketTables, bucketSources, bucketWorkers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("meta: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func put(db *bolt.DB, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func del(db *bolt.DB, bucket []byte, key string) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func list(db *bolt.DB, bucket []byte, newItem func() interface{}) ([]interface{}, error) {
	var out []interface{}
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			item := newItem()
			if err := json.Unmarshal(v, item); err != nil {
				return err
			}
			out = append(out, item)
			return nil
		})
	})
	return out, err
}

func (c *Catalog) PutDatabase(d *Database) error { return put(c.db, bucketDatabases, d.Name, d) }
func (c *Catalog) PutSchema(s *Schema) error      { return put(c.db, bucketSchemas, fmt.Sprintf("%d/%s", s.DatabaseID, s.Name), s) }
func (c *Catalog) PutTable(t *Table) error        { return put(c.db, bucketTables, fmt.Sprintf("%d/%s", t.SchemaID, t.Name), t) }
func (c *Catalog) PutSource(s *Source) error      { return put(c.db, bucketSources, fmt.Sprintf("%d/%s", s.SchemaID, s.Name), s) }

func (c *Catalog) DeleteTable(schemaID uint32, name string) error {
	return del(c.db, bucketTables, fmt.Sprintf("%d/%s", schemaID, name))
}

func (c *Catalog) ListTables() ([]*Table, error) {
	items, err := list(c.db, bucketTables, func() interface{} { return &Table{} })
	if err != nil {
		return nil, err
	}
	out := make([]*Table, len(items))
	for i, it := range items {
		out[i] = it.(*Table)
	}
	return out, nil
}

func (c *Catalog) ListSchemas() ([]*Schema, error) {
	items, err := list(c.db, bucketSchemas, func() interface{} { return &Schema{} })
	if err != nil {
		return nil, err
	}
	out := make([]*Schema, len(items))
	for i, it := range items {
		out[i] = it.(*Schema)
	}
	return out, nil
}

func (c *Catalog) PutWorker(w *Worker) error { return put(c.db, bucketWorkers, w.ID, w) }
func (c *Catalog) DeleteWorker(id string) error { return del(c.db, bucketWorkers, id) }

func (c *Catalog) ListWorkers() ([]*Worker, error) {
	items, err := list(c.db, bucketWorkers, func() interface{} { return &Worker{} })
	if err != nil {
		return nil, err
	}
	out := make([]*Worker, len(items))
	for i, it := range items {
		out[i] = it.(*Worker)
	}
	return out, nil
}
