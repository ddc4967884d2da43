// Package catalog is the frontend-facing catalog client interface: the
// surface a SQL frontend would use to resolve database/schema/table names
// to ids and column schemas. Per spec.md §6 "Out of scope" there is no SQL
// parser/planner in this repo, so this is interface surface plus a thin
// in-memory double, enough for pkg/meta's catalog to be exercised
// end-to-end in tests without a real frontend.
package catalog

import (
	"context"
	"fmt"
	"sync"
)

// ColumnSchema describes one column a table/source exposes to the
// streaming layer.
type ColumnSchema struct {
	Name string
	Type string
}

// TableInfo is the resolved form of a catalog lookup.
type TableInfo struct {
	ID      uint32
	Name    string
	Columns []ColumnSchema
	PKIndices []int
}

// Resolver looks up table metadata by qualified name. pkg/meta.Manager
// satisfies it against its raft-replicated catalog; Resolver is the
// narrower client-side contract callers outside pkg/meta depend on.
type Resolver interface {
	ResolveTable(ctx context.Context, schema, name string) (*TableInfo, error)
}

// MemoryResolver is an in-memory double for tests and the single-process
// deployment mode.
type MemoryResolver struct {
	mu     sync.RWMutex
	tables map[string]*TableInfo
}

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{tables: make(map[string]*TableInfo)}
}

func (r *MemoryResolver) Put(schema string, t *TableInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[key(schema, t.Name)] = t
}

func (r *MemoryResolver) ResolveTable(ctx context.Context, schema, name string) (*TableInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[key(schema, name)]
	if !ok {
		return nil, fmt.Errorf("catalog: no such table %s.%s", schema, name)
	}
	return t, nil
}

func key(schema, name string) string { return schema + "." + name }
