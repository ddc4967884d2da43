// Package statetable implements the row-encoded view over Hummock that
// stateful operators (materialize, hash-agg, hash-join, ...) read and write
// through: typed rows keyed by a dedup-PK encoding, write batching per
// epoch, and watermark propagation.
package statetable

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/tidestream/tidestream/pkg/hummock/sharedbuffer"
	"github.com/tidestream/tidestream/pkg/hummock/sstable"
)

// ColumnType is the subset of scalar types the row codec supports.
type ColumnType int

const (
	TypeInt32 ColumnType = iota
	TypeInt64
	TypeVarchar
	TypeBool
)

// Schema describes a table's columns and which of them form the primary
// key, in order.
type Schema struct {
	Columns  []ColumnType
	PkIndices []int
}

// Row is a decoded, typed record. Values are stored positionally,
// interface{} boxing one of int32/int64/string/bool per the schema.
type Row []interface{}

// EncodePK builds the dedup-PK portion of the Hummock user key: the table's
// primary-key columns encoded in a fixed, self-delimiting byte form so
// range scans over a prefix of the PK work without extra indirection.
// Integer and bool columns sort in value order; a varchar column carries a
// 4-byte length prefix, so varchar keys sort by length first, then by bytes.
func EncodePK(schema *Schema, row Row) []byte {
	var buf bytes.Buffer
	for _, idx := range schema.PkIndices {
		encodeValue(&buf, schema.Columns[idx], row[idx])
	}
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, t ColumnType, v interface{}) {
	switch t {
	case TypeInt32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v.(int32))+1<<31)
		buf.Write(tmp[:])
	case TypeInt64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.(int64))+1<<63)
		buf.Write(tmp[:])
	case TypeVarchar:
		s := v.(string)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf.Write(lenBuf[:])
		buf.WriteString(s)
	case TypeBool:
		if v.(bool) {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
}

// EncodeRow serializes the non-PK columns as the Hummock value.
func EncodeRow(schema *Schema, row Row) []byte {
	pk := make(map[int]bool, len(schema.PkIndices))
	for _, i := range schema.PkIndices {
		pk[i] = true
	}
	var buf bytes.Buffer
	for i, t := range schema.Columns {
		if pk[i] {
			continue
		}
		encodeValue(&buf, t, row[i])
	}
	return buf.Bytes()
}

// StateTable is a typed, epoch-scoped view over one table id's rows in one
// Hummock compaction group, staging writes in a shared-buffer batch until
// Commit.
type StateTable struct {
	mu        sync.Mutex
	tableID   uint32
	groupID   uint64
	schema    *Schema
	keyPrefix []byte

	epoch   uint64
	batch   *sharedbuffer.Batch
	uploader *sharedbuffer.Uploader

	watermark []byte // PK-prefix below which rows have been GC'd
}

// New creates a state table bound to an uploader for a specific table id.
func New(tableID uint32, groupID uint64, schema *Schema, uploader *sharedbuffer.Uploader) *StateTable {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], tableID)
	return &StateTable{
		tableID:   tableID,
		groupID:   groupID,
		schema:    schema,
		keyPrefix: prefix[:],
		uploader:  uploader,
	}
}

// InitEpoch opens a new epoch for writes; any prior uncommitted batch is
// abandoned (callers must Commit before calling InitEpoch again if writes
// must survive).
func (t *StateTable) InitEpoch(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch = epoch
	t.batch = sharedbuffer.NewBatch(epoch, t.groupID)
}

func (t *StateTable) userKey(row Row) []byte {
	pk := EncodePK(t.schema, row)
	return append(append([]byte(nil), t.keyPrefix...), pk...)
}

// Insert stages a row write for the table's current epoch.
func (t *StateTable) Insert(row Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := sstable.MakeInternalKey(t.userKey(row), t.epoch)
	t.batch.Put(key, EncodeRow(t.schema, row))
}

// Delete stages a tombstone for the row identified by its primary-key
// columns (only PK columns of row need be populated).
func (t *StateTable) Delete(row Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := sstable.MakeInternalKey(t.userKey(row), t.epoch)
	t.batch.Put(key, nil)
}

// Commit stages the current epoch's batch into the shared buffer. The
// caller's barrier manager later calls Sync on the epoch to push it all the
// way to an sstable and the Hummock version.
func (t *StateTable) Commit(ctx context.Context) error {
	t.mu.Lock()
	batch := t.batch
	t.mu.Unlock()
	if batch == nil {
		return nil
	}
	return t.uploader.Stage(batch)
}

// AdvanceWatermark records that rows with PK < wm are no longer needed by
// this operator (e.g. a dynamic filter's lower bound). The watermark only
// moves forward and is kept on the table; compaction does not read it, so
// no rows are reclaimed because of it.
func (t *StateTable) AdvanceWatermark(wm []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watermark == nil || bytes.Compare(wm, t.watermark) > 0 {
		t.watermark = append([]byte(nil), wm...)
	}
}

// Watermark returns the table's current watermark, or nil if none was set.
func (t *StateTable) Watermark() []byte { return t.watermark }

// Iterator scans an in-memory snapshot of rows in PK order. It does not
// read the shared buffer or sstables; callers supply the rows.
type Iterator struct {
	rows []Row
	pos  int
}

// NewIterator builds an iterator over rows, sorting by PK encoding so scans
// observe ascending user-key order like a Hummock range scan would.
func NewIterator(schema *Schema, rows []Row) *Iterator {
	sorted := append([]Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(EncodePK(schema, sorted[i]), EncodePK(schema, sorted[j])) < 0
	})
	return &Iterator{rows: sorted}
}

// Next advances the iterator, returning false when exhausted.
func (it *Iterator) Next() bool {
	it.pos++
	return it.pos <= len(it.rows)
}

// Row returns the current row.
func (it *Iterator) Row() Row {
	if it.pos == 0 || it.pos > len(it.rows) {
		panic(fmt.Sprintf("statetable: Row() called out of bounds at pos %d", it.pos))
	}
	return it.rows[it.pos-1]
}
