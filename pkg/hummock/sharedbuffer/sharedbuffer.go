// Package sharedbuffer implements the per-worker in-memory staging area for
// writes before they are synced into Hummock: batches are collected per
// epoch, then on sync drained, locally compacted, written out as sstables,
// uploaded to the object store, and registered with Meta via AddTables.
package sharedbuffer

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tidestream/tidestream/pkg/hummock/sstable"
	"github.com/tidestream/tidestream/pkg/hummock/version"
	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/metrics"
	"github.com/tidestream/tidestream/pkg/objectstore"
)

// KV is one write: an internal key and its value, or a nil value for a
// tombstone (delete).
type KV struct {
	Key   sstable.InternalKey
	Value []byte
}

// Batch is one epoch's writes for one compaction group, tagged with the
// epoch it was opened at so that readers holding the handle keep iterating
// consistent state even across a later sync.
type Batch struct {
	Epoch   uint64
	GroupID uint64
	entries []KV
}

// NewBatch creates an empty batch for the given epoch/group.
func NewBatch(epoch, groupID uint64) *Batch {
	return &Batch{Epoch: epoch, GroupID: groupID}
}

// Put appends a write. Entries need not arrive sorted; sortedEntries sorts
// them.
func (b *Batch) Put(key sstable.InternalKey, value []byte) {
	b.entries = append(b.entries, KV{Key: key, Value: value})
}

// Size estimates the batch's memory footprint.
func (b *Batch) Size() int {
	n := 0
	for _, e := range b.entries {
		n += len(e.Key) + len(e.Value)
	}
	return n
}

// sortedEntries returns entries in ascending internal-key order, with
// duplicate keys (repeated writes to the same key/epoch within one batch)
// resolved last-write-wins.
func (b *Batch) sortedEntries() []KV {
	out := append([]KV(nil), b.entries...)
	sort.Slice(out, func(i, j int) bool {
		return sstable.Compare(out[i].Key, out[j].Key) < 0
	})
	dedup := out[:0]
	for i, e := range out {
		if i > 0 && bytes.Equal(e.Key, out[i-1].Key) {
			dedup[len(dedup)-1] = e
			continue
		}
		dedup = append(dedup, e)
	}
	return dedup
}

// ConflictDetector optionally rejects a batch that writes a key already
// written by another uncommitted batch at the same epoch, supplementing the
// spec's optional shared-buffer conflict check.
type ConflictDetector struct {
	mu      sync.Mutex
	enabled bool
	seen    map[uint64]map[string]bool // epoch -> user key -> seen
}

// NewConflictDetector creates a detector; pass enabled=false to make Check a
// no-op.
func NewConflictDetector(enabled bool) *ConflictDetector {
	return &ConflictDetector{enabled: enabled, seen: make(map[uint64]map[string]bool)}
}

// Check registers the batch's keys for its epoch, returning an error if any
// user key was already written at the same epoch, whether by an earlier
// batch or earlier in this same batch.
func (d *ConflictDetector) Check(b *Batch) error {
	if !d.enabled {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := d.seen[b.Epoch]
	if keys == nil {
		keys = make(map[string]bool)
		d.seen[b.Epoch] = keys
	}
	for _, e := range b.entries {
		uk := string(e.Key.UserKey())
		if keys[uk] {
			return fmt.Errorf("sharedbuffer: conflicting write to key %q at epoch %d", uk, b.Epoch)
		}
		keys[uk] = true
	}
	return nil
}

// Release forgets an epoch's tracked keys once it has synced.
func (d *ConflictDetector) Release(epoch uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, epoch)
}

// Uploader drains batches for a committed epoch, locally merges them into
// sorted runs, builds sstables, uploads them, and commits the result to the
// Hummock version manager via AddTables.
type Uploader struct {
	mu       sync.Mutex
	pending  map[uint64][]*Batch // epoch -> batches across groups
	store    objectstore.Store
	versions *version.Manager
	detector *ConflictDetector
	dataDir  string
}

// NewUploader constructs an uploader writing sstables under dataDir.
func NewUploader(store objectstore.Store, versions *version.Manager, detector *ConflictDetector, dataDir string) *Uploader {
	return &Uploader{
		pending:  make(map[uint64][]*Batch),
		store:    store,
		versions: versions,
		detector: detector,
		dataDir:  dataDir,
	}
}

// Stage adds a batch to the set pending sync for its epoch.
func (u *Uploader) Stage(b *Batch) error {
	if err := u.detector.Check(b); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending[b.Epoch] = append(u.pending[b.Epoch], b)
	u.versions.SetSharedBufferSize(u.versions.SharedBufferSizeHint() + uint64(b.Size()))
	return nil
}

// Sync drains all batches staged for epoch, merges them per compaction
// group, writes one sstable per group, uploads it, and commits the result.
// This is the drain -> local compact -> emit ssts -> upload -> AddTables ->
// swap version pipeline the spec names directly.
func (u *Uploader) Sync(ctx context.Context, epoch uint64) (*version.HummockVersion, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SharedBufferFlushDuration)

	u.mu.Lock()
	batches := u.pending[epoch]
	delete(u.pending, epoch)
	u.mu.Unlock()

	defer u.detector.Release(epoch)

	byGroup := make(map[uint64][]*Batch)
	for _, b := range batches {
		byGroup[b.GroupID] = append(byGroup[b.GroupID], b)
	}

	var lastVersion *version.HummockVersion
	for groupID, gb := range byGroup {
		merged := mergeBatches(gb)
		if len(merged) == 0 {
			continue
		}

		w := sstable.NewWriter(sstable.WriterOptions{Compression: sstable.AlgorithmZstd})
		for _, kv := range merged {
			if err := w.Add(kv.Key, kv.Value); err != nil {
				return nil, err
			}
		}
		data, err := w.Finish()
		if err != nil {
			return nil, err
		}

		sstID := newSstID()
		objectKey := fmt.Sprintf("%s/%d.sst", u.dataDir, sstID)
		if err := u.store.Put(ctx, objectKey, data); err != nil {
			return nil, fmt.Errorf("sharedbuffer: upload sst %d: %w", sstID, err)
		}

		var tombstones uint64
		for _, kv := range merged {
			if kv.Value == nil {
				tombstones++
			}
		}
		info := &version.SstableInfo{
			ID:             sstID,
			ObjectKey:      objectKey,
			SmallestKey:    merged[0].Key,
			LargestKey:     merged[len(merged)-1].Key,
			FileSize:       uint64(len(data)),
			MinEpoch:       epoch,
			MaxEpoch:       epoch,
			EntryCount:     uint64(len(merged)),
			TombstoneCount: tombstones,
		}
		lastVersion = u.versions.AddTables(epoch, groupID, []*version.SstableInfo{info})
		log.WithComponent("shared-buffer").Info().Uint64("epoch", epoch).Uint64("group_id", groupID).
			Uint64("sst_id", sstID).Int("keys", len(merged)).Msg("uploaded shared buffer sst")
	}

	u.versions.SetSharedBufferSize(0)
	if lastVersion == nil {
		lastVersion = u.versions.Current()
	}
	return lastVersion, nil
}

// mergeBatches merges several per-group batches into one ascending,
// duplicate-resolved run. Later-staged batches win on key conflicts within
// the same epoch, mirroring last-write-wins within a single commit.
func mergeBatches(batches []*Batch) []KV {
	var all []KV
	for _, b := range batches {
		all = append(all, b.sortedEntries()...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return sstable.Compare(all[i].Key, all[j].Key) < 0
	})
	out := all[:0]
	for i, e := range all {
		if i > 0 && bytes.Equal(e.Key, all[i-1].Key) {
			out[len(out)-1] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

func newSstID() uint64 {
	id := uuid.New()
	var v uint64
	for _, b := range id[:8] {
		v = v<<8 | uint64(b)
	}
	return v
}
