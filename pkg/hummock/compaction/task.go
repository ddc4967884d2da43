package compaction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidestream/tidestream/pkg/hummock/sstable"
	"github.com/tidestream/tidestream/pkg/hummock/version"
	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/metrics"
	"github.com/tidestream/tidestream/pkg/objectstore"
)

// defaultTTLEpochs bounds how many commit epochs of history TTLReclaimPicker
// lets an sst's data age before it becomes eligible for a reclaim rewrite.
const defaultTTLEpochs = 100000

// TaskStatus is a compaction task's lifecycle state: propose -> assign ->
// lease -> complete/cancel.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one compaction assignment handed to a compactor worker.
type Task struct {
	ID         uint64
	Input      *Input
	Status     TaskStatus
	WorkerID   string
	LeaseUntil time.Time
	// SafeEpoch is the safe_epoch in effect when this task was proposed; the
	// executor uses it to physically drop versions and tombstones no pinned
	// snapshot can read below (invariant 4: pin implies readable).
	SafeEpoch uint64
}

// Scheduler proposes and tracks compaction tasks across all compaction
// groups. Pickers run in a fixed priority order per group; the first one to
// produce a non-nil Input (that also passes the validator) becomes a task.
type Scheduler struct {
	mu         sync.Mutex
	pickers    []Picker
	validator  *TaskValidator
	handlers   map[uint64]*LevelHandler // groupID -> handler
	versions   *version.Manager
	nextTaskID uint64
	tasks      map[uint64]*Task
	leaseTTL   time.Duration
}

// NewScheduler builds a scheduler over the given compaction groups, trying
// pickers in order: trivial move first (cheapest), then tier/intra (L0
// amplification), then base/leveled (the expensive rewrite path).
func NewScheduler(versions *version.Manager, baseLevel int) *Scheduler {
	return &Scheduler{
		pickers: []Picker{
			&TrivialMovePicker{BaseLevel: baseLevel},
			&TierPicker{},
			&IntraL0Picker{},
			&BaseLevelPicker{BaseLevel: baseLevel},
			&LeveledPicker{SourceLevel: baseLevel},
			// Reclaim pickers run last: they free space and drop dead
			// history rather than control amplification, so they only fire
			// once nothing above found higher-priority work.
			&SpaceReclaimPicker{BaseLevel: baseLevel},
			&TTLReclaimPicker{BaseLevel: baseLevel, TTLEpochs: defaultTTLEpochs},
			&TombstoneReclaimPicker{BaseLevel: baseLevel},
		},
		validator: DefaultTaskValidator(),
		handlers:  make(map[uint64]*LevelHandler),
		versions:  versions,
		tasks:     make(map[uint64]*Task),
		leaseTTL:  5 * time.Minute,
	}
}

func (s *Scheduler) handlerFor(groupID uint64) *LevelHandler {
	h, ok := s.handlers[groupID]
	if !ok {
		h = NewLevelHandler()
		s.handlers[groupID] = h
	}
	return h
}

// GetCompactionTask proposes the next available task for any compaction
// group, claims its input ssts so no other worker is handed the same
// files, and returns it. Returns nil if no group has work.
func (s *Scheduler) GetCompactionTask(workerID string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	safeEpoch := s.versions.AdvanceSafeEpoch()
	maxCommitted := s.versions.Current().MaxCommittedEpoch
	for _, picker := range s.pickers {
		if ea, ok := picker.(EpochAware); ok {
			ea.Observe(safeEpoch, maxCommitted)
		}
	}

	stats := &Stats{}
	for groupID, group := range s.versions.Current().Groups {
		handler := s.handlerFor(groupID)
		for _, picker := range s.pickers {
			input := picker.Pick(group, handler, stats)
			if input == nil {
				continue
			}
			if violated := s.validator.Validate(input); violated != nil {
				continue
			}
			ids := sstIDs(input.InputSsts)
			handler.Claim(ids...)

			s.nextTaskID++
			task := &Task{
				ID:         s.nextTaskID,
				Input:      input,
				Status:     TaskAssigned,
				WorkerID:   workerID,
				LeaseUntil: time.Now().Add(s.leaseTTL),
				SafeEpoch:  safeEpoch,
			}
			s.tasks[task.ID] = task
			return task
		}
	}
	return nil
}

// ReportCompactionTask records the outcome of a task. On success it applies
// the compaction to the version manager; on failure or cancellation it
// releases the claimed input ssts so another worker can retry them.
func (s *Scheduler) ReportCompactionTask(taskID uint64, status TaskStatus, outputs []*version.SstableInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("compaction: unknown task %d", taskID)
	}
	handler := s.handlerFor(task.Input.GroupID)
	ids := sstIDs(task.Input.InputSsts)

	task.Status = status
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CompactionTaskDuration, string(task.Input.Kind))

	switch status {
	case TaskSucceeded:
		s.versions.ApplyCompaction(task.Input.GroupID, task.Input.RemovedIDs, outputs, task.Input.TargetLevel)
		handler.Release(ids...)
		var written uint64
		for _, o := range outputs {
			written += o.FileSize
		}
		metrics.CompactionBytesWritten.WithLabelValues(string(task.Input.Kind)).Add(float64(written))
	case TaskFailed, TaskCancelled:
		handler.Release(ids...)
		metrics.CompactionTasksFailed.WithLabelValues(string(status)).Inc()
	default:
		return fmt.Errorf("compaction: invalid report status %q", status)
	}
	delete(s.tasks, taskID)
	return nil
}

func sstIDs(ssts []*version.SstableInfo) []uint64 {
	ids := make([]uint64, len(ssts))
	for i, s := range ssts {
		ids[i] = s.ID
	}
	return ids
}

// Executor runs a Task to completion: reads every input block across every
// input sst, merges them in key order, writes new sstable(s), and uploads
// them. This is the worker-side half of the propose/assign/lease/complete
// lifecycle the scheduler drives.
type Executor struct {
	store   objectstore.Store
	dataDir string
}

// NewExecutor creates a compaction task executor.
func NewExecutor(store objectstore.Store, dataDir string) *Executor {
	return &Executor{store: store, dataDir: dataDir}
}

// Run executes one task and returns the output sstables it produced.
func (e *Executor) Run(ctx context.Context, task *Task) ([]*version.SstableInfo, error) {
	merged, err := e.mergeInputs(ctx, task.Input.InputSsts, task.SafeEpoch)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, nil
	}

	w := sstable.NewWriter(sstable.WriterOptions{Compression: sstable.AlgorithmZstd})
	var minEpoch, maxEpoch uint64
	var tombstones uint64
	for i, kv := range merged {
		if err := w.Add(kv.Key, kv.Value); err != nil {
			return nil, err
		}
		epoch := kv.Key.Epoch()
		if i == 0 || epoch < minEpoch {
			minEpoch = epoch
		}
		if epoch > maxEpoch {
			maxEpoch = epoch
		}
		if kv.Value == nil {
			tombstones++
		}
	}
	data, err := w.Finish()
	if err != nil {
		return nil, err
	}

	id := newOutputSstID(task.ID)
	objectKey := fmt.Sprintf("%s/%d.sst", e.dataDir, id)
	if err := e.store.Put(ctx, objectKey, data); err != nil {
		return nil, fmt.Errorf("compaction: upload output sst %d: %w", id, err)
	}

	info := &version.SstableInfo{
		ID:             id,
		ObjectKey:      objectKey,
		SmallestKey:    merged[0].Key,
		LargestKey:     merged[len(merged)-1].Key,
		FileSize:       uint64(len(data)),
		MinEpoch:       minEpoch,
		MaxEpoch:       maxEpoch,
		EntryCount:     uint64(len(merged)),
		TombstoneCount: tombstones,
	}
	log.WithComponent("compactor").Info().Uint64("task_id", task.ID).Str("kind", string(task.Input.Kind)).
		Int("input_ssts", len(task.Input.InputSsts)).Uint64("output_sst", id).Uint64("safe_epoch", task.SafeEpoch).
		Msg("compaction task completed")
	return []*version.SstableInfo{info}, nil
}

type mergeKV struct {
	Key   sstable.InternalKey
	Value []byte
}

// mergeInputs performs a k-way merge over every block of every input sst,
// then two GC passes on top of plain dedup (invariant 2: no user key
// appears twice with the same epoch after compaction):
//
//  1. Per user key, once a version at or below safeEpoch is kept, every
//     older version behind it is dropped outright — no pinned snapshot's
//     epoch can fall below safeEpoch, so that kept version is already the
//     newest one any live reader could want (invariant 4: pin implies
//     readable).
//  2. A trailing tombstone that itself lands at or below safeEpoch is
//     dropped too, physically erasing the delete once nothing can read the
//     row it shadowed.
func (e *Executor) mergeInputs(ctx context.Context, inputs []*version.SstableInfo, safeEpoch uint64) ([]mergeKV, error) {
	var all []mergeKV
	for _, info := range inputs {
		data, err := e.store.Get(ctx, info.ObjectKey, nil)
		if err != nil {
			return nil, fmt.Errorf("compaction: fetch sst %d: %w", info.ID, err)
		}
		kvs, err := readAllRecords(data)
		if err != nil {
			return nil, fmt.Errorf("compaction: decode sst %d: %w", info.ID, err)
		}
		all = append(all, kvs...)
	}

	sortMergeKVs(all)

	deduped := all[:0]
	for i, kv := range all {
		sameKey := i > 0 && string(kv.Key.UserKey()) == string(all[i-1].Key.UserKey())
		if sameKey && kv.Key.Epoch() == all[i-1].Key.Epoch() {
			deduped[len(deduped)-1] = kv
			continue
		}
		if sameKey && deduped[len(deduped)-1].Key.Epoch() <= safeEpoch {
			// The previous kept version is already at or below safeEpoch: it
			// is the newest version any live snapshot could read, so this
			// older one behind it is unreachable and can be dropped.
			continue
		}
		deduped = append(deduped, kv)
	}

	out := deduped[:0]
	for _, kv := range deduped {
		if kv.Value == nil && kv.Key.Epoch() <= safeEpoch {
			continue
		}
		out = append(out, kv)
	}
	return out, nil
}

func sortMergeKVs(kvs []mergeKV) {
	sort.Slice(kvs, func(i, j int) bool {
		return sstable.Compare(kvs[i].Key, kvs[j].Key) < 0
	})
}

// readAllRecords fully decodes a tiny in-process representation of an
// sstable file: footer, then every block in order. Production-scale reads
// go through pkg/hummock/cache instead; compaction always reads whole
// files, so no caching benefit is lost here.
func readAllRecords(file []byte) ([]mergeKV, error) {
	tailLen := 4096
	if tailLen > len(file) {
		tailLen = len(file)
	}
	reader, err := sstable.OpenReader(file[len(file)-tailLen:], directFetcher{file: file, tailOffset: uint64(len(file) - tailLen)})
	if err != nil {
		return nil, err
	}

	var out []mergeKV
	for i := range reader.Footer().Blocks {
		blk, err := reader.ReadBlock(context.Background(), i)
		if err != nil {
			return nil, err
		}
		it := sstable.NewBlockIterator(blk)
		for it.SeekToFirst(); it.Valid(); it.Next() {
			key := append(sstable.InternalKey(nil), it.Key()...)
			value := append([]byte(nil), it.Value()...)
			out = append(out, mergeKV{Key: key, Value: value})
		}
	}
	return out, nil
}

// directFetcher serves block ranges directly out of an in-memory file,
// satisfying sstable.BlockFetcher without a real cache/object-store round
// trip. The footer is assumed small enough to be entirely within the
// fetched tail, which holds for any sstable with a reasonable block count.
type directFetcher struct {
	file       []byte
	tailOffset uint64
}

func (f directFetcher) FetchBlock(ctx context.Context, offset, length uint64) ([]byte, error) {
	if offset+length > uint64(len(f.file)) {
		return nil, fmt.Errorf("compaction: block range out of bounds")
	}
	return f.file[offset : offset+length], nil
}

func newOutputSstID(taskID uint64) uint64 {
	return taskID<<32 | uint64(time.Now().UnixNano()&0xffffffff)
}
