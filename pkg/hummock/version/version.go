// Package version models the Hummock Version: a linear history of
// manifests, each mapping compaction groups to per-group LSM levels.
package version

import "github.com/tidestream/tidestream/pkg/hummock/sstable"

// SstableInfo is the catalog record for one sstable: enough to address and
// bound it without opening the file.
type SstableInfo struct {
	ID               uint64
	ObjectKey        string
	SmallestKey      sstable.InternalKey
	LargestKey       sstable.InternalKey
	FileSize         uint64
	TableIDs         []uint32
	MinEpoch         uint64
	MaxEpoch         uint64
	EntryCount       uint64
	TombstoneCount   uint64
}

// TombstoneRatio reports the fraction of this sstable's entries that are
// delete tombstones, used by the tombstone reclaim picker to find ssts worth
// rewriting purely to drop dead deletes.
func (s *SstableInfo) TombstoneRatio() float64 {
	if s.EntryCount == 0 {
		return 0
	}
	return float64(s.TombstoneCount) / float64(s.EntryCount)
}

// Overlaps reports whether this sstable's key range intersects [smallest,
// largest].
func (s *SstableInfo) Overlaps(smallest, largest sstable.InternalKey) bool {
	return sstable.Compare(s.SmallestKey, largest) <= 0 && sstable.Compare(smallest, s.LargestKey) <= 0
}

// SubLevel is one sub-level of L0: a set of possibly-overlapping ssts,
// ordered newest-first, produced by a single flush or intra-L0 compaction.
type SubLevel struct {
	ID    uint64
	Ssts  []*SstableInfo
}

// Level is one non-zero level: key-disjoint, sorted ssts (invariant 7).
type Level struct {
	LevelIdx int
	Ssts     []*SstableInfo
}

// CompactionGroupLevels is one compaction group's LSM level set: L0 (a list
// of sub-levels) plus L1..LN.
type CompactionGroupLevels struct {
	GroupID   uint64
	L0        []*SubLevel
	Levels    []*Level // index 0 == L1
}

// HummockVersion is one immutable point in the manifest history.
type HummockVersion struct {
	ID                uint64
	MaxCommittedEpoch uint64
	SafeEpoch         uint64
	Groups            map[uint64]*CompactionGroupLevels
}

// NewHummockVersion creates version 0 with no data.
func NewHummockVersion() *HummockVersion {
	return &HummockVersion{
		ID:     0,
		Groups: make(map[uint64]*CompactionGroupLevels),
	}
}

// Clone performs a shallow structural copy suitable for building the next
// version via copy-on-write (sstables themselves are immutable and shared).
func (v *HummockVersion) Clone() *HummockVersion {
	next := &HummockVersion{
		ID:                v.ID,
		MaxCommittedEpoch: v.MaxCommittedEpoch,
		SafeEpoch:         v.SafeEpoch,
		Groups:            make(map[uint64]*CompactionGroupLevels, len(v.Groups)),
	}
	for id, g := range v.Groups {
		ng := &CompactionGroupLevels{GroupID: g.GroupID}
		ng.L0 = append(ng.L0, g.L0...)
		for _, l := range g.Levels {
			nl := &Level{LevelIdx: l.LevelIdx}
			nl.Ssts = append(nl.Ssts, l.Ssts...)
			ng.Levels = append(ng.Levels, nl)
		}
		next.Groups[id] = ng
	}
	return next
}

// GroupOrCreate returns the group's levels, creating an empty set if this
// is the group's first appearance in the version.
func (v *HummockVersion) GroupOrCreate(groupID uint64) *CompactionGroupLevels {
	g, ok := v.Groups[groupID]
	if !ok {
		g = &CompactionGroupLevels{GroupID: groupID}
		v.Groups[groupID] = g
	}
	return g
}

// Manager owns the linear version history: the current version plus the
// set of pinned epochs that bound how far compaction may garbage-collect
// (invariant 4: pin implies readable).
type Manager struct {
	current *HummockVersion
	pins    map[uint64]int // epoch -> ref count
	sharedBufferBytes uint64
}

// NewManager creates a version manager starting from an empty version.
func NewManager() *Manager {
	return &Manager{
		current: NewHummockVersion(),
		pins:    make(map[uint64]int),
	}
}

// Current returns the latest committed version.
func (m *Manager) Current() *HummockVersion { return m.current }

// PinSnapshot pins the current max_committed_epoch for a reader and returns
// it; UnpinSnapshotBefore releases all pins <= epoch.
func (m *Manager) PinSnapshot() uint64 {
	epoch := m.current.MaxCommittedEpoch
	m.pins[epoch]++
	return epoch
}

// UnpinSnapshotBefore releases pins at or below epoch.
func (m *Manager) UnpinSnapshotBefore(epoch uint64) {
	for e := range m.pins {
		if e <= epoch {
			delete(m.pins, e)
		}
	}
}

// MinPinnedEpoch returns the smallest pinned epoch, or MaxCommittedEpoch if
// nothing is pinned. Compaction's safe_epoch never advances past this.
func (m *Manager) MinPinnedEpoch() uint64 {
	min := m.current.MaxCommittedEpoch
	for e := range m.pins {
		if e < min {
			min = e
		}
	}
	return min
}

// AdvanceSafeEpoch sets the current version's safe_epoch to MinPinnedEpoch,
// the newest epoch compaction is guaranteed no live snapshot reads below.
// Called by the compaction scheduler before each scheduling pass so reclaim
// pickers and the merge GC always see an up-to-date watermark.
func (m *Manager) AdvanceSafeEpoch() uint64 {
	safe := m.MinPinnedEpoch()
	if safe > m.current.SafeEpoch {
		m.current.SafeEpoch = safe
	}
	return m.current.SafeEpoch
}

// AddTables commits a new set of L0 ssts at epoch, advancing
// max_committed_epoch and the version id (invariant 3: monotonic epochs).
func (m *Manager) AddTables(epoch uint64, groupID uint64, ssts []*SstableInfo) *HummockVersion {
	next := m.current.Clone()
	next.ID++
	if epoch > next.MaxCommittedEpoch {
		next.MaxCommittedEpoch = epoch
	}

	g := next.GroupOrCreate(groupID)
	sub := &SubLevel{ID: next.ID, Ssts: ssts}
	g.L0 = append([]*SubLevel{sub}, g.L0...)

	m.current = next
	return next
}

// ApplyCompaction replaces a set of input ssts (by sub-level/level) with a
// set of output ssts, producing the next version. Callers (the compaction
// scheduler) pass the already-decided input/output sets; this only updates
// bookkeeping and bumps the version id.
func (m *Manager) ApplyCompaction(groupID uint64, removedIDs map[uint64]bool, added []*SstableInfo, targetLevel int) *HummockVersion {
	next := m.current.Clone()
	next.ID++
	g := next.GroupOrCreate(groupID)

	var keptL0 []*SubLevel
	for _, sub := range g.L0 {
		var kept []*SstableInfo
		for _, s := range sub.Ssts {
			if !removedIDs[s.ID] {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			keptL0 = append(keptL0, &SubLevel{ID: sub.ID, Ssts: kept})
		}
	}
	g.L0 = keptL0

	for _, l := range g.Levels {
		var kept []*SstableInfo
		for _, s := range l.Ssts {
			if !removedIDs[s.ID] {
				kept = append(kept, s)
			}
		}
		l.Ssts = kept
	}

	if targetLevel > 0 {
		level := ensureLevel(g, targetLevel)
		level.Ssts = mergeSorted(level.Ssts, added)
	} else {
		sub := &SubLevel{ID: next.ID, Ssts: added}
		g.L0 = append([]*SubLevel{sub}, g.L0...)
	}

	m.current = next
	return next
}

func ensureLevel(g *CompactionGroupLevels, levelIdx int) *Level {
	for _, l := range g.Levels {
		if l.LevelIdx == levelIdx {
			return l
		}
	}
	l := &Level{LevelIdx: levelIdx}
	g.Levels = append(g.Levels, l)
	return l
}

func mergeSorted(existing, added []*SstableInfo) []*SstableInfo {
	out := append([]*SstableInfo(nil), existing...)
	out = append(out, added...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && sstable.Compare(out[j].SmallestKey, out[j-1].SmallestKey) < 0; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SharedBufferSizeHint reports the tracked shared-buffer footprint, used by
// metrics.Collector; the uploader updates it via SetSharedBufferSize.
func (m *Manager) SharedBufferSizeHint() uint64 { return m.sharedBufferBytes }

// SetSharedBufferSize records the current shared-buffer footprint.
func (m *Manager) SetSharedBufferSize(bytes uint64) { m.sharedBufferBytes = bytes }
