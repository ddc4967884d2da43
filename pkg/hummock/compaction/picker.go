// Package compaction implements the LSM compaction pickers and task
// lifecycle, grounded on the original meta/src/hummock/compaction/picker
// module: a Picker trait selecting an Input given levels and per-level
// handlers, plus a validator that checks the chosen input against a set of
// order-independent rules before a task is proposed.
package compaction

import (
	"sort"

	"github.com/tidestream/tidestream/pkg/hummock/version"
)

// Kind names a picker strategy; used as the "picker" label on metrics.
type Kind string

const (
	KindTier           Kind = "tier"
	KindIntra          Kind = "intra"
	KindBase           Kind = "base"
	KindLeveled        Kind = "leveled"
	KindSpaceReclaim   Kind = "space_reclaim"
	KindTTLReclaim     Kind = "ttl_reclaim"
	KindTombstone      Kind = "tombstone_reclaim"
	KindTrivialMove    Kind = "trivial_move"
	KindManual         Kind = "manual"
)

// Input is a proposed compaction: the ssts to read (grouped by the
// sub-level/level they came from) and the level the merged output lands in.
// TargetSubLevelID is set only for intra-L0 compactions.
type Input struct {
	Kind             Kind
	GroupID          uint64
	InputSsts        []*version.SstableInfo
	RemovedIDs       map[uint64]bool
	TargetLevel      int
	TargetSubLevelID uint64
}

// Stats accumulates per-picker counters across one scheduling pass, mirror
// of LocalPickerStatistic.
type Stats struct {
	SkipByOverlapping int
	SkipByPendingFile int
}

// LevelHandler tracks which ssts in a level are already claimed by an
// in-flight compaction task, so two tasks never pick the same file.
type LevelHandler struct {
	pending map[uint64]bool
}

// NewLevelHandler creates an empty handler.
func NewLevelHandler() *LevelHandler { return &LevelHandler{pending: make(map[uint64]bool)} }

// IsPending reports whether sst id is already claimed.
func (h *LevelHandler) IsPending(id uint64) bool { return h.pending[id] }

// Claim marks ssts as claimed by an in-flight task.
func (h *LevelHandler) Claim(ids ...uint64) {
	for _, id := range ids {
		h.pending[id] = true
	}
}

// Release unclaims ssts, called when a task completes or is cancelled.
func (h *LevelHandler) Release(ids ...uint64) {
	for _, id := range ids {
		delete(h.pending, id)
	}
}

// Picker selects at most one compaction Input from the current levels of a
// compaction group.
type Picker interface {
	Kind() Kind
	Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input
}

// EpochAware is implemented by pickers whose selection depends on the
// current safe_epoch (the newest epoch no live pinned snapshot reads below)
// or the current max_committed_epoch. The scheduler calls Observe on every
// EpochAware picker at the start of each scheduling pass.
type EpochAware interface {
	Observe(safeEpoch, maxCommittedEpoch uint64)
}

// TrivialMovePicker finds an L0 sub-level sst that doesn't overlap the base
// level at all, and moves it without rewriting bytes — a fast path present
// in the original picker package but only implied by "leveled compaction"
// in the distilled spec.
type TrivialMovePicker struct {
	BaseLevel int
}

func (p *TrivialMovePicker) Kind() Kind { return KindTrivialMove }

func (p *TrivialMovePicker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	base := findLevel(levels, p.BaseLevel)
	for _, sub := range levels.L0 {
		for _, sst := range sub.Ssts {
			if handler.IsPending(sst.ID) {
				continue
			}
			if base == nil || !overlapsAny(sst, base.Ssts) {
				return &Input{
					Kind:        KindTrivialMove,
					GroupID:     levels.GroupID,
					InputSsts:   []*version.SstableInfo{sst},
					RemovedIDs:  map[uint64]bool{sst.ID: true},
					TargetLevel: p.BaseLevel,
				}
			}
			stats.SkipByOverlapping++
		}
	}
	return nil
}

// TierPicker merges multiple overlapping L0 sub-levels into one, reducing
// read amplification without touching the base level.
type TierPicker struct {
	MinSubLevels int
}

func (p *TierPicker) Kind() Kind { return KindTier }

func (p *TierPicker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	minSub := p.MinSubLevels
	if minSub <= 0 {
		minSub = 4
	}
	if len(levels.L0) < minSub {
		return nil
	}

	var input []*version.SstableInfo
	removed := make(map[uint64]bool)
	for _, sub := range levels.L0 {
		for _, sst := range sub.Ssts {
			if handler.IsPending(sst.ID) {
				stats.SkipByPendingFile++
				continue
			}
			input = append(input, sst)
			removed[sst.ID] = true
		}
	}
	if len(input) == 0 {
		return nil
	}
	return &Input{Kind: KindTier, GroupID: levels.GroupID, InputSsts: input, RemovedIDs: removed, TargetLevel: 0}
}

// IntraL0Picker merges the two oldest L0 sub-levels (the last two in
// levels.L0) into a single sub-level, keeping data in L0 but shrinking the
// number of sub-levels a read must fan out to. It does not check whether
// those two overlap the other sub-levels.
type IntraL0Picker struct{}

func (p *IntraL0Picker) Kind() Kind { return KindIntra }

func (p *IntraL0Picker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	if len(levels.L0) < 2 {
		return nil
	}
	a, b := levels.L0[len(levels.L0)-1], levels.L0[len(levels.L0)-2]
	var input []*version.SstableInfo
	removed := make(map[uint64]bool)
	for _, sst := range append(append([]*version.SstableInfo{}, a.Ssts...), b.Ssts...) {
		if handler.IsPending(sst.ID) {
			stats.SkipByPendingFile++
			continue
		}
		input = append(input, sst)
		removed[sst.ID] = true
	}
	if len(input) == 0 {
		return nil
	}
	return &Input{Kind: KindIntra, GroupID: levels.GroupID, InputSsts: input, RemovedIDs: removed, TargetLevel: 0, TargetSubLevelID: a.ID}
}

// BaseLevelPicker moves the oldest L0 sub-level into the base level,
// merging with any overlapping base-level ssts (classic leveled
// compaction).
type BaseLevelPicker struct {
	BaseLevel int
}

func (p *BaseLevelPicker) Kind() Kind { return KindBase }

func (p *BaseLevelPicker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	if len(levels.L0) == 0 {
		return nil
	}
	oldest := levels.L0[len(levels.L0)-1]
	base := findLevel(levels, p.BaseLevel)

	removed := make(map[uint64]bool)
	var input []*version.SstableInfo
	for _, sst := range oldest.Ssts {
		if handler.IsPending(sst.ID) {
			stats.SkipByPendingFile++
			continue
		}
		input = append(input, sst)
		removed[sst.ID] = true
	}
	if len(input) == 0 {
		return nil
	}
	if base != nil {
		for _, sst := range base.Ssts {
			if !handler.IsPending(sst.ID) && overlapsAny(sst, input) {
				input = append(input, sst)
				removed[sst.ID] = true
			}
		}
	}
	return &Input{Kind: KindBase, GroupID: levels.GroupID, InputSsts: input, RemovedIDs: removed, TargetLevel: p.BaseLevel}
}

// LeveledPicker compacts one level into the next when the level's total
// size exceeds its target size ratio, the classic Lx -> Lx+1 cascade.
type LeveledPicker struct {
	SourceLevel int
	SizeRatio   float64
}

func (p *LeveledPicker) Kind() Kind { return KindLeveled }

func (p *LeveledPicker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	src := findLevel(levels, p.SourceLevel)
	if src == nil || len(src.Ssts) == 0 {
		return nil
	}
	ratio := p.SizeRatio
	if ratio <= 0 {
		ratio = 10
	}
	var srcBytes, dstBytes uint64
	for _, s := range src.Ssts {
		srcBytes += s.FileSize
	}
	dst := findLevel(levels, p.SourceLevel+1)
	if dst != nil {
		for _, s := range dst.Ssts {
			dstBytes += s.FileSize
		}
	}
	if dstBytes > 0 && float64(dstBytes)/float64(srcBytes+1) > ratio {
		return nil
	}

	sst := src.Ssts[0]
	if handler.IsPending(sst.ID) {
		stats.SkipByPendingFile++
		return nil
	}
	removed := map[uint64]bool{sst.ID: true}
	input := []*version.SstableInfo{sst}
	if dst != nil {
		for _, s := range dst.Ssts {
			if !handler.IsPending(s.ID) && s.Overlaps(sst.SmallestKey, sst.LargestKey) {
				input = append(input, s)
				removed[s.ID] = true
			}
		}
	}
	return &Input{Kind: KindLeveled, GroupID: levels.GroupID, InputSsts: input, RemovedIDs: removed, TargetLevel: p.SourceLevel + 1}
}

// SpaceReclaimPicker recompacts a single sst, in place at its own level,
// once it is entirely below safe_epoch: every version it holds is either
// already superseded or old enough that no pinned snapshot can read below
// it, so mergeInputs can collapse its per-key history without growing
// anything else. This is pure space reclamation, not amplification control,
// so it only fires when nothing else found work.
type SpaceReclaimPicker struct {
	BaseLevel int
	safeEpoch uint64
}

func (p *SpaceReclaimPicker) Kind() Kind { return KindSpaceReclaim }

func (p *SpaceReclaimPicker) Observe(safeEpoch, maxCommittedEpoch uint64) { p.safeEpoch = safeEpoch }

func (p *SpaceReclaimPicker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	if p.safeEpoch == 0 {
		return nil
	}
	for _, l := range levels.Levels {
		if l.LevelIdx < p.BaseLevel {
			continue
		}
		for _, sst := range l.Ssts {
			if handler.IsPending(sst.ID) {
				continue
			}
			if sst.MaxEpoch <= p.safeEpoch && sst.MinEpoch < sst.MaxEpoch {
				return &Input{
					Kind:        KindSpaceReclaim,
					GroupID:     levels.GroupID,
					InputSsts:   []*version.SstableInfo{sst},
					RemovedIDs:  map[uint64]bool{sst.ID: true},
					TargetLevel: l.LevelIdx,
				}
			}
		}
	}
	return nil
}

// TTLReclaimPicker recompacts ssts whose data has aged past a configured
// retention window, using max_committed_epoch as a monotonic proxy for wall
// time (epochs are assigned in commit order, so their difference tracks
// elapsed commits). Rewriting lets mergeInputs' safe_epoch GC physically
// drop the entries a per-row TTL predicate would have expired; a true
// per-row TTL column predicate is out of scope here, see DESIGN.md.
type TTLReclaimPicker struct {
	BaseLevel int
	TTLEpochs uint64
	now       uint64
}

func (p *TTLReclaimPicker) Kind() Kind { return KindTTLReclaim }

func (p *TTLReclaimPicker) Observe(safeEpoch, maxCommittedEpoch uint64) { p.now = maxCommittedEpoch }

func (p *TTLReclaimPicker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	if p.TTLEpochs == 0 || p.now < p.TTLEpochs {
		return nil
	}
	cutoff := p.now - p.TTLEpochs
	for _, l := range levels.Levels {
		if l.LevelIdx < p.BaseLevel {
			continue
		}
		for _, sst := range l.Ssts {
			if handler.IsPending(sst.ID) {
				continue
			}
			if sst.MaxEpoch <= cutoff {
				return &Input{
					Kind:        KindTTLReclaim,
					GroupID:     levels.GroupID,
					InputSsts:   []*version.SstableInfo{sst},
					RemovedIDs:  map[uint64]bool{sst.ID: true},
					TargetLevel: l.LevelIdx,
				}
			}
		}
	}
	return nil
}

// TombstoneReclaimPicker recompacts the sst with the highest delete-marker
// ratio once it clears MinRatio, so tombstone-dominated ssts get rewritten
// (and their dead deletes dropped past safe_epoch) instead of sitting
// forever just to shadow already-GC'd data.
type TombstoneReclaimPicker struct {
	BaseLevel int
	MinRatio  float64
}

func (p *TombstoneReclaimPicker) Kind() Kind { return KindTombstone }

func (p *TombstoneReclaimPicker) Pick(levels *version.CompactionGroupLevels, handler *LevelHandler, stats *Stats) *Input {
	minRatio := p.MinRatio
	if minRatio <= 0 {
		minRatio = 0.3
	}
	var best *version.SstableInfo
	var bestLevel int
	for _, l := range levels.Levels {
		if l.LevelIdx < p.BaseLevel {
			continue
		}
		for _, sst := range l.Ssts {
			if handler.IsPending(sst.ID) {
				continue
			}
			if sst.TombstoneRatio() >= minRatio && (best == nil || sst.TombstoneRatio() > best.TombstoneRatio()) {
				best, bestLevel = sst, l.LevelIdx
			}
		}
	}
	if best == nil {
		return nil
	}
	return &Input{
		Kind:        KindTombstone,
		GroupID:     levels.GroupID,
		InputSsts:   []*version.SstableInfo{best},
		RemovedIDs:  map[uint64]bool{best.ID: true},
		TargetLevel: bestLevel,
	}
}

func findLevel(levels *version.CompactionGroupLevels, idx int) *version.Level {
	for _, l := range levels.Levels {
		if l.LevelIdx == idx {
			return l
		}
	}
	return nil
}

func overlapsAny(sst *version.SstableInfo, others []*version.SstableInfo) bool {
	for _, o := range others {
		if sst.Overlaps(o.SmallestKey, o.LargestKey) {
			return true
		}
	}
	return false
}

// sortBySmallest orders ssts by smallest key ascending, used when building
// merge inputs that must be fed to sstable.Writer in key order.
func sortBySmallest(ssts []*version.SstableInfo) {
	sort.Slice(ssts, func(i, j int) bool {
		return string(ssts[i].SmallestKey) < string(ssts[j].SmallestKey)
	})
}
