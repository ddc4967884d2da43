package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/hummock/sstable"
	"github.com/tidestream/tidestream/pkg/hummock/version"
)

func mkSst(id uint64, small, large string, size uint64) *version.SstableInfo {
	return &version.SstableInfo{
		ID:          id,
		SmallestKey: sstable.MakeInternalKey([]byte(small), 1),
		LargestKey:  sstable.MakeInternalKey([]byte(large), 1),
		FileSize:    size,
	}
}

func TestTrivialMovePickerMovesNonOverlappingSst(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		L0: []*version.SubLevel{
			{ID: 1, Ssts: []*version.SstableInfo{mkSst(1, "x", "y", 100)}},
		},
		Levels: []*version.Level{
			{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSst(2, "a", "b", 100)}},
		},
	}
	picker := &TrivialMovePicker{BaseLevel: 1}
	input := picker.Pick(levels, NewLevelHandler(), &Stats{})
	require.NotNil(t, input)
	assert.Equal(t, KindTrivialMove, input.Kind)
	assert.Equal(t, uint64(1), input.InputSsts[0].ID)
}

func TestTrivialMovePickerSkipsOverlapping(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		L0: []*version.SubLevel{
			{ID: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "c", 100)}},
		},
		Levels: []*version.Level{
			{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSst(2, "b", "d", 100)}},
		},
	}
	picker := &TrivialMovePicker{BaseLevel: 1}
	stats := &Stats{}
	input := picker.Pick(levels, NewLevelHandler(), stats)
	assert.Nil(t, input)
	assert.Equal(t, 1, stats.SkipByOverlapping)
}

func TestTierPickerRequiresMinSubLevels(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		L0: []*version.SubLevel{
			{ID: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "b", 10)}},
		},
	}
	picker := &TierPicker{MinSubLevels: 4}
	assert.Nil(t, picker.Pick(levels, NewLevelHandler(), &Stats{}))
}

func TestTierPickerMergesAllSubLevelsOnceThresholdMet(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		L0: []*version.SubLevel{
			{ID: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "b", 10)}},
			{ID: 2, Ssts: []*version.SstableInfo{mkSst(2, "c", "d", 10)}},
		},
	}
	picker := &TierPicker{MinSubLevels: 2}
	input := picker.Pick(levels, NewLevelHandler(), &Stats{})
	require.NotNil(t, input)
	assert.Len(t, input.InputSsts, 2)
}

func TestTierPickerSkipsClaimedSsts(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		L0: []*version.SubLevel{
			{ID: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "b", 10)}},
			{ID: 2, Ssts: []*version.SstableInfo{mkSst(2, "c", "d", 10)}},
		},
	}
	handler := NewLevelHandler()
	handler.Claim(1, 2)
	stats := &Stats{}
	input := (&TierPicker{MinSubLevels: 2}).Pick(levels, handler, stats)
	assert.Nil(t, input)
	assert.Equal(t, 2, stats.SkipByPendingFile)
}

func TestIntraL0PickerNeedsAtLeastTwoSubLevels(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		L0:      []*version.SubLevel{{ID: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "b", 10)}}},
	}
	assert.Nil(t, (&IntraL0Picker{}).Pick(levels, NewLevelHandler(), &Stats{}))
}

func TestBaseLevelPickerMovesOldestSubLevelAndOverlappingBase(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		L0: []*version.SubLevel{
			{ID: 2, Ssts: []*version.SstableInfo{mkSst(2, "e", "f", 10)}}, // newest, first
			{ID: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "c", 10)}}, // oldest, last
		},
		Levels: []*version.Level{
			{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSst(3, "b", "d", 10)}},
		},
	}
	input := (&BaseLevelPicker{BaseLevel: 1}).Pick(levels, NewLevelHandler(), &Stats{})
	require.NotNil(t, input)
	assert.Equal(t, KindBase, input.Kind)
	var ids []uint64
	for _, s := range input.InputSsts {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, uint64(1))
	assert.Contains(t, ids, uint64(3))
}

func TestLeveledPickerRespectsSizeRatio(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		Levels: []*version.Level{
			{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "b", 100)}},
			{LevelIdx: 2, Ssts: []*version.SstableInfo{mkSst(2, "a", "b", 5000)}},
		},
	}
	// dst/src = 50, ratio default 10: skip.
	assert.Nil(t, (&LeveledPicker{SourceLevel: 1}).Pick(levels, NewLevelHandler(), &Stats{}))
}

func TestLeveledPickerProposesWhenUnderRatio(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		Levels: []*version.Level{
			{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSst(1, "a", "b", 100)}},
			{LevelIdx: 2, Ssts: []*version.SstableInfo{mkSst(2, "a", "c", 200)}},
		},
	}
	input := (&LeveledPicker{SourceLevel: 1}).Pick(levels, NewLevelHandler(), &Stats{})
	require.NotNil(t, input)
	assert.Equal(t, 2, input.TargetLevel)
}

func mkSstEpoch(id uint64, small, large string, minEpoch, maxEpoch uint64) *version.SstableInfo {
	s := mkSst(id, small, large, 10)
	s.MinEpoch, s.MaxEpoch = minEpoch, maxEpoch
	return s
}

func TestSpaceReclaimPickerSkipsUntilObservedSafeEpoch(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		Levels:  []*version.Level{{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSstEpoch(1, "a", "b", 1, 5)}}},
	}
	picker := &SpaceReclaimPicker{BaseLevel: 1}
	assert.Nil(t, picker.Pick(levels, NewLevelHandler(), &Stats{}))

	picker.Observe(10, 10)
	input := picker.Pick(levels, NewLevelHandler(), &Stats{})
	require.NotNil(t, input)
	assert.Equal(t, KindSpaceReclaim, input.Kind)
	assert.Equal(t, 1, input.TargetLevel)
}

func TestSpaceReclaimPickerIgnoresSstsAboveSafeEpoch(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		Levels:  []*version.Level{{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSstEpoch(1, "a", "b", 8, 20)}}},
	}
	picker := &SpaceReclaimPicker{BaseLevel: 1}
	picker.Observe(10, 20)
	assert.Nil(t, picker.Pick(levels, NewLevelHandler(), &Stats{}))
}

func TestTTLReclaimPickerFiresOnceDataAgesPastTTL(t *testing.T) {
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		Levels:  []*version.Level{{LevelIdx: 1, Ssts: []*version.SstableInfo{mkSstEpoch(1, "a", "b", 1, 5)}}},
	}
	picker := &TTLReclaimPicker{BaseLevel: 1, TTLEpochs: 100}
	picker.Observe(0, 50) // 50-5 = 45 < 100: not yet expired
	assert.Nil(t, picker.Pick(levels, NewLevelHandler(), &Stats{}))

	picker.Observe(0, 200) // 200-5 = 195 >= 100: expired
	input := picker.Pick(levels, NewLevelHandler(), &Stats{})
	require.NotNil(t, input)
	assert.Equal(t, KindTTLReclaim, input.Kind)
}

func TestTombstoneReclaimPickerPicksHighestRatioAboveThreshold(t *testing.T) {
	low := mkSstEpoch(1, "a", "b", 1, 5)
	low.EntryCount, low.TombstoneCount = 10, 1 // 10%

	high := mkSstEpoch(2, "c", "d", 1, 5)
	high.EntryCount, high.TombstoneCount = 10, 8 // 80%

	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		Levels:  []*version.Level{{LevelIdx: 1, Ssts: []*version.SstableInfo{low, high}}},
	}
	picker := &TombstoneReclaimPicker{BaseLevel: 1, MinRatio: 0.3}
	input := picker.Pick(levels, NewLevelHandler(), &Stats{})
	require.NotNil(t, input)
	assert.Equal(t, KindTombstone, input.Kind)
	assert.Equal(t, uint64(2), input.InputSsts[0].ID)
}

func TestTombstoneReclaimPickerNilWhenNoneClearThreshold(t *testing.T) {
	sst := mkSstEpoch(1, "a", "b", 1, 5)
	sst.EntryCount, sst.TombstoneCount = 10, 1
	levels := &version.CompactionGroupLevels{
		GroupID: 1,
		Levels:  []*version.Level{{LevelIdx: 1, Ssts: []*version.SstableInfo{sst}}},
	}
	picker := &TombstoneReclaimPicker{BaseLevel: 1, MinRatio: 0.5}
	assert.Nil(t, picker.Pick(levels, NewLevelHandler(), &Stats{}))
}

func TestLevelHandlerClaimAndRelease(t *testing.T) {
	h := NewLevelHandler()
	h.Claim(1, 2)
	assert.True(t, h.IsPending(1))
	assert.True(t, h.IsPending(2))
	h.Release(1)
	assert.False(t, h.IsPending(1))
	assert.True(t, h.IsPending(2))
}
