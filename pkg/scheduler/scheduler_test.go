package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func TestSchedulePlacesEveryFragmentActor(t *testing.T) {
	graph := &Graph{
		Fragments: []*Fragment{
			{ID: 1, Parallelism: 3, VnodeCount: 12},
			{ID: 2, Parallelism: 1, VnodeCount: 12},
		},
		Edges: []Edge{
			{UpstreamFragmentID: 1, DownstreamFragmentID: 2, Kind: actor.Simple},
		},
	}
	workers := []*Worker{
		{ID: "w1", Capacity: 4},
		{ID: "w2", Capacity: 4},
	}

	plan, err := NewScheduler().Schedule(graph, workers)
	require.NoError(t, err)
	assert.Len(t, plan.Placements, 4)

	var fragment1, fragment2 int
	for _, p := range plan.Placements {
		switch p.FragmentID {
		case 1:
			fragment1++
		case 2:
			fragment2++
		}
	}
	assert.Equal(t, 3, fragment1)
	assert.Equal(t, 1, fragment2)

	// Simple edge: every upstream actor connects to the single downstream actor.
	assert.Len(t, plan.Channels, 3)
	for _, ch := range plan.Channels {
		assert.Equal(t, actor.Simple, ch.Kind)
	}
}

func TestSchedulePlacementBalancesAcrossWorkers(t *testing.T) {
	graph := &Graph{Fragments: []*Fragment{{ID: 1, Parallelism: 4, VnodeCount: 4}}}
	workers := []*Worker{{ID: "w1", Capacity: 4}, {ID: "w2", Capacity: 4}}

	plan, err := NewScheduler().Schedule(graph, workers)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, p := range plan.Placements {
		counts[p.WorkerID]++
	}
	assert.Equal(t, 2, counts["w1"])
	assert.Equal(t, 2, counts["w2"])
}

func TestScheduleNoSchedulableWorkersFails(t *testing.T) {
	graph := &Graph{Fragments: []*Fragment{{ID: 1, Parallelism: 1}}}
	workers := []*Worker{{ID: "w1", Capacity: 1, Assigned: 1}}

	_, err := NewScheduler().Schedule(graph, workers)
	assert.Error(t, err)
}

func TestVnodeRangeCoversWholeSpace(t *testing.T) {
	lo0, hi0 := vnodeRange(0, 3, 10)
	lo1, hi1 := vnodeRange(1, 3, 10)
	lo2, hi2 := vnodeRange(2, 3, 10)

	assert.Equal(t, 0, lo0)
	assert.Equal(t, hi0, lo1)
	assert.Equal(t, hi1, lo2)
	assert.Equal(t, 10, hi2)
}

func TestResolveEdgeHashShardConnectsAllPairs(t *testing.T) {
	ups := []ActorPlacement{{ActorID: 1}, {ActorID: 2}}
	downs := []ActorPlacement{{ActorID: 10, VnodeLo: 0, VnodeHi: 5}, {ActorID: 11, VnodeLo: 5, VnodeHi: 10}}

	channels := resolveEdge(Edge{Kind: actor.HashShard}, ups, downs)
	assert.Len(t, channels, 4)
}
