// Package scheduler turns a query plan's fragment graph into actor
// placements across compute workers and wires the exchange edges between
// them: plan -> fragment -> actor placement, per the system overview's
// "Scheduler / Fragment Graph" component.
package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/metrics"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// Fragment is one parallel unit of a query plan: Parallelism copies of the
// same operator chain, each owning a disjoint vnode range when the
// fragment is hash-distributed, or all sharing the full range for a
// singleton/broadcast fragment.
type Fragment struct {
	ID             uint32
	Parallelism    int
	VnodeCount     int
	NoShuffle      bool // lockstep placement with its upstream fragment
}

// Edge is a directed exchange between two fragments' actor sets.
type Edge struct {
	UpstreamFragmentID   uint32
	DownstreamFragmentID uint32
	Kind                 actor.DispatchKind
}

// Graph is a complete fragment graph for one streaming job.
type Graph struct {
	Fragments []*Fragment
	Edges     []Edge
}

// Worker is a placement target: a compute node with an id and available
// actor slot count.
type Worker struct {
	ID       string
	Capacity int
	Assigned int
}

// ActorPlacement is one fragment actor instance's assignment.
type ActorPlacement struct {
	ActorID    actor.ID
	FragmentID uint32
	WorkerID   string
	VnodeLo    int
	VnodeHi    int
}

// Channel is one resolved exchange edge: a (from actor, to actor) pair
// plus the vnode range the downstream actor owns, used to build each
// upstream actor's Dispatcher.Downstreams.
type Channel struct {
	From                 actor.ID
	To                   actor.ID
	ToVnodeLo, ToVnodeHi int
	Kind                 actor.DispatchKind
}

// Plan is the scheduler's output: every actor's placement plus the
// exchange edges resolved to concrete actor ids, ready to hand to each
// worker's actor registry and the barrier manager's source/sink lists.
type Plan struct {
	Placements []ActorPlacement
	Channels   []Channel
}

// Scheduler assigns fragment actors to workers. Placement is a simple
// least-loaded bin-pack across schedulable workers (mirroring the
// teacher's per-service node-assignment loop in spirit), not a
// cost-based optimizer — query optimization itself is out of scope.
type Scheduler struct {
	mu     sync.Mutex
	nextID uint32
}

// NewScheduler creates a scheduler.
func NewScheduler() *Scheduler { return &Scheduler{} }

// Schedule places every fragment's actors across workers and resolves the
// graph's edges into concrete actor-to-actor channels.
func (s *Scheduler) Schedule(graph *Graph, workers []*Worker) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedulable := filterSchedulable(workers)
	if len(schedulable) == 0 {
		return nil, fmt.Errorf("scheduler: no schedulable workers available")
	}

	plan := &Plan{}
	byFragment := make(map[uint32][]ActorPlacement)

	for _, f := range graph.Fragments {
		placements := s.placeFragment(f, schedulable)
		byFragment[f.ID] = placements
		plan.Placements = append(plan.Placements, placements...)
	}

	for _, e := range graph.Edges {
		ups := byFragment[e.UpstreamFragmentID]
		downs := byFragment[e.DownstreamFragmentID]
		if len(ups) == 0 || len(downs) == 0 {
			return nil, fmt.Errorf("scheduler: edge %d->%d references an unplaced fragment", e.UpstreamFragmentID, e.DownstreamFragmentID)
		}
		plan.Channels = append(plan.Channels, resolveEdge(e, ups, downs)...)
	}

	log.WithComponent("scheduler").Info().Int("fragments", len(graph.Fragments)).
		Int("actors", len(plan.Placements)).Int("channels", len(plan.Channels)).Msg("scheduled fragment graph")
	return plan, nil
}

// placeFragment assigns Parallelism actor instances for f across workers,
// each to the least-loaded schedulable worker at assignment time.
func (s *Scheduler) placeFragment(f *Fragment, workers []*Worker) []ActorPlacement {
	n := f.Parallelism
	if n <= 0 {
		n = 1
	}
	vnodeCount := f.VnodeCount
	if vnodeCount <= 0 {
		vnodeCount = 256
	}

	placements := make([]ActorPlacement, 0, n)
	for i := 0; i < n; i++ {
		w := pickLeastLoaded(workers)
		w.Assigned++
		lo, hi := vnodeRange(i, n, vnodeCount)
		s.nextID++
		placements = append(placements, ActorPlacement{
			ActorID:    actor.ID(s.nextID),
			FragmentID: f.ID,
			WorkerID:   w.ID,
			VnodeLo:    lo,
			VnodeHi:    hi,
		})
	}
	metrics.WorkersTotal.WithLabelValues("compute", "scheduled").Add(float64(n))
	return placements
}

func pickLeastLoaded(workers []*Worker) *Worker {
	best := workers[0]
	for _, w := range workers[1:] {
		if w.Assigned < best.Assigned {
			best = w
		}
	}
	return best
}

func vnodeRange(i, n, vnodeCount int) (int, int) {
	size := vnodeCount / n
	lo := i * size
	hi := lo + size
	if i == n-1 {
		hi = vnodeCount
	}
	return lo, hi
}

// resolveEdge expands one fragment edge into concrete actor channels. A
// Broadcast edge connects every upstream actor to every downstream actor;
// Simple connects every upstream actor to the single downstream actor; a
// HashShard edge connects each upstream actor to every downstream actor,
// tagged with the vnode range that downstream owns so its Dispatcher can
// route by vnode at send time.
func resolveEdge(e Edge, ups, downs []ActorPlacement) []Channel {
	var channels []Channel
	switch e.Kind {
	case actor.Simple:
		d := downs[0]
		for _, u := range ups {
			channels = append(channels, Channel{From: u.ActorID, To: d.ActorID, ToVnodeLo: d.VnodeLo, ToVnodeHi: d.VnodeHi, Kind: e.Kind})
		}
	default: // Broadcast, HashShard
		sorted := append([]ActorPlacement{}, downs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].VnodeLo < sorted[j].VnodeLo })
		for _, u := range ups {
			for _, d := range sorted {
				channels = append(channels, Channel{From: u.ActorID, To: d.ActorID, ToVnodeLo: d.VnodeLo, ToVnodeHi: d.VnodeHi, Kind: e.Kind})
			}
		}
	}
	return channels
}

func filterSchedulable(workers []*Worker) []*Worker {
	var out []*Worker
	for _, w := range workers {
		if w.Capacity > w.Assigned {
			out = append(out, w)
		}
	}
	return out
}
