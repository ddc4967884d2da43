// Package scale implements rescheduling: given a previous Plan and an
// updated worker set, computes a new vnode-to-actor assignment and the
// mutations (PauseFragment, vnode bitmap handoff) the barrier manager
// must carry through one epoch to move actors between workers without
// losing in-flight state.
package scale

import (
	"fmt"
	"sort"

	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/scheduler"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// VnodeReassignment describes one actor's vnode range moving to another
// actor (same fragment, new placement) as part of a reschedule.
type VnodeReassignment struct {
	FragmentID uint32
	FromActor  actor.ID
	ToActor    actor.ID
	VnodeLo    int
	VnodeHi    int
}

// Reschedule computes the diff between an old and new placement for the
// same fragment graph: which vnode ranges moved, and to where.
type Reschedule struct {
	Reassignments []VnodeReassignment
	NewPlan       *scheduler.Plan
}

// Planner computes reschedules, reusing scheduler.Scheduler for the new
// placement so the same least-loaded bin-pack applies to both initial
// scheduling and later rebalancing.
type Planner struct {
	sched *scheduler.Scheduler
}

// NewPlanner creates a rescheduling planner.
func NewPlanner() *Planner {
	return &Planner{sched: scheduler.NewScheduler()}
}

// Plan computes a new placement for graph over the updated worker set and
// diffs it against old to produce the vnode reassignments needed to reach
// it. Fragments marked NoShuffle are excluded from the diff entirely:
// their actors always move in lockstep with their upstream fragment's
// placement, so no reassignment is computed independently for them — the
// caller is expected to have already mirrored the upstream's placement
// onto them before calling Plan.
func (p *Planner) Plan(graph *scheduler.Graph, old *scheduler.Plan, workers []*scheduler.Worker) (*Reschedule, error) {
	newPlan, err := p.sched.Schedule(graph, workers)
	if err != nil {
		return nil, fmt.Errorf("scale: reschedule failed: %w", err)
	}

	noShuffle := make(map[uint32]bool)
	for _, f := range graph.Fragments {
		if f.NoShuffle {
			noShuffle[f.ID] = true
		}
	}

	oldByFragment := groupByFragment(old.Placements)
	newByFragment := groupByFragment(newPlan.Placements)

	var reassignments []VnodeReassignment
	for fragmentID, newPlacements := range newByFragment {
		if noShuffle[fragmentID] {
			continue
		}
		oldPlacements := oldByFragment[fragmentID]
		for _, np := range newPlacements {
			from := findOwner(oldPlacements, np.VnodeLo, np.VnodeHi)
			if from == 0 || from == np.ActorID {
				continue
			}
			reassignments = append(reassignments, VnodeReassignment{
				FragmentID: fragmentID,
				FromActor:  from,
				ToActor:    np.ActorID,
				VnodeLo:    np.VnodeLo,
				VnodeHi:    np.VnodeHi,
			})
		}
	}

	log.WithComponent("scale").Info().Int("reassignments", len(reassignments)).Msg("computed reschedule")
	return &Reschedule{Reassignments: reassignments, NewPlan: newPlan}, nil
}

// findOwner returns the old placement's actor whose vnode range contains
// [lo, hi), or 0 if none did (a brand new vnode range, e.g. parallelism
// increased).
func findOwner(placements []scheduler.ActorPlacement, lo, hi int) actor.ID {
	for _, p := range placements {
		if p.VnodeLo <= lo && hi <= p.VnodeHi {
			return p.ActorID
		}
	}
	return 0
}

func groupByFragment(placements []scheduler.ActorPlacement) map[uint32][]scheduler.ActorPlacement {
	out := make(map[uint32][]scheduler.ActorPlacement)
	for _, p := range placements {
		out[p.FragmentID] = append(out[p.FragmentID], p)
	}
	for _, v := range out {
		sort.Slice(v, func(i, j int) bool { return v[i].VnodeLo < v[j].VnodeLo })
	}
	return out
}

// PauseFragmentMutation builds the Mutation a reschedule's barrier must
// carry to quiesce a fragment's actors before their vnode ranges move,
// mirroring actor.Mutation's "pause"/"resume" kinds used elsewhere for
// DML gating.
func PauseFragmentMutation(fragmentID uint32, actorIDs []actor.ID) *actor.Mutation {
	return &actor.Mutation{
		Kind:     "pause",
		ActorIDs: actorIDs,
		Extra:    map[string]interface{}{"fragment_id": fragmentID},
	}
}

// ResumeFragmentMutation builds the matching resume mutation, carrying the
// vnode-bitmap handoff so the resumed actor set knows which ranges each
// of its members now owns.
func ResumeFragmentMutation(fragmentID uint32, reassignments []VnodeReassignment) *actor.Mutation {
	ids := make([]actor.ID, 0, len(reassignments))
	for _, r := range reassignments {
		ids = append(ids, r.ToActor)
	}
	return &actor.Mutation{
		Kind:     "resume",
		ActorIDs: ids,
		Extra:    map[string]interface{}{"fragment_id": fragmentID, "reassignments": reassignments},
	}
}
