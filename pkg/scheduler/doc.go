/*
Package scheduler assigns streaming fragments to compute-node actors.

A fragment is a logical piece of a dataflow graph (one stateless or
stateful operator) that must be instantiated as one or more parallel
actors, one per fragment-parallelism unit, and placed onto a compute
node. The caller passes the candidate workers to Schedule; the
scheduler filters out any worker whose Assigned count has reached its
Capacity and picks the least-loaded remaining candidate for each actor
in the fragment. Capacity is checked once per Schedule call, before
any actor is placed.

# Placement

Placement is a single pass, not a control loop: Schedule is called
once for a whole fragment graph and returns a Plan. This package does
not persist the Plan, start actors, or poll node health; pkg/scale
calls Schedule again to compute a new placement for a changed worker
set.

# Algorithm

 1. Filter the given workers to those with spare capacity
    (filterSchedulable).
 2. For each actor to place, pick the worker with the lowest current
    assigned count (pickLeastLoaded), then record the assignment
    against that worker so the next actor in the same fragment sees
    updated load.

This keeps a fragment's parallel actors spread evenly across the
cluster rather than stacking them on a single node.

# See Also

  - pkg/streaming/actor - the runtime the scheduled actors execute in
  - pkg/scale - rescheduling built on Schedule
*/
package scheduler
