// Package barrier implements the barrier manager: it injects epoch
// barriers at every source actor, waits for each sink actor to report
// having collected a barrier on every one of its input channels
// (alignment, invariant 5), and once every sink has reported in for an
// epoch drives the checkpoint/sync protocol that pushes that epoch's
// writes from the shared buffer into a durable Hummock version.
package barrier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidestream/tidestream/pkg/hummock/sharedbuffer"
	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/logstore"
	"github.com/tidestream/tidestream/pkg/metrics"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

// Syncable is anything a checkpoint must flush before an epoch can be
// considered committed: the shared-buffer uploader and every log store
// writer implement it.
type Syncable interface {
	Sync(ctx context.Context) error
}

// inFlight tracks one epoch's alignment progress: the set of sink actors
// that still haven't reported collecting this epoch's barrier.
type inFlight struct {
	mutation  *actor.Mutation
	pending   map[actor.ID]struct{}
	startedAt time.Time
}

// Manager coordinates barrier injection, alignment, and checkpointing
// across every actor on one worker. It handles single-worker alignment
// only; pkg/meta calls Inject on a locally attached Manager, and no
// cross-worker rendezvous is built on top of it.
type Manager struct {
	mu         sync.Mutex
	registry   *actor.Registry
	sources    []actor.ID
	sinks      []actor.ID
	inFlight   map[uint64]*inFlight
	maxInFlight int

	uploader  *sharedbuffer.Uploader
	logWriters []*logstore.Writer

	onComplete func(epoch uint64)
}

// NewManager creates a barrier manager bound to an actor registry and
// the storage layer a checkpoint must flush.
func NewManager(registry *actor.Registry, uploader *sharedbuffer.Uploader, maxInFlight int) *Manager {
	return &Manager{
		registry:    registry,
		inFlight:    make(map[uint64]*inFlight),
		maxInFlight: maxInFlight,
		uploader:    uploader,
	}
}

// SetSources/SetSinks register which actors are barrier injection points
// and which are alignment collection points.
func (m *Manager) SetSources(ids []actor.ID) { m.sources = ids }
func (m *Manager) SetSinks(ids []actor.ID)   { m.sinks = ids }

// RegisterLogWriter adds a log store writer whose Sync must complete as
// part of every checkpoint (one per exchange channel the worker owns).
func (m *Manager) RegisterLogWriter(w *logstore.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logWriters = append(m.logWriters, w)
}

// OnComplete installs a callback fired once an epoch finishes
// checkpointing (e.g. to report back to the meta barrier orchestrator).
func (m *Manager) OnComplete(fn func(epoch uint64)) { m.onComplete = fn }

// Inject starts a new epoch: sends a barrier carrying mutation to every
// source actor's inbox. Returns an error if the in-flight bound would be
// exceeded, so meta can back off injecting new epochs until old ones
// drain (bounding recovery replay size).
func (m *Manager) Inject(ctx context.Context, epoch uint64, mutation *actor.Mutation) error {
	m.mu.Lock()
	if m.maxInFlight > 0 && len(m.inFlight) >= m.maxInFlight {
		m.mu.Unlock()
		return fmt.Errorf("barrier: too many in-flight epochs (%d >= %d), refusing to inject epoch %d", len(m.inFlight), m.maxInFlight, epoch)
	}
	pending := make(map[actor.ID]struct{}, len(m.sinks))
	for _, id := range m.sinks {
		pending[id] = struct{}{}
	}
	m.inFlight[epoch] = &inFlight{mutation: mutation, pending: pending, startedAt: time.Now()}
	metrics.InFlightBarriers.Set(float64(len(m.inFlight)))
	m.mu.Unlock()

	msg := &actor.Message{Kind: actor.MessageBarrier, Barrier: &actor.Barrier{Epoch: epoch, Mutation: mutation}}
	for _, id := range m.sources {
		inbox, ok := m.registry.Inbox(id)
		if !ok {
			return fmt.Errorf("barrier: source actor %d not registered", id)
		}
		if err := inbox.Send(ctx, msg); err != nil {
			return fmt.Errorf("barrier: inject epoch %d to actor %d: %w", epoch, id, err)
		}
	}
	return nil
}

// Collect records that a sink actor observed epoch's barrier on all of
// its inputs. Once every sink has reported, the epoch's checkpoint runs
// and onComplete fires.
func (m *Manager) Collect(ctx context.Context, actorID actor.ID, epoch uint64) error {
	m.mu.Lock()
	f, ok := m.inFlight[epoch]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("barrier: collect for unknown epoch %d", epoch)
	}
	delete(f.pending, actorID)
	remaining := len(f.pending)
	m.mu.Unlock()

	if remaining > 0 {
		return nil
	}
	return m.checkpoint(ctx, epoch)
}

// checkpoint flushes every registered log writer and the shared-buffer
// uploader for epoch, completing the durability half of the barrier
// protocol once alignment has finished.
func (m *Manager) checkpoint(ctx context.Context, epoch uint64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckpointDuration)

	logger := log.WithEpoch(epoch)
	for _, w := range m.logWriters {
		if err := w.Sync(ctx); err != nil {
			logger.Error().Err(err).Msg("log writer sync failed during checkpoint")
			return fmt.Errorf("barrier: checkpoint epoch %d: log writer sync: %w", epoch, err)
		}
	}
	if m.uploader != nil {
		if _, err := m.uploader.Sync(ctx, epoch); err != nil {
			logger.Error().Err(err).Msg("shared buffer sync failed during checkpoint")
			return fmt.Errorf("barrier: checkpoint epoch %d: shared buffer sync: %w", epoch, err)
		}
	}

	m.mu.Lock()
	delete(m.inFlight, epoch)
	metrics.InFlightBarriers.Set(float64(len(m.inFlight)))
	m.mu.Unlock()

	logger.Info().Msg("checkpoint complete")
	if m.onComplete != nil {
		m.onComplete(epoch)
	}
	return nil
}

// ExpireStale cancels alignment for any epoch that has been in flight
// longer than timeout, counting it against the collect-timeout metric.
// Recovery (meta re-injecting a new epoch from the last committed one)
// is the caller's responsibility; this only stops the manager from
// waiting forever on actors that have died.
func (m *Manager) ExpireStale(timeout time.Duration) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []uint64
	now := time.Now()
	for epoch, f := range m.inFlight {
		if now.Sub(f.startedAt) > timeout {
			expired = append(expired, epoch)
			delete(m.inFlight, epoch)
			metrics.BarrierCollectTimeoutsTotal.Inc()
		}
	}
	metrics.InFlightBarriers.Set(float64(len(m.inFlight)))
	return expired
}

// PendingSinks returns the sink actors epoch is still waiting on, for
// diagnostics (e.g. a stuck-barrier debug endpoint).
func (m *Manager) PendingSinks(epoch uint64) []actor.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.inFlight[epoch]
	if !ok {
		return nil
	}
	out := make([]actor.ID, 0, len(f.pending))
	for id := range f.pending {
		out = append(out, id)
	}
	return out
}
