// Package actor implements the cooperatively scheduled actor/dispatcher
// model: each actor owns an operator chain and a vnode slice, exchanging
// Message values with its upstream/downstream actors over bounded inboxes
// (local channel or RPC, depending on placement). Cyclic actor->channel->
// actor references are modeled as ActorId graph edges, never owning
// pointers, so a worker can tear everything down by dropping its registry
// top-down.
package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/metrics"
)

// ID identifies an actor within a worker's registry.
type ID uint32

// MessageKind distinguishes a data chunk from a barrier in an actor's
// message stream.
type MessageKind int

const (
	MessageChunk MessageKind = iota
	MessageBarrier
)

// Chunk is a batch of rows flowing between actors; Ops mirrors insert/
// delete/update-before/update-after visibility per row.
type Chunk struct {
	Rows       [][]interface{}
	Ops        []Op
	Visibility []bool
}

// Op is one row's change kind within a Chunk.
type Op int

const (
	OpInsert Op = iota
	OpDelete
	OpUpdateBefore
	OpUpdateAfter
)

// Mutation describes a structural change a barrier carries: actor
// add/stop/update, fragment pause/resume, source change, or throttle.
type Mutation struct {
	Kind     string // "add", "stop", "update", "pause", "resume", "source_change", "throttle"
	ActorIDs []ID
	Extra    map[string]interface{}
}

// Barrier is a control message carrying an epoch and an optional mutation.
type Barrier struct {
	Epoch    uint64
	Mutation *Mutation
}

// Message is one unit on an actor's inbox: a data chunk or a barrier.
type Message struct {
	Kind    MessageKind
	Chunk   *Chunk
	Barrier *Barrier
}

// Executor is the capability set every operator implements: produce the
// next message, report schema/pk_indices, and initialize from a starting
// epoch. Concrete operators live in pkg/streaming/executor; this interface
// is what actor.Actor drives.
type Executor interface {
	Init(ctx context.Context, epoch uint64) error
	Next(ctx context.Context) (*Message, error)
	Schema() []string
	PKIndices() []int
}

// Inbox is a per-upstream bounded channel. Back-pressure is achieved by the
// channel being bounded and Send blocking (never dropping) when full,
// matching the Capacity error-handling policy of "await; never drop".
type Inbox struct {
	ch chan *Message
}

// NewInbox creates an inbox with the given capacity.
func NewInbox(capacity int) *Inbox {
	return &Inbox{ch: make(chan *Message, capacity)}
}

// Send enqueues a message, blocking if the inbox is full.
func (b *Inbox) Send(ctx context.Context, msg *Message) error {
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv dequeues the next message.
func (b *Inbox) Recv(ctx context.Context) (*Message, error) {
	select {
	case msg := <-b.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth reports the current queue depth, for ActorInboxDepth metrics.
func (b *Inbox) Depth() int { return len(b.ch) }

// TryRecv dequeues a message without blocking, returning ok=false if the
// inbox is currently empty. Used by SourceExecutor, which must prioritize a
// pending barrier over pulling new connector records without ever blocking
// the actor loop on an empty inbox.
func (b *Inbox) TryRecv() (msg *Message, ok bool) {
	select {
	case msg, open := <-b.ch:
		return msg, open
	default:
		return nil, false
	}
}

// Actor is one cooperatively scheduled task: it pulls from its operator
// chain's root executor and pushes to every registered downstream via its
// Dispatcher.
type Actor struct {
	ID         ID
	executor   Executor
	dispatcher *Dispatcher
}

// New creates an actor wrapping an executor chain and its dispatcher.
func New(id ID, executor Executor, dispatcher *Dispatcher) *Actor {
	return &Actor{ID: id, executor: executor, dispatcher: dispatcher}
}

// Run drives the actor's message loop until ctx is cancelled or the
// executor is exhausted. Each iteration is non-blocking apart from the
// bounded-channel sends/receives themselves, so recovery can restart the
// actor from any point without residual blocked state.
func (a *Actor) Run(ctx context.Context) error {
	logger := log.WithActor(uint32(a.ID))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timer := metrics.NewTimer()
		msg, err := a.executor.Next(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("actor executor failed")
			return fmt.Errorf("actor %d: %w", a.ID, err)
		}
		if msg == nil {
			return nil
		}
		if err := a.dispatcher.Dispatch(ctx, msg); err != nil {
			return fmt.Errorf("actor %d dispatch: %w", a.ID, err)
		}
		timer.ObserveDurationVec(metrics.ActorProcessDuration, fmt.Sprintf("%T", a.executor))
		metrics.ActorInboxDepth.WithLabelValues(fmt.Sprintf("%d", a.ID)).Set(0)
	}
}

// Registry owns every actor on one worker and the edges between them.
// Channels hold ActorId, never owning pointers, so the cycle an actor
// graph naturally forms never leaks: shutdown drops the registry, and each
// actor's outbox close follows from that, top-down.
type Registry struct {
	mu     sync.RWMutex
	actors map[ID]*Actor
	inboxes map[ID]*Inbox
}

// NewRegistry creates an empty actor registry.
func NewRegistry() *Registry {
	return &Registry{actors: make(map[ID]*Actor), inboxes: make(map[ID]*Inbox)}
}

// Register adds an actor and its inbox to the registry.
func (r *Registry) Register(a *Actor, inbox *Inbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors[a.ID] = a
	r.inboxes[a.ID] = inbox
}

// Get returns an actor by id.
func (r *Registry) Get(id ID) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	return a, ok
}

// Inbox returns an actor's inbox by id, used by dispatchers on other actors
// to deliver messages without holding a pointer to the Actor itself.
func (r *Registry) Inbox(id ID) (*Inbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ib, ok := r.inboxes[id]
	return ib, ok
}

// Drop tears down every actor's inbox, the top-down shutdown the cyclic
// actor graph relies on instead of per-actor reference counting.
func (r *Registry) Drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ib := range r.inboxes {
		close(ib.ch)
		delete(r.inboxes, id)
	}
	r.actors = make(map[ID]*Actor)
}
