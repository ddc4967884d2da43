package barrier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestream/tidestream/pkg/hummock/sharedbuffer"
	"github.com/tidestream/tidestream/pkg/hummock/version"
	"github.com/tidestream/tidestream/pkg/logstore"
	"github.com/tidestream/tidestream/pkg/objectstore"
	"github.com/tidestream/tidestream/pkg/streaming/actor"
)

func newTestManager(t *testing.T) (*Manager, *actor.Registry, *actor.Inbox) {
	t.Helper()
	registry := actor.NewRegistry()
	srcInbox := actor.NewInbox(4)
	registry.Register(&actor.Actor{ID: 1}, srcInbox)

	versions := version.NewManager()
	uploader := sharedbuffer.NewUploader(objectstore.NewMemStore(), versions, sharedbuffer.NewConflictDetector(false), "data")
	mgr := NewManager(registry, uploader, 0)
	mgr.SetSources([]actor.ID{1})
	mgr.SetSinks([]actor.ID{1})
	return mgr, registry, srcInbox
}

func TestInjectSendsBarrierToEverySource(t *testing.T) {
	mgr, _, srcInbox := newTestManager(t)

	require.NoError(t, mgr.Inject(context.Background(), 1, nil))

	msg, ok := srcInbox.TryRecv()
	require.True(t, ok)
	require.Equal(t, actor.MessageBarrier, msg.Kind)
	assert.Equal(t, uint64(1), msg.Barrier.Epoch)
}

func TestInjectFailsWhenSourceNotRegistered(t *testing.T) {
	registry := actor.NewRegistry()
	mgr := NewManager(registry, nil, 0)
	mgr.SetSources([]actor.ID{99})

	err := mgr.Inject(context.Background(), 1, nil)
	assert.Error(t, err)
}

func TestInjectRejectsWhenMaxInFlightExceeded(t *testing.T) {
	registry := actor.NewRegistry()
	srcInbox := actor.NewInbox(4)
	registry.Register(&actor.Actor{ID: 1}, srcInbox)

	mgr := NewManager(registry, nil, 1)
	mgr.SetSources([]actor.ID{1})
	mgr.SetSinks([]actor.ID{1})

	require.NoError(t, mgr.Inject(context.Background(), 1, nil))
	err := mgr.Inject(context.Background(), 2, nil)
	assert.Error(t, err)
}

func TestCollectCompletesWhenEverySinkReports(t *testing.T) {
	mgr, registry, _ := newTestManager(t)
	registry.Register(&actor.Actor{ID: 2}, actor.NewInbox(1))
	mgr.SetSinks([]actor.ID{1, 2})

	require.NoError(t, mgr.Inject(context.Background(), 5, nil))

	var completed uint64
	mgr.OnComplete(func(epoch uint64) { completed = epoch })

	require.NoError(t, mgr.Collect(context.Background(), 1, 5))
	assert.Equal(t, uint64(0), completed, "should not complete until every sink reports")
	assert.Contains(t, mgr.PendingSinks(5), actor.ID(2))

	require.NoError(t, mgr.Collect(context.Background(), 2, 5))
	assert.Equal(t, uint64(5), completed)
	assert.Empty(t, mgr.PendingSinks(5))
}

func TestCollectForUnknownEpochFails(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	err := mgr.Collect(context.Background(), 1, 999)
	assert.Error(t, err)
}

func TestCheckpointSyncsRegisteredLogWriters(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	versions := version.NewManager()
	uploader := sharedbuffer.NewUploader(objectstore.NewMemStore(), versions, sharedbuffer.NewConflictDetector(false), "data")
	w := logstore.NewWriter(1, 1, uploader)
	w.InitEpoch(3)
	mgr.RegisterLogWriter(w)

	require.NoError(t, mgr.Inject(context.Background(), 3, nil))
	require.NoError(t, mgr.Collect(context.Background(), 1, 3))
}

func TestExpireStaleRemovesOldEpochsOnly(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	require.NoError(t, mgr.Inject(context.Background(), 1, nil))

	expired := mgr.ExpireStale(0)
	assert.Equal(t, []uint64{1}, expired)
	assert.Empty(t, mgr.PendingSinks(1))
}

func TestExpireStaleKeepsFreshEpochs(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	require.NoError(t, mgr.Inject(context.Background(), 1, nil))

	expired := mgr.ExpireStale(time.Hour)
	assert.Empty(t, expired)
}

func TestInjectCarriesMutationThrough(t *testing.T) {
	mgr, _, srcInbox := newTestManager(t)
	mutation := &actor.Mutation{Kind: "pause", ActorIDs: []actor.ID{1}}

	require.NoError(t, mgr.Inject(context.Background(), 2, mutation))
	msg, ok := srcInbox.TryRecv()
	require.True(t, ok)
	assert.Same(t, mutation, msg.Barrier.Mutation)
}
