package lock

import (
	"context"
	"testing"

	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	adapter, err := storage.NewBoltAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func TestAcquireGrantsImmediatelyWhenFree(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	a, err := types.NewInstanceID("counter", "a")
	require.NoError(t, err)
	orch, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)

	section, granted, err := m.Acquire(context.Background(), orch, []types.InstanceID{a})
	require.NoError(t, err)
	require.True(t, granted)
	require.NotEmpty(t, section.Token())

	rec, err := store.Load(context.Background(), a)
	require.NoError(t, err)
	require.True(t, rec.Locked)
	require.True(t, rec.LockedBy.Equal(orch))
}

func TestAcquireQueuesWhenHeldBySomeoneElse(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	a, err := types.NewInstanceID("counter", "a")
	require.NoError(t, err)
	orch1, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)
	orch2, err := types.NewInstanceID("orchestration", "o2")
	require.NoError(t, err)

	_, granted1, err := m.Acquire(context.Background(), orch1, []types.InstanceID{a})
	require.NoError(t, err)
	require.True(t, granted1)

	_, granted2, err := m.Acquire(context.Background(), orch2, []types.InstanceID{a})
	require.NoError(t, err)
	require.False(t, granted2)

	rec, err := store.Load(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, rec.PendingLockQueue, 1)
	require.True(t, rec.PendingLockQueue[0].OrchestrationID.Equal(orch2))
}

func TestReleaseGrantsToNextWaiter(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	a, err := types.NewInstanceID("counter", "a")
	require.NoError(t, err)
	orch1, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)
	orch2, err := types.NewInstanceID("orchestration", "o2")
	require.NoError(t, err)

	section1, granted1, err := m.Acquire(context.Background(), orch1, []types.InstanceID{a})
	require.NoError(t, err)
	require.True(t, granted1)

	_, granted2, err := m.Acquire(context.Background(), orch2, []types.InstanceID{a})
	require.NoError(t, err)
	require.False(t, granted2)

	require.NoError(t, section1.Release(context.Background()))

	rec, err := store.Load(context.Background(), a)
	require.NoError(t, err)
	require.True(t, rec.Locked)
	require.True(t, rec.LockedBy.Equal(orch2))
	require.Empty(t, rec.PendingLockQueue)
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	a, err := types.NewInstanceID("counter", "a")
	require.NoError(t, err)
	orch, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)

	section, granted, err := m.Acquire(context.Background(), orch, []types.InstanceID{a})
	require.NoError(t, err)
	require.True(t, granted)

	require.NoError(t, section.Release(context.Background()))
	require.NoError(t, section.Release(context.Background()))
}

func TestMultiEntityAcquisitionLocksInSortedOrder(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	b, err := types.NewInstanceID("counter", "b")
	require.NoError(t, err)
	a, err := types.NewInstanceID("counter", "a")
	require.NoError(t, err)
	orch, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)

	_, granted, err := m.Acquire(context.Background(), orch, []types.InstanceID{b, a})
	require.NoError(t, err)
	require.True(t, granted)

	recA, err := store.Load(context.Background(), a)
	require.NoError(t, err)
	recB, err := store.Load(context.Background(), b)
	require.NoError(t, err)
	require.True(t, recA.Locked)
	require.True(t, recB.Locked)
}

func TestForceReleaseReclaimsOrphanedSection(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	a, err := types.NewInstanceID("counter", "a")
	require.NoError(t, err)
	orch, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)

	_, granted, err := m.Acquire(context.Background(), orch, []types.InstanceID{a})
	require.NoError(t, err)
	require.True(t, granted)

	require.NoError(t, m.ForceRelease(context.Background(), orch, []types.InstanceID{a}, ReleaseTermination))

	rec, err := store.Load(context.Background(), a)
	require.NoError(t, err)
	require.False(t, rec.Locked)
}
