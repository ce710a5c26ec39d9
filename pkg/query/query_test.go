package query

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/entitycore/pkg/lock"
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

func TestListHonorsPrefixAndPaging(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, lock.NewRegistry())

	for _, key := range []string{"a", "b", "c"} {
		id, err := types.NewInstanceID("counter", key)
		require.NoError(t, err)
		require.NoError(t, store.CommitBatch(context.Background(), &types.Record{ID: id, State: []byte("0"), LastModified: time.Now()}, 0))
	}

	page, err := svc.List(context.Background(), types.Filter{IDPrefix: "@counter@", HasIDPrefix: true, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasMore)

	rest, err := svc.List(context.Background(), types.Filter{IDPrefix: "@counter@", HasIDPrefix: true, PageSize: 2, ContinuationToken: page.NextToken})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.False(t, rest.HasMore)
}

func TestGetReportsAbsentEntityWithoutError(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, lock.NewRegistry())

	id, err := types.NewInstanceID("counter", "missing")
	require.NoError(t, err)

	md, err := svc.Get(context.Background(), id, false)
	require.NoError(t, err)
	require.False(t, md.Exists)
}

func TestCleanReleasesOrphanedLockAndRemovesEmptyRecord(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, lock.NewRegistry())

	id, err := types.NewInstanceID("counter", "a")
	require.NoError(t, err)
	dead, err := types.NewInstanceID("orchestration", "dead")
	require.NoError(t, err)

	require.NoError(t, store.CommitBatch(context.Background(), &types.Record{ID: id, Locked: true, LockedBy: dead}, 0))

	isLive := func(types.InstanceID) bool { return false }

	first, err := svc.Clean(context.Background(), isLive)
	require.NoError(t, err)
	require.Equal(t, 1, first.OrphanedLocksReleased)
	require.Equal(t, 0, first.EmptyEntitiesRemoved)

	second, err := svc.Clean(context.Background(), isLive)
	require.NoError(t, err)
	require.Equal(t, 0, second.OrphanedLocksReleased)
	require.Equal(t, 1, second.EmptyEntitiesRemoved)

	md, err := svc.Get(context.Background(), id, false)
	require.NoError(t, err)
	require.False(t, md.Exists)
}

func TestBackendSupportsImplicitEntityDeletionIsFalse(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, lock.NewRegistry())
	require.False(t, svc.BackendSupportsImplicitEntityDeletion())
}
