package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/entitycore/pkg/dispatch"
	"github.com/cuemby/entitycore/pkg/lock"
	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, register func(*dispatch.Registry) error) *Engine {
	t.Helper()
	adapter, err := storage.NewBoltAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	r := dispatch.NewRegistry()
	require.NoError(t, register(r))

	e := NewEngine(adapter, r, nil, nil)
	t.Cleanup(e.Stop)
	return e
}

func TestCounterSignalAndGet(t *testing.T) {
	engine := newTestEngine(t, RegisterCounter)
	id, err := types.NewInstanceID("counter", "k1")
	require.NoError(t, err)

	require.NoError(t, engine.SignalEntity(context.Background(), nil, id, "add", 33))

	require.Eventually(t, func() bool {
		md, err := engine.GetEntity(context.Background(), id, true)
		return err == nil && md.Exists && string(md.State) == "33"
	}, 2*time.Second, 5*time.Millisecond)

	result, err := engine.CallEntity(context.Background(), nil, id, "get", nil)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	var got int
	require.NoError(t, json.Unmarshal(result.OK, &got))
	require.Equal(t, 33, got)
}

func TestCallThenDeleteVariantAAutoMaterializes(t *testing.T) {
	engine := newTestEngine(t, RegisterStringStoreA)
	id, err := types.NewInstanceID("stringstorea", "k1")
	require.NoError(t, err)

	mustCall := func(op string, input interface{}) string {
		result, err := engine.CallEntity(context.Background(), nil, id, op, input)
		require.NoError(t, err)
		require.True(t, result.Succeeded())
		var s string
		require.NoError(t, json.Unmarshal(result.OK, &s))
		return s
	}

	mustCallNoReturn := func(op string) {
		result, err := engine.CallEntity(context.Background(), nil, id, op, nil)
		require.NoError(t, err)
		require.True(t, result.Succeeded())
	}

	setResult, err := engine.CallEntity(context.Background(), nil, id, "set", "333")
	require.NoError(t, err)
	require.True(t, setResult.Succeeded())
	require.Equal(t, "333", mustCall("get", nil))

	mustCallNoReturn("delete")
	require.Equal(t, "", mustCall("get", nil))
	mustCallNoReturn("delete")
}

func TestCallThenDeleteVariantBReturnsBoolAndNullsOnAbsent(t *testing.T) {
	engine := newTestEngine(t, RegisterStringStoreB)
	id, err := types.NewInstanceID("stringstoreb", "k1")
	require.NoError(t, err)

	result, err := engine.CallEntity(context.Background(), nil, id, "set", "333")
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	result, err = engine.CallEntity(context.Background(), nil, id, "get", nil)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(result.OK, &got))
	require.Equal(t, "333", got)

	result, err = engine.CallEntity(context.Background(), nil, id, "delete", nil)
	require.NoError(t, err)
	var existed bool
	require.NoError(t, json.Unmarshal(result.OK, &existed))
	require.True(t, existed)

	result, err = engine.CallEntity(context.Background(), nil, id, "delete", nil)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(result.OK, &existed))
	require.False(t, existed)

	result, err = engine.CallEntity(context.Background(), nil, id, "get", nil)
	require.NoError(t, err)
	require.Equal(t, "null", string(result.OK))
}

func TestCriticalSectionWithFailureLeavesEntityUnlockedForNextHolder(t *testing.T) {
	engine := newTestEngine(t, RegisterCounter)
	id, err := types.NewInstanceID("counter", "k1")
	require.NoError(t, err)

	first, err := types.NewInstanceID("orchestration", "first")
	require.NoError(t, err)
	second, err := types.NewInstanceID("orchestration", "second")
	require.NoError(t, err)

	section1, granted, err := engine.LockEntities(context.Background(), first, []types.InstanceID{id})
	require.NoError(t, err)
	require.True(t, granted)

	require.NoError(t, engine.ForceReleaseEntities(context.Background(), first, []types.InstanceID{id}, lock.ReleaseFailure))
	require.NoError(t, section1.Release(context.Background()))

	section2, granted, err := engine.LockEntities(context.Background(), second, []types.InstanceID{id})
	require.NoError(t, err)
	require.True(t, granted)
	require.NoError(t, section2.Release(context.Background()))

	md, err := engine.GetEntity(context.Background(), id, false)
	require.NoError(t, err)
	require.False(t, md.Locked)
}

func TestTwoCriticalSectionsOnSameEntityAccumulate(t *testing.T) {
	engine := newTestEngine(t, RegisterCounter)
	id, err := types.NewInstanceID("counter", "k1")
	require.NoError(t, err)
	holder, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		section, granted, err := engine.LockEntities(context.Background(), holder, []types.InstanceID{id})
		require.NoError(t, err)
		require.True(t, granted)

		result, err := engine.CallEntity(context.Background(), &holder, id, "add", 1)
		require.NoError(t, err)
		require.True(t, result.Succeeded())

		require.NoError(t, section.Release(context.Background()))
	}

	md, err := engine.GetEntity(context.Background(), id, true)
	require.NoError(t, err)
	var total int
	require.NoError(t, json.Unmarshal(md.State, &total))
	require.Equal(t, 2, total)
}

func TestCallEntityReturnsItsOwnResultNotAnEarlierBackloggedCall(t *testing.T) {
	engine := newTestEngine(t, RegisterCounter)
	id, err := types.NewInstanceID("counter", "k1")
	require.NoError(t, err)
	holder, err := types.NewInstanceID("orchestration", "o1")
	require.NoError(t, err)

	section, granted, err := engine.LockEntities(context.Background(), holder, []types.InstanceID{id})
	require.NoError(t, err)
	require.True(t, granted)

	// caller is nil (not the section holder), so this call is blocked
	// behind the critical section: it is appended to the backlog and
	// never shows up in any Outbound until the lock is released and a
	// later batch actually runs it.
	_, err = engine.CallEntity(context.Background(), nil, id, "add", 5)
	require.ErrorIs(t, err, ErrCallDeferred)

	require.NoError(t, section.Release(context.Background()))

	// This second, fresh call's own batch drains the stale backlogged
	// "add 5" ahead of its own "get": Outbound ends up holding both
	// responses, stale one first. CallEntity must return the response
	// matching its own RequestID, not Outbound[0].
	result, err := engine.CallEntity(context.Background(), nil, id, "get", nil)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	var total int
	require.NoError(t, json.Unmarshal(result.OK, &total))
	require.Equal(t, 5, total)
}

func TestQueryPrefixReturnsOnlyMatchingEntitiesAcrossPageSizes(t *testing.T) {
	engine := newTestEngine(t, func(r *dispatch.Registry) error {
		if err := RegisterCounter(r); err != nil {
			return err
		}
		return RegisterStringStoreA(r)
	})

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		id, err := types.NewInstanceID("counter", key)
		require.NoError(t, err)
		require.NoError(t, engine.SignalEntity(context.Background(), nil, id, "add", 1))
	}
	for _, key := range []string{"x", "y", "z"} {
		id, err := types.NewInstanceID("stringstorea", key)
		require.NoError(t, err)
		require.NoError(t, engine.SignalEntity(context.Background(), nil, id, "set", "v"))
	}

	require.Eventually(t, func() bool {
		page, err := engine.GetAllEntities(context.Background(), types.Filter{IDPrefix: "@stringstorea@", HasIDPrefix: true})
		return err == nil && len(page.Items) == 3
	}, 2*time.Second, 5*time.Millisecond)

	page, err := engine.GetAllEntities(context.Background(), types.Filter{IDPrefix: "@stringstorea@", HasIDPrefix: true, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasMore)
}
