package query

import (
	"context"
	"fmt"

	"github.com/cuemby/entitycore/pkg/lock"
	"github.com/cuemby/entitycore/pkg/metrics"
	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
)

// Service exposes entity discovery and cleanup (§4.6) over a store: a
// paged, filterable listing of entity metadata, and a Clean() sweep
// that releases locks an orchestration driver reports as no longer
// running and removes records left behind with no state and no reason
// to persist.
type Service struct {
	store      storage.Store
	lockTokens *lock.Registry
}

// NewService builds a query/cleanup service over store. lockTokens may
// be nil; it is stored but not consulted, and a Clean() sweep does not
// revoke any token.
func NewService(store storage.Store, lockTokens *lock.Registry) *Service {
	return &Service{store: store, lockTokens: lockTokens}
}

// List returns one page of entity metadata matching filter. The
// underlying adapter decides ordering (most recently modified first)
// and honors filter.PageSize and filter.ContinuationToken.
func (s *Service) List(ctx context.Context, filter types.Filter) (types.Page, error) {
	page, err := s.store.Query(ctx, filter)
	if err != nil {
		return types.Page{}, fmt.Errorf("query entities: %w", err)
	}
	return page, nil
}

// Get returns metadata for a single instance, or Metadata{Exists:
// false} if it has never been written or was implicitly deleted.
func (s *Service) Get(ctx context.Context, id types.InstanceID, includeState bool) (types.Metadata, error) {
	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("load %s: %w", id, err)
	}
	md := types.Metadata{
		ID:                   id,
		Exists:               rec.Exists(),
		LockedBy:             rec.LockedBy,
		Locked:               rec.Locked,
		LastModified:         rec.LastModified,
		BacklogQueueSize:     len(rec.Backlog),
		PendingLockQueueSize: len(rec.PendingLockQueue),
	}
	if includeState {
		md.State = rec.State
	}
	return md, nil
}

// BackendSupportsImplicitEntityDeletion forwards the store's capability
// flag, so callers know whether an emptied entity is already gone by
// the time CommitBatch returns or only disappears after the next
// successful Clean() sweep.
func (s *Service) BackendSupportsImplicitEntityDeletion() bool {
	return s.store.BackendSupportsImplicitEntityDeletion()
}

// Clean sweeps the store once: orphaned locks held by an orchestration
// isLive reports as no longer running are released (granted onward to
// the next queued waiter, if any), and records with no state, no lock
// and an empty backlog are removed. It updates the cleanup and
// entity-count metrics before returning.
func (s *Service) Clean(ctx context.Context, isLive func(holder types.InstanceID) bool) (types.CleanResult, error) {
	result, err := s.store.Clean(ctx, isLive)
	if err != nil {
		return types.CleanResult{}, fmt.Errorf("clean: %w", err)
	}

	metrics.CleanSweepsTotal.Inc()
	metrics.EmptyEntitiesRemoved.Add(float64(result.EmptyEntitiesRemoved))
	metrics.OrphanedLocksReleased.Add(float64(result.OrphanedLocksReleased))
	metrics.EntitiesTotal.Set(float64(s.store.Stats().EntitiesTotal))

	return result, nil
}
