package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/entitycore/pkg/log"
	"github.com/cuemby/entitycore/pkg/metrics"
	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
	"github.com/rs/zerolog"
)

const maxCommitRetries = 5

// ReleaseReason records why a critical section ended, for the
// entitycore_locks_forcibly_released_total metric and the force-release
// log line.
type ReleaseReason string

const (
	ReleaseNormal          ReleaseReason = "normal"
	ReleaseFailure         ReleaseReason = "failure"
	ReleaseTermination     ReleaseReason = "termination"
	ReleaseNondeterminism  ReleaseReason = "nondeterminism"
	ReleaseOfflineClean    ReleaseReason = "offline_clean"
)

// Manager implements the critical-section protocol (§4.5): entities in a
// requested section are locked in a total, deadlock-free order; a
// section that cannot be granted immediately is queued behind the
// current holder on every entity it spans.
type Manager struct {
	store    storage.Store
	registry *Registry
	logger   zerolog.Logger
}

// NewManager creates a lock manager over the given store.
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store:    store,
		registry: NewRegistry(),
		logger:   log.WithComponent("lock"),
	}
}

// Section is a guaranteed-release handle for a granted critical section.
// Release is idempotent, satisfying the REDESIGN FLAGS note that lock
// scopes must not depend on an async-disposable pattern to clean up.
type Section struct {
	manager  *Manager
	token    string
	holder   types.InstanceID
	targets  []types.InstanceID
	released bool
}

// Token returns the LockToken operations in this section must present.
func (s *Section) Token() string { return s.token }

// Release ends the critical section, granting it forward to the next
// queued waiter on each entity if one exists.
func (s *Section) Release(ctx context.Context) error {
	if s.released {
		return nil
	}
	s.released = true
	s.manager.registry.Revoke(s.token)
	return s.manager.releaseTargets(ctx, s.holder, s.targets, ReleaseNormal)
}

// Acquire attempts to grant holder a critical section over targets. If
// every target is currently free (or already held by holder), the
// section is granted immediately. Otherwise a LockRequest is enqueued on
// every target's pending_lock_queue and granted==false is returned. When
// the current holder releases, the head of the queue becomes the new
// LockedBy in the record; no message is sent, so the caller learns of
// the grant by reading the record or calling Acquire again.
func (m *Manager) Acquire(ctx context.Context, holder types.InstanceID, targets []types.InstanceID) (section *Section, granted bool, err error) {
	sorted := types.SortInstanceIDs(targets)
	token := m.registry.Issue(holder, sorted)

	free, err := m.allFree(ctx, sorted, holder)
	if err != nil {
		return nil, false, err
	}

	if !free {
		if err := m.enqueueAll(ctx, sorted, holder, token.Value); err != nil {
			return nil, false, err
		}
		m.logger.Debug().Str("holder", holder.String()).Msg("critical section queued")
		return &Section{manager: m, token: token.Value, holder: holder, targets: sorted}, false, nil
	}

	for _, id := range sorted {
		if err := m.lockOne(ctx, id, holder); err != nil {
			return nil, false, err
		}
	}

	metrics.LocksGranted.Inc()
	m.logger.Debug().Str("holder", holder.String()).Msg("critical section granted")
	return &Section{manager: m, token: token.Value, holder: holder, targets: sorted}, true, nil
}

// ForceRelease reclaims a critical section outside of the normal Release
// path: on operation failure, orchestration termination, a
// nondeterminism check failure on replay, or an offline Clean() sweep.
func (m *Manager) ForceRelease(ctx context.Context, holder types.InstanceID, targets []types.InstanceID, reason ReleaseReason) error {
	metrics.LocksForciblyReleased.WithLabelValues(string(reason)).Inc()
	return m.releaseTargets(ctx, holder, types.SortInstanceIDs(targets), reason)
}

func (m *Manager) allFree(ctx context.Context, ids []types.InstanceID, holder types.InstanceID) (bool, error) {
	for _, id := range ids {
		rec, err := m.store.Load(ctx, id)
		if err != nil {
			return false, fmt.Errorf("load %s: %w", id, err)
		}
		if rec.Locked && !rec.LockedBy.Equal(holder) {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) lockOne(ctx context.Context, id types.InstanceID, holder types.InstanceID) error {
	return m.mutate(ctx, id, func(rec *types.Record) {
		rec.Locked = true
		rec.LockedBy = holder
		rec.LastModified = time.Now()
	})
}

func (m *Manager) enqueueAll(ctx context.Context, ids []types.InstanceID, holder types.InstanceID, token string) error {
	req := types.LockRequest{OrchestrationID: holder, CriticalSectionID: token, OrderedTargets: ids}
	for _, id := range ids {
		if err := m.mutate(ctx, id, func(rec *types.Record) {
			rec.PendingLockQueue = append(rec.PendingLockQueue, req)
			rec.LastModified = time.Now()
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) releaseTargets(ctx context.Context, holder types.InstanceID, ids []types.InstanceID, reason ReleaseReason) error {
	for _, id := range ids {
		err := m.mutate(ctx, id, func(rec *types.Record) {
			if !rec.Locked || !rec.LockedBy.Equal(holder) {
				return
			}
			rec.Locked = false
			rec.LockedBy = types.InstanceID{}
			if len(rec.PendingLockQueue) > 0 {
				next := rec.PendingLockQueue[0]
				rec.PendingLockQueue = rec.PendingLockQueue[1:]
				rec.Locked = true
				rec.LockedBy = next.OrchestrationID
			}
			rec.LastModified = time.Now()
		})
		if err != nil {
			return err
		}
	}
	if reason != ReleaseNormal {
		m.logger.Warn().Str("holder", holder.String()).Str("reason", string(reason)).Msg("critical section force-released")
	}
	return nil
}

// mutate loads the record for id, applies fn, and commits, retrying a
// bounded number of times on a version conflict from a concurrent
// batch. This is the same optimistic pattern the batch executor uses
// for CommitBatch (§4.4), applied here to the lock bookkeeping fields.
func (m *Manager) mutate(ctx context.Context, id types.InstanceID, fn func(rec *types.Record)) error {
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		rec, err := m.store.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
		version := rec.Version
		fn(rec)

		err = m.store.CommitBatch(ctx, rec, version)
		if err == nil {
			return nil
		}
		if err == storage.ErrVersionConflict {
			metrics.BatchCommitConflicts.Inc()
			continue
		}
		return fmt.Errorf("commit %s: %w", id, err)
	}
	return fmt.Errorf("commit %s: exceeded %d retries on version conflict", id, maxCommitRetries)
}
