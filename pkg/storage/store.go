package storage

import (
	"context"
	"errors"

	"github.com/cuemby/entitycore/pkg/types"
)

// ErrVersionConflict is returned by CommitBatch when the stored record has
// moved on since the caller last loaded it. The caller must reload and
// re-plan the batch against the fresh snapshot.
var ErrVersionConflict = errors.New("storage: version conflict")

// ErrNotFound is not returned by either adapter in this package: Load
// reports a record that has never existed with Exists() == false and a
// nil error.
var ErrNotFound = errors.New("storage: record not found")

// Stats is a point-in-time snapshot of adapter state, sampled by
// pkg/metrics.Collector through a thin StatsSource adapter owned by
// whichever package wires the engine together.
type Stats struct {
	IsLeader      bool
	AppliedIndex  uint64
	EntitiesTotal int
}

// Store is the durable backing for entity records: one record per
// canonical InstanceID, versioned for optimistic concurrency so the
// batch executor can detect and recover from concurrent commits to the
// same entity.
type Store interface {
	// Load returns the current record for id. A record that has never
	// been written, or was removed by implicit deletion, comes back
	// with Exists() == false and a nil error — callers materialize a
	// fresh Record rather than treating absence as a failure.
	Load(ctx context.Context, id types.InstanceID) (*types.Record, error)

	// CommitBatch durably applies rec if the store's current version for
	// rec.ID still equals expectedVersion. On success the stored version
	// becomes expectedVersion+1. On conflict it returns
	// ErrVersionConflict and leaves the store unchanged.
	CommitBatch(ctx context.Context, rec *types.Record, expectedVersion uint64) error

	// Query lists record metadata matching filter, most recently
	// modified first, honoring filter.PageSize and
	// filter.ContinuationToken.
	Query(ctx context.Context, filter types.Filter) (types.Page, error)

	// Clean sweeps the store once: it removes records with no state, no
	// lock and an empty backlog, and releases any lock whose holder
	// isLive reports as no longer running, granting the lock onward to
	// the next queued waiter if one exists.
	Clean(ctx context.Context, isLive func(holder types.InstanceID) bool) (types.CleanResult, error)

	// BackendSupportsImplicitEntityDeletion reports whether this backend
	// removes empty, unlocked records automatically as part of
	// CommitBatch rather than only during an explicit Clean() sweep.
	BackendSupportsImplicitEntityDeletion() bool

	// Stats reports counters used by the metrics collector.
	Stats() Stats

	Close() error
}
