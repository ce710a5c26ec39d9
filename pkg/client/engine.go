package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/entitycore/pkg/dispatch"
	"github.com/cuemby/entitycore/pkg/entity"
	"github.com/cuemby/entitycore/pkg/events"
	"github.com/cuemby/entitycore/pkg/lock"
	"github.com/cuemby/entitycore/pkg/metrics"
	"github.com/cuemby/entitycore/pkg/query"
	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
	"github.com/google/uuid"
)

// ErrCallDeferred is returned by CallEntity when the target is held by a
// critical section the caller is not a party to: the operation was
// appended to the entity's backlog instead of running, and the caller
// must retry once it holds (or observes the release of) the lock.
var ErrCallDeferred = errors.New("client: call deferred behind an active critical section")

// LivenessChecker reports whether the orchestration holding a lock is
// still considered running. A real deployment wires this to whatever
// tracks orchestration instance state; Clean() sweeps use it to decide
// which locks are orphaned. The zero value (nil) is treated as "assume
// every holder is live", which makes CleanEntityStorage a no-op for
// locks until one is configured.
type LivenessChecker func(holder types.InstanceID) bool

// Engine is the in-process binding of §6's orchestration-to-core and
// client-facing interfaces over one store: everything a replay engine
// or an operator tool needs, without a wire transport in between (the
// transport itself is out of scope — see DESIGN.md).
type Engine struct {
	store      storage.Store
	executor   *entity.Executor
	dispatcher *entity.Engine
	lockMgr    *lock.Manager
	querySvc   *query.Service
	isLive     LivenessChecker
}

// NewEngine wires a store, handler registry, and event broker into a
// ready-to-use Engine. broker may be nil. isLive may be nil, in which
// case CleanEntityStorage never force-releases a lock.
func NewEngine(store storage.Store, registry *dispatch.Registry, broker *events.Broker, isLive LivenessChecker) *Engine {
	tokens := lock.NewRegistry()
	return &Engine{
		store:      store,
		executor:   entity.NewExecutor(store, registry, tokens, broker),
		dispatcher: entity.NewEngine(store, registry, tokens, broker),
		lockMgr:    lock.NewManager(store),
		querySvc:   query.NewService(store, tokens),
		isLive:     isLive,
	}
}

// Stop shuts down the background per-instance workers backing
// SignalEntity delivery.
func (e *Engine) Stop() { e.dispatcher.Stop() }

// CallEntity runs op against id synchronously, as caller, and returns
// its result. caller is nil when the call originates from a client
// rather than an orchestration instance holding a critical section. If
// id is currently held by a critical section caller does not belong
// to (and does not present via caller), the call is appended to id's
// backlog and ErrCallDeferred is returned instead of a result.
func (e *Engine) CallEntity(ctx context.Context, caller *types.InstanceID, id types.InstanceID, op string, input interface{}) (types.Result, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return types.Result{}, fmt.Errorf("marshal call input: %w", err)
	}

	call := types.Operation{
		Target:    id,
		OpName:    op,
		Input:     data,
		IsCall:    true,
		ReplyTo:   id,
		RequestID: uuid.NewString(),
	}
	if caller != nil {
		call.Sender = *caller
		call.HasSender = true
	}

	result, err := e.executor.RunBatch(ctx, id, []types.Operation{call})
	if err != nil {
		return types.Result{}, err
	}
	// RunBatch also drains any earlier backlogged operations ahead of
	// this call (including stale calls from a previous ErrCallDeferred
	// caller who has already given up), so the response at this call's
	// own RequestID may not be first in Outbound.
	for _, out := range result.Outbound {
		if out.Kind == types.OutboundCallResponse && out.RequestID == call.RequestID {
			return out.Result, nil
		}
	}
	return types.Result{}, ErrCallDeferred
}

// SignalEntity enqueues a one-way op against id, as caller, and returns
// once it has been queued for delivery, without waiting for it to run.
// caller is nil for a client-originated signal.
func (e *Engine) SignalEntity(ctx context.Context, caller *types.InstanceID, id types.InstanceID, op string, input interface{}) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal signal input: %w", err)
	}
	op2 := types.Operation{Target: id, OpName: op, Input: data}
	if caller != nil {
		op2.Sender = *caller
		op2.HasSender = true
	}
	return e.dispatcher.Deliver(ctx, op2)
}

// LockEntities attempts to acquire a critical section over ids on
// holder's behalf (§4.5). The returned Section's Release is idempotent
// and safe to call unconditionally on every exit path.
func (e *Engine) LockEntities(ctx context.Context, holder types.InstanceID, ids []types.InstanceID) (*lock.Section, bool, error) {
	return e.lockMgr.Acquire(ctx, holder, ids)
}

// ForceReleaseEntities reclaims a critical section outside of the
// normal Release path — on orchestration failure, termination, a
// nondeterminism check, or an offline Clean() sweep driver.
func (e *Engine) ForceReleaseEntities(ctx context.Context, holder types.InstanceID, ids []types.InstanceID, reason lock.ReleaseReason) error {
	return e.lockMgr.ForceRelease(ctx, holder, ids, reason)
}

// GetEntity returns metadata for id, or Metadata{Exists: false} if it
// has never been written or was implicitly deleted.
func (e *Engine) GetEntity(ctx context.Context, id types.InstanceID, includeState bool) (types.Metadata, error) {
	return e.querySvc.Get(ctx, id, includeState)
}

// GetAllEntities returns one page of entity metadata matching filter.
func (e *Engine) GetAllEntities(ctx context.Context, filter types.Filter) (types.Page, error) {
	return e.querySvc.List(ctx, filter)
}

// CleanEntityStorage runs one cleanup sweep, releasing locks whose
// holder the configured LivenessChecker reports as no longer running
// and removing empty records left behind with nothing to retain.
func (e *Engine) CleanEntityStorage(ctx context.Context) (types.CleanResult, error) {
	isLive := e.isLive
	if isLive == nil {
		isLive = func(types.InstanceID) bool { return true }
	}
	return e.querySvc.Clean(ctx, isLive)
}

// BackendSupportsImplicitEntityDeletion reports whether this Engine's
// store removes empty records at commit time rather than only on the
// next Clean() sweep.
func (e *Engine) BackendSupportsImplicitEntityDeletion() bool {
	return e.querySvc.BackendSupportsImplicitEntityDeletion()
}

// Stats implements metrics.StatsSource by wrapping the underlying
// store's own stats snapshot.
func (e *Engine) Stats() metrics.StoreStats {
	s := e.store.Stats()
	return metrics.StoreStats{
		IsLeader:      s.IsLeader,
		AppliedIndex:  s.AppliedIndex,
		EntitiesTotal: s.EntitiesTotal,
	}
}
