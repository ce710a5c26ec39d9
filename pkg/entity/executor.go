package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/entitycore/pkg/dispatch"
	"github.com/cuemby/entitycore/pkg/events"
	"github.com/cuemby/entitycore/pkg/lock"
	"github.com/cuemby/entitycore/pkg/metrics"
	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
)

const maxCommitRetries = 5

// Executor runs the batch-execution algorithm (§4.4) for one entity at a
// time: load the record once, run every queued operation against its
// own snapshot with rollback on failure, then commit the whole batch
// atomically with a version-conflict retry.
type Executor struct {
	store      storage.Store
	registry   *dispatch.Registry
	lockTokens *lock.Registry
	broker     *events.Broker
}

// NewExecutor builds a batch executor over the given store, handler
// registry, and lock token registry. broker may be nil, in which case
// committed outbound actions are simply not published.
func NewExecutor(store storage.Store, registry *dispatch.Registry, lockTokens *lock.Registry, broker *events.Broker) *Executor {
	return &Executor{store: store, registry: registry, lockTokens: lockTokens, broker: broker}
}

// BatchResult is everything that came out of a committed batch: messages
// addressed back to whatever delivered the incoming operations
// (failures and call replies) and fresh requests addressed to other
// entities, which the caller routes on once the commit has durably
// succeeded.
type BatchResult struct {
	Outbound []types.Outbound
	Routed   []types.Operation
}

// RunBatch appends incoming to id's backlog, executes every operation
// that is not blocked behind a held lock, and commits the result. It
// returns the BatchResult of the operations that actually ran, once the
// commit has durably succeeded.
func (e *Executor) RunBatch(ctx context.Context, id types.InstanceID, incoming []types.Operation) (BatchResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BatchExecutionDuration)

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		rec, err := e.store.Load(ctx, id)
		if err != nil {
			return BatchResult{}, fmt.Errorf("load %s: %w", id, err)
		}
		version := rec.Version

		pending := append(append([]types.Operation(nil), rec.Backlog...), incoming...)
		rec.Backlog = nil

		result := e.runPending(rec, pending)
		rec.LastModified = time.Now()

		err = e.store.CommitBatch(ctx, rec, version)
		if err == nil {
			e.publish(result.Outbound)
			metrics.BatchesCommitted.Inc()
			return result, nil
		}
		if err == storage.ErrVersionConflict {
			metrics.BatchCommitConflicts.Inc()
			continue
		}
		return BatchResult{}, fmt.Errorf("commit batch for %s: %w", id, err)
	}
	return BatchResult{}, fmt.Errorf("commit batch for %s: exceeded %d retries on version conflict", id, maxCommitRetries)
}

// runPending executes each operation in order against rec, mutating it
// in place. An operation that cannot run because the entity is held by
// another orchestration is put back on rec's own backlog; requests the
// handlers addressed to other entities are collected separately so the
// caller can route them once this commit succeeds, rather than being
// confused with rec's own backlog.
func (e *Executor) runPending(rec *types.Record, pending []types.Operation) BatchResult {
	var result BatchResult

	for _, op := range pending {
		if e.isBlocked(rec, op) {
			rec.Backlog = append(rec.Backlog, op)
			continue
		}

		snapshot := rec.Clone()
		ectx := dispatch.NewContext(rec.ID, rec.State)

		out, failure := e.registry.Dispatch(ectx, rec.ID.Name(), op.OpName, op.Input)
		if failure != nil {
			*rec = *snapshot
			metrics.OperationsRolledBack.WithLabelValues(string(failure.Kind)).Inc()
			failed := types.Outbound{
				Kind:   types.OutboundSignal,
				Target: op.Sender,
				Result: types.Result{Fail: failure},
			}
			if op.IsCall {
				failed.Kind = types.OutboundCallResponse
				failed.Target = op.ReplyTo
				failed.RequestID = op.RequestID
			}
			result.Outbound = append(result.Outbound, failed)
			continue
		}

		rec.State = ectx.RawState()
		result.Routed = append(result.Routed, ectx.OutboundRequests()...)

		if op.IsCall {
			result.Outbound = append(result.Outbound, types.Outbound{
				Kind:      types.OutboundCallResponse,
				Target:    op.ReplyTo,
				RequestID: op.RequestID,
				Result:    types.Result{OK: out},
			})
		}
	}

	return result
}

// isBlocked reports whether op must wait because rec is held by an
// orchestration other than op's sender and op does not carry that
// orchestration's lock token.
func (e *Executor) isBlocked(rec *types.Record, op types.Operation) bool {
	if !rec.Locked {
		return false
	}
	if op.HasSender && rec.LockedBy.Equal(op.Sender) {
		return false
	}
	if op.LockToken != "" && e.lockTokens != nil {
		if tok, ok := e.lockTokens.Validate(op.LockToken); ok && tok.Holder.Equal(rec.LockedBy) {
			return false
		}
	}
	return true
}

func (e *Executor) publish(outbound []types.Outbound) {
	if e.broker == nil {
		return
	}
	for _, o := range outbound {
		evtType := events.EventBatchCommitted
		if !o.Result.Succeeded() {
			evtType = events.EventOperationFailed
		}
		e.broker.Publish(&events.Event{
			Type:     evtType,
			EntityID: o.Target.String(),
		})
	}
}
