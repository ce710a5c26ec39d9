package entity

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/entitycore/pkg/dispatch"
	"github.com/cuemby/entitycore/pkg/events"
	"github.com/cuemby/entitycore/pkg/lock"
	"github.com/cuemby/entitycore/pkg/log"
	"github.com/cuemby/entitycore/pkg/metrics"
	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
	"github.com/rs/zerolog"
)

// drainWindow bounds how long a per-instance worker waits to pick up
// more operations before running the batch it already has, so a single
// busy instance cannot starve outbound delivery indefinitely.
const drainWindow = 10 * time.Millisecond

// inboxCapacity is the buffered depth of one instance's inbox channel.
// A full inbox applies backpressure to Deliver rather than growing
// without bound.
const inboxCapacity = 256

// Engine owns one serialized worker per active instance ID, guaranteeing
// that every operation against a given entity is processed in delivery
// order and never concurrently with another batch for the same entity
// (§3's single-writer invariant). Operations addressed to other entities
// that a handler produces are routed back through Deliver once their
// batch commits, so cross-entity signals and calls flow through the
// same serialization the originating operation did.
type Engine struct {
	executor *Executor
	logger   zerolog.Logger

	mu      sync.Mutex
	inboxes map[string]chan types.Operation
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewEngine builds an execution engine over store, dispatching through
// registry and honoring locks held via lockTokens; committed batches are
// published to broker.
func NewEngine(store storage.Store, registry *dispatch.Registry, lockTokens *lock.Registry, broker *events.Broker) *Engine {
	return &Engine{
		executor: NewExecutor(store, registry, lockTokens, broker),
		logger:   log.WithComponent("entity-engine"),
		inboxes:  make(map[string]chan types.Operation),
		stopCh:   make(chan struct{}),
	}
}

// Deliver enqueues op for its target entity's worker, starting one if
// none is currently running for that instance ID. Deliver returns once
// op is queued, not once it has been processed — the single deferred-
// result contract means the caller never blocks on a handler running.
func (e *Engine) Deliver(ctx context.Context, op types.Operation) error {
	inbox := e.inboxFor(op.Target)
	select {
	case inbox <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return context.Canceled
	}
}

// Stop signals every running worker to finish its current batch and
// exit, then waits for them to do so.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Engine) inboxFor(id types.InstanceID) chan types.Operation {
	key := id.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	inbox, ok := e.inboxes[key]
	if ok {
		return inbox
	}

	inbox = make(chan types.Operation, inboxCapacity)
	e.inboxes[key] = inbox
	e.wg.Add(1)
	go e.run(id, inbox)
	return inbox
}

// run is one instance's worker loop: collect whatever has arrived since
// the last batch (waiting briefly for more if the inbox just went
// empty), execute and commit it as a single batch, then route any
// requests it produced back through Deliver.
func (e *Engine) run(id types.InstanceID, inbox chan types.Operation) {
	defer e.wg.Done()
	logger := e.logger.With().Str("entity", id.String()).Logger()

	for {
		var batch []types.Operation

		select {
		case op := <-inbox:
			batch = append(batch, op)
		case <-e.stopCh:
			return
		}

		batch = append(batch, e.drain(inbox)...)

		ctx := context.Background()
		result, err := e.executor.RunBatch(ctx, id, batch)
		if err != nil {
			logger.Error().Err(err).Int("batch_size", len(batch)).Msg("batch execution failed")
			continue
		}

		for _, req := range result.Routed {
			if err := e.Deliver(ctx, req); err != nil {
				logger.Error().Err(err).Str("target", req.Target.String()).Msg("failed to route outbound request")
			}
		}
	}
}

// drain collects whatever is immediately available on inbox, then waits
// up to drainWindow for stragglers before returning, so operations
// delivered back-to-back are likely to land in the same batch.
func (e *Engine) drain(inbox chan types.Operation) []types.Operation {
	var extra []types.Operation
	deadline := time.NewTimer(drainWindow)
	defer deadline.Stop()

	for {
		select {
		case op := <-inbox:
			extra = append(extra, op)
		case <-deadline.C:
			metrics.BacklogDepth.Set(float64(len(inbox)))
			return extra
		}
	}
}
