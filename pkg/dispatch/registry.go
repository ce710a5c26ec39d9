package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/entitycore/pkg/types"
)

// HandlerFunc processes one delivered operation against an entity's
// bound context, returning the operation's result payload.
type HandlerFunc func(ctx *EntityContext, input []byte) ([]byte, error)

// Registry binds operation names to handlers per entity name. Binding
// is resolved case-insensitively (§5): "Add", "add", and "ADD" name the
// same operation.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]map[string]HandlerFunc)}
}

// Register binds opName on entityName to h. Registering the same
// (entityName, opName) pair twice is rejected: ambiguous bindings are
// caught here, at startup, rather than surfacing as a per-operation
// dispatch failure later.
func (r *Registry) Register(entityName, opName string, h HandlerFunc) error {
	if entityName == "" || opName == "" {
		return fmt.Errorf("dispatch: entity name and operation name must be non-empty")
	}

	key := strings.ToLower(entityName)
	op := strings.ToLower(opName)

	r.mu.Lock()
	defer r.mu.Unlock()

	ops, ok := r.entities[key]
	if !ok {
		ops = make(map[string]HandlerFunc)
		r.entities[key] = ops
	}
	if _, exists := ops[op]; exists {
		return fmt.Errorf("dispatch: ambiguous handler binding for %s.%s", entityName, opName)
	}
	ops[op] = h
	return nil
}

// implicitDeleteOp is the pseudo-operation (§5) that clears an entity's
// state when no handler claims it for a given entity type; an entity
// type may register its own "delete" handler to override this default.
const implicitDeleteOp = "delete"

// Dispatch resolves and runs the handler bound to entityName/opName
// against ctx. A missing entity or operation, or a handler failure, is
// reported as a types.FailureInfo rather than a bare error, so the batch
// executor can record the failure kind for rollback and metrics. The
// reserved "delete" operation falls back to clearing state only when
// entityName has not registered its own handler for it.
func (r *Registry) Dispatch(ctx *EntityContext, entityName, opName string, input []byte) ([]byte, *types.FailureInfo) {
	r.mu.RLock()
	ops, ok := r.entities[strings.ToLower(entityName)]
	r.mu.RUnlock()

	if ok {
		r.mu.RLock()
		h, hasHandler := ops[strings.ToLower(opName)]
		r.mu.RUnlock()
		if hasHandler {
			out, err := h(ctx, input)
			if err != nil {
				return nil, &types.FailureInfo{
					EntityID:     ctx.InstanceID().String(),
					OpName:       opName,
					Kind:         types.FailureHandler,
					ErrorMessage: err.Error(),
					Inner:        err,
				}
			}
			return out, nil
		}
	}

	if strings.EqualFold(opName, implicitDeleteOp) {
		ctx.DeleteState()
		return nil, nil
	}

	if !ok {
		return nil, &types.FailureInfo{
			EntityID:     ctx.InstanceID().String(),
			OpName:       opName,
			Kind:         types.FailureNoHandler,
			ErrorMessage: fmt.Sprintf("no handlers registered for entity %q", entityName),
		}
	}

	return nil, &types.FailureInfo{
		EntityID:     ctx.InstanceID().String(),
		OpName:       opName,
		Kind:         types.FailureNoHandler,
		ErrorMessage: fmt.Sprintf("entity %q has no handler for operation %q", entityName, opName),
	}
}
