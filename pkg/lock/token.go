package lock

import (
	"sync"
	"time"

	"github.com/cuemby/entitycore/pkg/types"
	"github.com/google/uuid"
)

// Token identifies one granted or pending critical section: the set of
// entities it spans, in lock order, and the orchestration holding it.
type Token struct {
	Value     string
	Holder    types.InstanceID
	Targets   []types.InstanceID
	CreatedAt time.Time
}

// Registry tracks outstanding critical-section tokens so a batch
// executor can validate the LockToken on a deferred operation before
// running it against a held entity.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Issue mints a new token for holder's ordered acquisition of targets.
func (r *Registry) Issue(holder types.InstanceID, targets []types.InstanceID) *Token {
	t := &Token{
		Value:     uuid.NewString(),
		Holder:    holder,
		Targets:   targets,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.tokens[t.Value] = t
	r.mu.Unlock()

	return t
}

// Validate reports whether value is a live token and returns it.
func (r *Registry) Validate(value string) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[value]
	return t, ok
}

// Revoke removes a token, typically once its critical section has been
// released or forcibly reclaimed.
func (r *Registry) Revoke(value string) {
	r.mu.Lock()
	delete(r.tokens, value)
	r.mu.Unlock()
}

// Count returns the number of live tokens, used by tests and metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
