package client

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/entitycore/pkg/dispatch"
)

// RegisterCounter binds a minimal counter entity: "add" accumulates a
// delta into the entity's int state, auto-materializing it on first
// use (variant A's get/delete semantics — see RegisterStringStoreA).
// "get" returns the current total, defaulting to zero for an entity
// that has never been signaled. No "delete" handler is registered, so
// the implicit "delete" clears it back to absent and a subsequent "add"
// starts fresh.
func RegisterCounter(r *dispatch.Registry) error {
	if err := r.Register("counter", "add", func(ctx *dispatch.EntityContext, input []byte) ([]byte, error) {
		var current, delta int
		if err := ctx.GetState(&current); err != nil {
			return nil, err
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &delta); err != nil {
				return nil, fmt.Errorf("unmarshal delta: %w", err)
			}
		}
		return nil, ctx.SetState(current + delta)
	}); err != nil {
		return err
	}

	return r.Register("counter", "get", func(ctx *dispatch.EntityContext, input []byte) ([]byte, error) {
		var current int
		if err := ctx.GetState(&current); err != nil {
			return nil, err
		}
		return json.Marshal(current)
	})
}

// RegisterStringStoreA binds a "get returns \"\" for absent, delete
// clears without reporting whether anything was there" variant of a
// simple key-value entity, auto-materializing state on "set" the way
// Counter does on "add".
func RegisterStringStoreA(r *dispatch.Registry) error {
	if err := r.Register("stringstorea", "set", func(ctx *dispatch.EntityContext, input []byte) ([]byte, error) {
		var value string
		if err := json.Unmarshal(input, &value); err != nil {
			return nil, fmt.Errorf("unmarshal value: %w", err)
		}
		return nil, ctx.SetState(value)
	}); err != nil {
		return err
	}

	return r.Register("stringstorea", "get", func(ctx *dispatch.EntityContext, input []byte) ([]byte, error) {
		var value string
		_ = ctx.GetState(&value)
		return json.Marshal(value)
	})
}

// RegisterStringStoreB binds the null-on-absent variant: "get" returns
// a JSON null when the entity has never been set (rather than ""), and
// an explicit "delete" operation returns whether state actually
// existed before clearing it, instead of relying solely on the
// implicit delete convention.
func RegisterStringStoreB(r *dispatch.Registry) error {
	if err := r.Register("stringstoreb", "set", func(ctx *dispatch.EntityContext, input []byte) ([]byte, error) {
		var value string
		if err := json.Unmarshal(input, &value); err != nil {
			return nil, fmt.Errorf("unmarshal value: %w", err)
		}
		return nil, ctx.SetState(value)
	}); err != nil {
		return err
	}

	if err := r.Register("stringstoreb", "get", func(ctx *dispatch.EntityContext, input []byte) ([]byte, error) {
		if !ctx.Exists() {
			return json.Marshal(nil)
		}
		var value string
		if err := ctx.GetState(&value); err != nil {
			return nil, err
		}
		return json.Marshal(value)
	}); err != nil {
		return err
	}

	return r.Register("stringstoreb", "delete", func(ctx *dispatch.EntityContext, input []byte) ([]byte, error) {
		existed := ctx.Exists()
		ctx.DeleteState()
		return json.Marshal(existed)
	})
}
