package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/entitycore/pkg/types"
)

// EntityContext is the binding a handler runs against: the entity's
// current state plus the outbound actions (signals, calls, scheduled
// signals) it produces. Handlers never see the Record directly — only
// this narrower view, so a handler cannot reach another entity's
// backlog or lock fields.
type EntityContext struct {
	id       types.InstanceID
	existed  bool
	state    []byte
	deleted  bool
	outbound []types.Outbound
	requests []types.Operation
}

func newEntityContext(id types.InstanceID, state []byte) *EntityContext {
	return &EntityContext{id: id, existed: state != nil, state: state}
}

// NewContext constructs the EntityContext a batch executor binds one
// operation to, seeded with the entity's state as of the start of this
// operation's sub-transaction.
func NewContext(id types.InstanceID, state []byte) *EntityContext {
	return newEntityContext(id, state)
}

// RawState returns the entity's state after the handler ran, or nil if
// the handler deleted it (explicitly or implicitly).
func (c *EntityContext) RawState() []byte {
	if c.deleted {
		return nil
	}
	return c.state
}

// OutboundRequests returns the signals and calls produced by this
// operation, for the batch executor to fold into the record's outbound
// set once its sub-transaction commits.
func (c *EntityContext) OutboundRequests() []types.Operation { return c.requests }

// InstanceID returns the canonical ID of the entity this operation ran
// against.
func (c *EntityContext) InstanceID() types.InstanceID { return c.id }

// Exists reports whether the entity currently has materialized state.
func (c *EntityContext) Exists() bool { return c.state != nil && !c.deleted }

// GetState unmarshals the current state into v. Calling GetState on an
// entity with no state leaves v untouched.
func (c *EntityContext) GetState(v interface{}) error {
	if c.state == nil || c.deleted {
		return nil
	}
	if err := json.Unmarshal(c.state, v); err != nil {
		return fmt.Errorf("unmarshal entity state: %w", err)
	}
	return nil
}

// SetState replaces the entity's state with the marshaled form of v.
func (c *EntityContext) SetState(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal entity state: %w", err)
	}
	c.state = data
	c.deleted = false
	return nil
}

// DeleteState implements both the explicit and the implicit delete
// convention (§3, §5): returning from a handler without calling SetState
// again leaves the entity's state absent, which this also does directly
// for the built-in "delete" operation.
func (c *EntityContext) DeleteState() {
	c.state = nil
	c.deleted = true
}

// Signal enqueues a one-way, fire-and-forget message to target. It is
// never delivered to target until the batch that produced it commits.
func (c *EntityContext) Signal(target types.InstanceID, opName string, input interface{}) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal signal input: %w", err)
	}
	c.requests = append(c.requests, types.Operation{
		Target:    target,
		Sender:    c.id,
		HasSender: true,
		OpName:    opName,
		Input:     data,
	})
	return nil
}

// ScheduleSignal enqueues a signal stamped with at as its ScheduledTime.
// The engine routes it as soon as the producing batch commits, like any
// other signal; nothing in the delivery path holds it back until at.
func (c *EntityContext) ScheduleSignal(target types.InstanceID, opName string, input interface{}, at time.Time) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal scheduled signal input: %w", err)
	}
	c.requests = append(c.requests, types.Operation{
		Target:        target,
		Sender:        c.id,
		HasSender:     true,
		OpName:        opName,
		Input:         data,
		ScheduledTime: at,
		HasSchedule:   true,
	})
	return nil
}

// Call enqueues a two-way request to target. Per the single
// deferred-result contract (no in-handler await), the caller does not
// block on the reply. The target's batch records the reply as an
// OutboundCallResponse addressed to this entity (ReplyTo) and tagged
// with requestID; it is not delivered back to this entity as an
// operation.
func (c *EntityContext) Call(target types.InstanceID, opName string, input interface{}, requestID string) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal call input: %w", err)
	}
	c.requests = append(c.requests, types.Operation{
		Target:    target,
		Sender:    c.id,
		HasSender: true,
		OpName:    opName,
		Input:     data,
		IsCall:    true,
		ReplyTo:   c.id,
		RequestID: requestID,
	})
	return nil
}
