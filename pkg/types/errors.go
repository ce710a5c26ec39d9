package types

import "fmt"

// Sentinel errors for the Instance Identifier grammar (§4.1).
var (
	ErrEmptyEntityName   = fmt.Errorf("entity name must not be empty")
	ErrEmptyEntityKey    = fmt.Errorf("entity key must not be empty")
	ErrInvalidEntityName = fmt.Errorf("entity name must not contain '@'")
)

// InvalidEntityID is raised when a raw string fails to parse as an
// InstanceID (§6 error taxonomy).
type InvalidEntityID struct {
	Raw    string
	Reason string
}

func (e InvalidEntityID) Error() string {
	return fmt.Sprintf("invalid entity id %q: %s", e.Raw, e.Reason)
}

// ScheduleConflict describes a commit whose expected version no longer
// matches the stored one (§4.4). The storage adapters report that case
// as storage.ErrVersionConflict and do not return this type.
type ScheduleConflict struct {
	ID InstanceID
}

func (e ScheduleConflict) Error() string {
	return fmt.Sprintf("schedule conflict committing %s", e.ID)
}

// LockOrderingViolation describes an internal protocol bug (duplicate
// grant, release without hold) (§7). The lock manager does not return
// it: a release by a non-holder is skipped without an error.
type LockOrderingViolation struct {
	ID     InstanceID
	Reason string
}

func (e LockOrderingViolation) Error() string {
	return fmt.Sprintf("lock protocol violation on %s: %s", e.ID, e.Reason)
}

// FailureKind classifies why an operation did not produce a result,
// per the re-architecture guidance in §9 (exceptions map to a result
// variant instead of being propagated by stack unwinding).
type FailureKind string

const (
	// FailureHandler is a handler-raised error; the pre-op state is restored.
	FailureHandler FailureKind = "handler_error"
	// FailureSerialization is a (de)serialization error of new or stored state.
	FailureSerialization FailureKind = "serialization_error"
	// FailureNoHandler is raised for an unknown operation name.
	FailureNoHandler FailureKind = "no_handler"
	// FailureAmbiguousHandler is raised when more than one handler matches a name.
	FailureAmbiguousHandler FailureKind = "ambiguous_handler"
	// FailureInvalidBinding is raised when a handler's parameters cannot be bound.
	FailureInvalidBinding FailureKind = "invalid_binding"
)

// FailureInfo carries everything EntityOperationFailed surfaces over
// the boundary (§6).
type FailureInfo struct {
	EntityID     string      `json:"entityId"`
	OpName       string      `json:"opName"`
	Kind         FailureKind `json:"kind"`
	ErrorMessage string      `json:"errorMessage"`
	Stack        string      `json:"stack,omitempty"`
	Inner        error       `json:"-"`
}

func (f *FailureInfo) Error() string {
	return fmt.Sprintf("entity operation failed: %s.%s: %s", f.EntityID, f.OpName, f.ErrorMessage)
}

func (f *FailureInfo) Unwrap() error { return f.Inner }

// Result is the "Ok(bytes) | Fail(...)" variant REDESIGN FLAGS §9
// replaces exception-driven control flow with. Exactly one of the two
// is populated.
type Result struct {
	OK   []byte
	Fail *FailureInfo
}

// Succeeded reports whether this result is the Ok case.
func (r Result) Succeeded() bool { return r.Fail == nil }
