// Package types defines the data model shared by every layer of the
// entity core: the InstanceID grammar, the persisted Record shape,
// operation/lock messages, and the Result/FailureInfo error variant
// that replaces exception-driven control flow at the dispatcher and
// batch-executor boundary.
package types
