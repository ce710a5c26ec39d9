// Package dispatch binds operation names to handler functions and runs
// them against an EntityContext. Binding is case-insensitive and
// resolved once at registration time rather than through reflection, so
// an ambiguous or missing handler is a startup-time or dispatch-time
// types.FailureInfo rather than a panic. The reserved "delete" operation
// clears state without a registered handler (§5's implicit delete).
package dispatch
