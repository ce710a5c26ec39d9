// Package lock implements the entity core's critical-section protocol:
// ordered multi-entity acquisition for deadlock freedom, a pending queue
// per entity for requests that arrive while it is held, and forcible
// release on failure, termination, a failed nondeterminism check, or an
// offline Clean() sweep.
package lock
