/*
Package storage provides the durable Store adapters behind the entity
core: one versioned Record per canonical InstanceID, committed with
optimistic concurrency so the batch executor can detect and recover
from races on the same entity.

BoltAdapter is the non-replicated reference adapter: a single BoltDB
bucket keyed by canonical instance ID, with the version check and the
write folded into one bbolt transaction.

RaftAdapter replicates CommitBatch through hashicorp/raft over a local
BoltAdapter, standing in for a real persistent storage engine. Reads,
Query, and Clean are served directly from the local replica; only
CommitBatch goes through consensus.

Neither adapter implicitly removes empty records at commit time —
BackendSupportsImplicitEntityDeletion reports false for both, and
callers rely on an explicit Clean() sweep instead.
*/
package storage
