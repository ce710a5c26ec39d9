// Package entity implements the batch execution and per-instance
// serialization engine: one worker per active instance ID drains its
// inbox, runs every pending operation against a single load of the
// entity's record with per-operation rollback, and commits the whole
// batch atomically, retrying on a concurrent version conflict. Requests
// a handler addresses to other entities are routed back through the
// same engine once their originating batch commits.
package entity
