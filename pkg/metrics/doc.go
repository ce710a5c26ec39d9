/*
Package metrics provides Prometheus metrics collection and exposition for
the entity core. Metrics are registered at package init and exposed via
an HTTP handler for scraping.

# Metrics Catalog

Batch executor:

  - entitycore_batches_committed_total (Counter)
  - entitycore_batch_commit_conflicts_total (Counter): CommitBatch CAS
    conflicts that were retried with a fresh snapshot.
  - entitycore_operations_rolled_back_total{kind} (Counter): rollbacks by
    FailureKind.
  - entitycore_batch_execution_duration_seconds (Histogram)

Lock manager:

  - entitycore_locks_granted_total (Counter)
  - entitycore_locks_forcibly_released_total{reason} (Counter): reason is
    the ReleaseReason passed to ForceRelease: failure, termination,
    nondeterminism, offline_clean, or normal.
  - entitycore_backlog_depth (Gauge)
  - entitycore_pending_lock_queue_depth (Gauge)

Query and cleanup:

  - entitycore_entities_total (Gauge)
  - entitycore_clean_sweeps_total (Counter)
  - entitycore_empty_entities_removed_total (Counter)
  - entitycore_orphaned_locks_released_total (Counter)

Storage adapter:

  - entitycore_raft_is_leader (Gauge)
  - entitycore_raft_applied_index (Gauge)
  - entitycore_store_commit_duration_seconds (Histogram)

# Usage

Inline counters and histograms are updated at the point of the state
change (the batch executor, lock manager, and query package import this
package directly). Point-in-time gauges are instead refreshed by a
Collector polling a StatsSource on a timer:

	collector := metrics.NewCollector(engine)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

# Health

RegisterComponent/UpdateComponent track liveness of named components
(store, dispatch) independent of the Prometheus registry; GetHealth and
GetReadiness back the /health and /ready HTTP handlers.
*/
package metrics
