package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Batch executor metrics
	BatchesCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_batches_committed_total",
			Help: "Total number of batches committed by the batch executor",
		},
	)

	BatchCommitConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_batch_commit_conflicts_total",
			Help: "Total number of CommitBatch conflicts that were re-planned",
		},
	)

	OperationsRolledBack = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_operations_rolled_back_total",
			Help: "Total number of operations rolled back to their pre-op state, by failure kind",
		},
		[]string{"kind"},
	)

	BatchExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entitycore_batch_execution_duration_seconds",
			Help:    "Time taken to execute and commit one batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lock manager metrics
	LocksGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_locks_granted_total",
			Help: "Total number of critical-section locks granted",
		},
	)

	LocksForciblyReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_locks_forcibly_released_total",
			Help: "Total number of locks forcibly released, by reason",
		},
		[]string{"reason"},
	)

	BacklogDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitycore_backlog_depth",
			Help: "Total number of operations currently queued in entity backlogs",
		},
	)

	PendingLockQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitycore_pending_lock_queue_depth",
			Help: "Total number of lock requests currently pending behind a holder",
		},
	)

	// Query/cleanup metrics
	EntitiesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitycore_entities_total",
			Help: "Total number of materialized or transient entity records",
		},
	)

	CleanSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_clean_sweeps_total",
			Help: "Total number of Clean() sweeps performed",
		},
	)

	EmptyEntitiesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_empty_entities_removed_total",
			Help: "Total number of empty entity records removed by Clean()",
		},
	)

	OrphanedLocksReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_orphaned_locks_released_total",
			Help: "Total number of orphaned locks released by Clean()",
		},
	)

	// Storage adapter / raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitycore_raft_is_leader",
			Help: "Whether this node is the Raft leader for the entity store (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitycore_raft_applied_index",
			Help: "Last applied Raft log index for the entity store",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entitycore_store_commit_duration_seconds",
			Help:    "Time taken for CommitBatch to durably apply a record update",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		BatchesCommitted,
		BatchCommitConflicts,
		OperationsRolledBack,
		BatchExecutionDuration,
		LocksGranted,
		LocksForciblyReleased,
		BacklogDepth,
		PendingLockQueueDepth,
		EntitiesTotal,
		CleanSweepsTotal,
		EmptyEntitiesRemoved,
		OrphanedLocksReleased,
		RaftLeader,
		RaftAppliedIndex,
		CommitDuration,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
