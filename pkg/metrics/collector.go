package metrics

import "time"

// StoreStats is the subset of storage adapter state the collector samples.
// The StatsSource fills it from its store's own stats, so metrics does not
// need to import pkg/storage.
type StoreStats struct {
	IsLeader       bool
	AppliedIndex   uint64
	EntitiesTotal  int
	BacklogDepth   int
	PendingLocks   int
}

// StatsSource is implemented by whatever owns the running engine (typically
// cmd/entitycore) and polled periodically to refresh gauges that can't be
// updated inline at the point of the state change.
type StatsSource interface {
	Stats() StoreStats
}

// Collector periodically samples a StatsSource and updates the corresponding
// gauges. Counters and histograms are updated inline by the batch executor,
// lock manager, and query package as events happen; Collector only owns the
// point-in-time gauges that are cheapest to sample on a timer.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for the given stats source
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second interval
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.source.Stats()

	if stats.IsLeader {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftAppliedIndex.Set(float64(stats.AppliedIndex))
	EntitiesTotal.Set(float64(stats.EntitiesTotal))
	BacklogDepth.Set(float64(stats.BacklogDepth))
	PendingLockQueueDepth.Set(float64(stats.PendingLocks))
}
