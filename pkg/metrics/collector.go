package metrics

import "time"

// Snapshot is a point-in-time read of engine-wide gauges. Components that
// can report counts implement Source; the collector polls it on an
// interval so gauge metrics stay current without every call site having
// to push updates itself.
type Snapshot struct {
	PartitionsByState map[string]int
	TopologyVersion    int64
	AffinityCacheSize  int
	PagesResident      int
	PagesDirty         int
}

// Source is implemented by the embeddable engine so the collector can
// poll gauge-style state without pkg/metrics importing pkg/gridcore.
type Source interface {
	MetricsSnapshot() Snapshot
}

// Collector periodically samples a Source and updates the corresponding
// gauges registered in metrics.go.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for the given source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second interval.
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

// Stop halts metrics collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.MetricsSnapshot()

	for state, count := range snap.PartitionsByState {
		PartitionsByState.WithLabelValues(state).Set(float64(count))
	}
	TopologyVersion.Set(float64(snap.TopologyVersion))
	AffinityCacheSize.Set(float64(snap.AffinityCacheSize))
	PagesResident.Set(float64(snap.PagesResident))
	PagesDirty.Set(float64(snap.PagesDirty))
}
