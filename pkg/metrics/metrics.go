package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Page memory metrics
	PageCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_page_cache_hits_total",
			Help: "Total number of page memory cache hits",
		},
	)

	PageCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_page_cache_misses_total",
			Help: "Total number of page memory cache misses",
		},
	)

	PagesDirty = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridcore_pages_dirty",
			Help: "Number of resident dirty pages awaiting checkpoint",
		},
	)

	PagesResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridcore_pages_resident",
			Help: "Number of pages currently resident in page memory",
		},
	)

	// Page store metrics
	PageStoreReads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_pagestore_reads_total",
			Help: "Total number of page reads from the file page store",
		},
	)

	PageStoreWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_pagestore_writes_total",
			Help: "Total number of page writes to the file page store",
		},
	)

	PageStoreCRCFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_pagestore_crc_failures_total",
			Help: "Total number of page CRC verification failures",
		},
	)

	// WAL metrics
	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridcore_wal_append_duration_seconds",
			Help:    "Time taken to append a record to the write-ahead log",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_wal_bytes_written_total",
			Help: "Total number of bytes appended to the write-ahead log",
		},
	)

	WALSegmentRollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_wal_segment_rollovers_total",
			Help: "Total number of WAL segment rollovers",
		},
	)

	// Partition metrics
	PartitionsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridcore_partitions_by_state",
			Help: "Number of partitions in each lifecycle state",
		},
		[]string{"state"},
	)

	TopologyVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridcore_topology_version",
			Help: "Current topology version observed by this node",
		},
	)

	AffinityCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridcore_affinity_cache_size",
			Help: "Number of cached (cacheName, topologyVersion) affinity assignments",
		},
	)

	// Transaction metrics
	TxCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_tx_committed_total",
			Help: "Total number of committed transactions",
		},
	)

	TxRolledBack = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_tx_rolled_back_total",
			Help: "Total number of rolled-back transactions",
		},
	)

	TxTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_tx_timed_out_total",
			Help: "Total number of transactions that hit their deadline",
		},
	)

	TxDeadlocksDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_tx_deadlocks_detected_total",
			Help: "Total number of transactions aborted by deadlock detection",
		},
	)

	TxCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridcore_tx_commit_duration_seconds",
			Help:    "Time from prepare start to commit acknowledgement",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxOnePhaseCommits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_tx_one_phase_commits_total",
			Help: "Total number of transactions that took the one-phase-commit path",
		},
	)

	// Vacuum metrics
	VacuumScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_vacuum_rows_scanned_total",
			Help: "Total number of rows scanned by MVCC vacuum",
		},
	)

	VacuumCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcore_vacuum_rows_cleaned_total",
			Help: "Total number of obsolete row versions removed by MVCC vacuum",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PageCacheHits,
		PageCacheMisses,
		PagesDirty,
		PagesResident,
		PageStoreReads,
		PageStoreWrites,
		PageStoreCRCFailures,
		WALAppendDuration,
		WALBytesWritten,
		WALSegmentRollovers,
		PartitionsByState,
		TopologyVersion,
		AffinityCacheSize,
		TxCommitted,
		TxRolledBack,
		TxTimedOut,
		TxDeadlocksDetected,
		TxCommitDuration,
		TxOnePhaseCommits,
		VacuumScanned,
		VacuumCleaned,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
