// Package metrics registers Prometheus instrumentation for gridcore's
// storage and transaction subsystems: page cache hit/miss counters, WAL
// append latency, per-state partition gauges, transaction outcome
// counters, and MVCC vacuum scan/clean counters.
//
// Metrics are package-level prometheus.Collector values registered at
// init time; call Handler() to expose them over HTTP for scraping.
// Collector polls a Source (typically the embeddable Engine) on an
// interval to keep gauge-style metrics current.
package metrics
