package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a point-in-time view of a Postgres pool backing the member,
// chain and bag stores. It keeps this package free of pgxpool.
type PoolStats struct {
	Idle  int32
	InUse int32
	Max   int32

	// AcquireWaits counts acquisitions that found the pool empty.
	AcquireWaits int64
	// AcquireTime is the cumulative time spent in successful acquisitions.
	AcquireTime time.Duration
}

// PoolStatFunc reports the current stats of one pool.
type PoolStatFunc func() PoolStats

// poolCollector exports PoolStats on every scrape, labelled by pool name.
type poolCollector struct {
	stats PoolStatFunc

	conns          *prometheus.Desc
	maxConns       *prometheus.Desc
	acquireWaits   *prometheus.Desc
	acquireSeconds *prometheus.Desc
}

func newPoolCollector(pool string, stats PoolStatFunc) *poolCollector {
	labels := prometheus.Labels{"pool": pool}
	return &poolCollector{
		stats: stats,
		conns: prometheus.NewDesc(
			"loopkit_db_connections",
			"Connections in the store pool by state.",
			[]string{"state"}, labels,
		),
		maxConns: prometheus.NewDesc(
			"loopkit_db_max_connections",
			"Connection limit of the store pool.",
			nil, labels,
		),
		acquireWaits: prometheus.NewDesc(
			"loopkit_db_acquire_waits_total",
			"Connection acquisitions that had to wait for an exhausted pool.",
			nil, labels,
		),
		acquireSeconds: prometheus.NewDesc(
			"loopkit_db_acquire_seconds_total",
			"Cumulative time spent acquiring store pool connections.",
			nil, labels,
		),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.maxConns
	ch <- c.acquireWaits
	ch <- c.acquireSeconds
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.InUse), "in_use")
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(st.Max))
	ch <- prometheus.MustNewConstMetric(c.acquireWaits, prometheus.CounterValue, float64(st.AcquireWaits))
	ch <- prometheus.MustNewConstMetric(c.acquireSeconds, prometheus.CounterValue, st.AcquireTime.Seconds())
}
