package pg

import (
	// Packages
	prometheus "github.com/prometheus/client_golang/prometheus"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// PoolMetrics exposes pgxpool statistics as Prometheus gauges. It implements
// prometheus.Collector so it can be registered directly with a registry.
type PoolMetrics struct {
	pool              PoolConn
	acquired          *prometheus.Desc
	idle              *prometheus.Desc
	total             *prometheus.Desc
	newConnsCount     *prometheus.Desc
	acquireCount      *prometheus.Desc
	acquireDuration   *prometheus.Desc
	canceledAcquires  *prometheus.Desc
	emptyAcquireCount *prometheus.Desc
}

// Ensure interfaces are satisfied
var _ prometheus.Collector = (*PoolMetrics)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPoolMetrics returns a Prometheus collector for the given pool's
// connection statistics, labelled "pgqueue_pool_*".
func NewPoolMetrics(pool PoolConn) *PoolMetrics {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("pgqueue_pool_"+name, help, nil, nil)
	}
	return &PoolMetrics{
		pool:              pool,
		acquired:          desc("acquired_conns", "Number of connections currently checked out of the pool"),
		idle:              desc("idle_conns", "Number of idle connections in the pool"),
		total:             desc("total_conns", "Total number of connections the pool currently holds"),
		newConnsCount:     desc("new_conns_total", "Cumulative count of new connections opened"),
		acquireCount:      desc("acquire_total", "Cumulative count of successful acquires"),
		acquireDuration:   desc("acquire_duration_ns_total", "Cumulative nanoseconds spent acquiring connections"),
		canceledAcquires:  desc("canceled_acquire_total", "Cumulative count of acquires canceled by context"),
		emptyAcquireCount: desc("empty_acquire_total", "Cumulative count of acquires that waited for a connection"),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (m *PoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.acquired
	ch <- m.idle
	ch <- m.total
	ch <- m.newConnsCount
	ch <- m.acquireCount
	ch <- m.acquireDuration
	ch <- m.canceledAcquires
	ch <- m.emptyAcquireCount
}

func (m *PoolMetrics) Collect(ch chan<- prometheus.Metric) {
	stat := m.pool.Stat()
	if stat == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(m.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(m.idle, prometheus.GaugeValue, float64(stat.IdleConns))
	ch <- prometheus.MustNewConstMetric(m.total, prometheus.GaugeValue, float64(stat.TotalConns))
	ch <- prometheus.MustNewConstMetric(m.newConnsCount, prometheus.CounterValue, float64(stat.NewConnsCount))
	ch <- prometheus.MustNewConstMetric(m.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount))
	ch <- prometheus.MustNewConstMetric(m.acquireDuration, prometheus.CounterValue, float64(stat.AcquireDuration))
	ch <- prometheus.MustNewConstMetric(m.canceledAcquires, prometheus.CounterValue, float64(stat.CanceledAcquireCount))
	ch <- prometheus.MustNewConstMetric(m.emptyAcquireCount, prometheus.CounterValue, float64(stat.EmptyAcquireCount))
}
