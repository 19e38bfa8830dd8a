package queue

import (
	"context"
	"sync/atomic"

	// Packages
	prometheus "github.com/prometheus/client_golang/prometheus"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// queueMetrics exposes queue-level Prometheus collectors (spec §4.2
// "Prometheus collectors"), mirroring the root package's PoolMetrics: a
// Collector pulled from storage.Stats on scrape for the depth gauges, plus
// counters and a gauge maintained live by the consumption loop.
type queueMetrics struct {
	storage *storage
	ns      string

	depth    *prometheus.Desc
	claims   *prometheus.Desc
	acks     *prometheus.Desc
	nacks    *prometheus.Desc
	deadLtr  *prometheus.Desc
	active   *prometheus.Desc
	staleRst *prometheus.Desc
	retryRst *prometheus.Desc

	claimCount  uint64
	ackCount    uint64
	nackCount   uint64
	deadCount   uint64
	activeCount int64
	staleCount  int64
	retryCount  int64
}

// Ensure interfaces are satisfied
var _ prometheus.Collector = (*queueMetrics)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newQueueMetrics(storage *storage, c *config) *queueMetrics {
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(c.metricsNamespace+"_"+name, help, variable, prometheus.Labels{"queue": c.name})
	}
	return &queueMetrics{
		storage:  storage,
		ns:       c.metricsNamespace,
		depth:    desc("depth", "Current number of messages in each status", "status"),
		claims:   desc("claims_total", "Cumulative count of messages claimed for processing"),
		acks:     desc("acks_total", "Cumulative count of messages acknowledged"),
		nacks:    desc("nacks_total", "Cumulative count of messages negatively acknowledged"),
		deadLtr:  desc("dead_letters_total", "Cumulative count of messages moved to the dead letter status"),
		active:   desc("active_workers", "Current number of in-flight handler invocations"),
		staleRst: desc("stale_reset_total", "Cumulative count of PROCESSING rows reclaimed as stale"),
		retryRst: desc("retry_promoted_total", "Cumulative count of FAILED rows promoted back to PENDING"),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (m *queueMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.depth
	ch <- m.claims
	ch <- m.acks
	ch <- m.nacks
	ch <- m.deadLtr
	ch <- m.active
	ch <- m.staleRst
	ch <- m.retryRst
}

// Collect reads the current per-status depths from storage.Stats and
// reports every counter/gauge the loop has maintained since start.
func (m *queueMetrics) Collect(ch chan<- prometheus.Metric) {
	if stats, err := m.storage.Stats(context.Background()); err == nil {
		ch <- prometheus.MustNewConstMetric(m.depth, prometheus.GaugeValue, float64(stats.Pending), string(Pending))
		ch <- prometheus.MustNewConstMetric(m.depth, prometheus.GaugeValue, float64(stats.Processing), string(Processing))
		ch <- prometheus.MustNewConstMetric(m.depth, prometheus.GaugeValue, float64(stats.Completed), string(Completed))
		ch <- prometheus.MustNewConstMetric(m.depth, prometheus.GaugeValue, float64(stats.Failed), string(Failed))
		ch <- prometheus.MustNewConstMetric(m.depth, prometheus.GaugeValue, float64(stats.DeadLetter), string(DeadLetter))
	}
	ch <- prometheus.MustNewConstMetric(m.claims, prometheus.CounterValue, float64(atomic.LoadUint64(&m.claimCount)))
	ch <- prometheus.MustNewConstMetric(m.acks, prometheus.CounterValue, float64(atomic.LoadUint64(&m.ackCount)))
	ch <- prometheus.MustNewConstMetric(m.nacks, prometheus.CounterValue, float64(atomic.LoadUint64(&m.nackCount)))
	ch <- prometheus.MustNewConstMetric(m.deadLtr, prometheus.CounterValue, float64(atomic.LoadUint64(&m.deadCount)))
	ch <- prometheus.MustNewConstMetric(m.active, prometheus.GaugeValue, float64(atomic.LoadInt64(&m.activeCount)))
	ch <- prometheus.MustNewConstMetric(m.staleRst, prometheus.CounterValue, float64(atomic.LoadInt64(&m.staleCount)))
	ch <- prometheus.MustNewConstMetric(m.retryRst, prometheus.CounterValue, float64(atomic.LoadInt64(&m.retryCount)))
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS - maintained live by the consumption loop

func (m *queueMetrics) incClaim() { atomic.AddUint64(&m.claimCount, 1) }
func (m *queueMetrics) incAck()   { atomic.AddUint64(&m.ackCount, 1) }
func (m *queueMetrics) incNack() { atomic.AddUint64(&m.nackCount, 1) }
func (m *queueMetrics) incDeadLetter() {
	atomic.AddUint64(&m.deadCount, 1)
}
func (m *queueMetrics) setActiveWorkers(n int64) { atomic.StoreInt64(&m.activeCount, n) }
func (m *queueMetrics) addStaleReset(n int64)    { atomic.AddInt64(&m.staleCount, n) }
func (m *queueMetrics) addRetryReset(n int64)    { atomic.AddInt64(&m.retryCount, n) }
