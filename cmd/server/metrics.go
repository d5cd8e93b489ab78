package main

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sehlabs.com/mvccdb/internal/db"
)

const metricsNamespace = "mvccdb"

type metrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	conflicts prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, d *db.Database) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "HTTP requests handled, by operation and status code.",
		}, []string{"op", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling HTTP requests, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_conflicts_total",
			Help:      "Writes that failed with a write conflict, including those later retried.",
		}),
	}
	txm := d.TxManager()
	reg.MustRegister(
		m.requests,
		m.latency,
		m.conflicts,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_transactions",
			Help:      "Transactions begun but not yet committed or aborted.",
		}, func() float64 {
			return float64(txm.ActiveCount())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "oldest_active_transaction_id",
			Help:      "ID of the oldest transaction still active, or zero when none are.",
		}, func() float64 {
			id, _ := txm.OldestActive()
			return float64(id)
		}),
	)
	return m
}

func (m *metrics) observe(op string, code int, began time.Time) {
	m.requests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(began).Seconds())
}
