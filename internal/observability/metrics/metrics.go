// Package metrics provides Prometheus metrics for newsbot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsbot"

var (
	// FetchTotal counts content fetches per source and outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Total number of content fetches",
		},
		[]string{"source", "status"},
	)

	// FetchDuration measures content fetch latency.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of content fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// DeliveriesTotal counts per-subscriber sends by kind and outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of per-subscriber message sends",
		},
		[]string{"kind", "status"},
	)

	// RunsTotal counts scheduler dispatches and monitor broadcasts by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of dispatch and broadcast runs",
		},
		[]string{"kind", "outcome"},
	)

	// MonitorNewItems counts novel items discovered by the monitor.
	MonitorNewItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_new_items_total",
			Help:      "Total number of novel items detected by the monitor",
		},
	)

	// MonitorBuffer tracks the current monitor buffer size.
	MonitorBuffer = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_buffer_items",
			Help:      "Items waiting in the monitor buffer",
		},
	)

	// MonitorSeen tracks the size of the monitor seen-set.
	MonitorSeen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_seen_fingerprints",
			Help:      "Fingerprints currently held in the monitor seen-set",
		},
	)

	// Subscribers tracks registry size by state.
	Subscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Registered subscribers by state",
		},
		[]string{"state"},
	)

	// GoroutineRestarts counts supervised goroutine restarts.
	GoroutineRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goroutine_restarts_total",
			Help:      "Total number of supervised goroutine restarts",
		},
		[]string{"name"},
	)
)

// RecordFetch records one content fetch.
func RecordFetch(source string, err error, took time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	FetchTotal.WithLabelValues(source, status).Inc()
	FetchDuration.WithLabelValues(source).Observe(took.Seconds())
}

// RecordDelivery records the aggregate outcome of one fan-out.
func RecordDelivery(kind string, sent, failed int) {
	DeliveriesTotal.WithLabelValues(kind, "sent").Add(float64(sent))
	DeliveriesTotal.WithLabelValues(kind, "failed").Add(float64(failed))
}

// RecordRun records a dispatch or broadcast outcome.
func RecordRun(kind, outcome string) {
	RunsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetMonitorState publishes the monitor gauges.
func SetMonitorState(seen, buffered int) {
	MonitorSeen.Set(float64(seen))
	MonitorBuffer.Set(float64(buffered))
}

// SetSubscribers publishes registry gauges.
func SetSubscribers(enabled, disabled int) {
	Subscribers.WithLabelValues("enabled").Set(float64(enabled))
	Subscribers.WithLabelValues("disabled").Set(float64(disabled))
}

// RecordRestart is a supervisor restart hook.
func RecordRestart(name string) {
	GoroutineRestarts.WithLabelValues(name).Inc()
}
