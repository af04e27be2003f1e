// Package metric provides Prometheus metrics for the MQTT dispatch core:
// platform counters mirroring the statistics aggregator, a registry that
// owns a private prometheus.Registry, and an HTTP server exposing it.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics for the dispatch core
type Metrics struct {
	// Dispatch metrics
	MessagesReceived  prometheus.Counter
	PipelinesExecuted *prometheus.CounterVec
	DispatchErrors    *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec

	// Subscription metrics
	SubscriptionsActive prometheus.Gauge

	// Broker metrics
	BrokerConnected  prometheus.Gauge
	BrokerReconnects prometheus.Counter

	// Job queue metrics
	JobsEnqueued prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flowerpower",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of MQTT messages received",
			},
		),

		PipelinesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowerpower",
				Subsystem: "pipelines",
				Name:      "executed_total",
				Help:      "Total number of pipeline dispatches (sync executions and accepted background jobs)",
			},
			[]string{"pipeline", "mode"},
		),

		DispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowerpower",
				Subsystem: "dispatch",
				Name:      "errors_total",
				Help:      "Total number of dispatch failures",
			},
			[]string{"pipeline", "kind"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flowerpower",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "flowerpower",
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Number of active topic subscriptions",
			},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "flowerpower",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flowerpower",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnects",
			},
		),

		JobsEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flowerpower",
				Subsystem: "jobs",
				Name:      "enqueued_total",
				Help:      "Total number of background jobs accepted by the queue",
			},
		),
	}
}
