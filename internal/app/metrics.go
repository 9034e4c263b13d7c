// Metric definitions for the API. Registered with the default
// Prometheus registry at init; cmd/api exposes them on /metrics.
package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sentinel"

// RequestsTotal counts HTTP requests by method, route group and status.
var RequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests handled.",
	},
	[]string{"method", "route", "status"},
)

// RequestDuration measures request latency by route group.
var RequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP request handling.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

// TimersRunning tracks the number of currently open time entries.
var TimersRunning = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "timers_running",
		Help:      "Number of currently running time entries.",
	},
)

// TreeMutationsTotal counts structural matter operations by kind and
// outcome.
var TreeMutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "tree_mutations_total",
		Help:      "Total number of matter move/merge/share operations.",
	},
	[]string{"kind", "outcome"},
)
