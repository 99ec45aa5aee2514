// Package telemetry holds the process-wide Prometheus registry and the
// instruments for the command front end. Engine-level signals (hits,
// misses, evictions, sizes) flow through store.Metrics instead; wire
// them with metrics/prom.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "userkv",
			Name:      "commands_total",
			Help:      "Total number of commands processed.",
		},
		[]string{"op", "status"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "userkv",
			Name:      "command_duration_seconds",
			Help:      "Latency of command processing.",
			// Covers 10us .. ~40ms; commands are in-memory.
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 13),
		},
		[]string{"op"},
	)

	ConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "userkv",
			Name:      "connections_open",
			Help:      "Current number of open client connections.",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "userkv",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "userkv",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(CommandsTotal, CommandDuration, ConnectionsOpen, buildInfo, uptime)
}

// MetricsHandler exposes /metrics. Mount it with
// mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with
// ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ObserveCommand records one processed command under the op and status
// labels with its processing latency.
func ObserveCommand(op, status string, d time.Duration) {
	CommandsTotal.WithLabelValues(op, status).Inc()
	CommandDuration.WithLabelValues(op).Observe(d.Seconds())
}
