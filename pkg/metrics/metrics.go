// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	StreamMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nids_watch_stream_messages_total",
			Help: "Stream frames received, by decode result",
		},
		[]string{"result"}, // accepted, malformed, invalid
	)

	StreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nids_watch_stream_connected",
			Help: "1 while the telemetry stream is connected",
		},
	)

	MonitorRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nids_watch_monitor_restarts_total",
			Help: "Restarts of long-running monitors after they returned",
		},
		[]string{"monitor"},
	)

	AnomaliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nids_watch_anomalies_total",
			Help: "Anomaly events received on the stream",
		},
	)

	// Mitigation metrics
	MitigationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nids_watch_mitigation_requests_total",
			Help: "Mitigation requests by outcome",
		},
		[]string{"outcome"}, // success, failure, stale
	)

	MitigationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nids_watch_mitigation_duration_seconds",
			Help:    "Mitigation request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nids_watch_actions_total",
			Help: "Dashboard actions by name and outcome",
		},
		[]string{"action", "outcome"},
	)

	// View metrics
	ViewClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nids_watch_view_clients",
			Help: "Connected dashboard websocket clients",
		},
	)

	// Process metrics
	ProcessRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nids_watch_process_rss_bytes",
			Help: "Resident set size of the dashboard process",
		},
	)

	ProcessCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nids_watch_process_cpu_percent",
			Help: "CPU usage of the dashboard process",
		},
	)

	ProcessGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nids_watch_process_goroutines",
			Help: "Goroutines in the dashboard process",
		},
	)
)
