// Package metrics holds the Prometheus collectors of the chat relay
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connections",
			Help: "Live realtime connections",
		},
		[]string{"kind"}, // "customer" or "staff"
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages stored",
		},
		[]string{"sender"},
	)

	AutoRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_autoreplies_total",
			Help: "Automated reply outcomes",
		},
		[]string{"outcome"}, // sent, suppressed, disabled, failed
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Inbound realtime events by result",
		},
		[]string{"event", "result"},
	)

	DroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_dropped_outbound_events_total",
			Help: "Outbound events dropped for slow or closed connections",
		},
	)

	StaffAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_staff_alerts_total",
			Help: "Staff alerts by result",
		},
		[]string{"result"},
	)

	// Infrastructure metrics
	AuditPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_audit_rows_purged_total",
			Help: "Audit log rows removed by the watchdog",
		},
	)
)
