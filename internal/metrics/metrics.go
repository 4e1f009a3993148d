// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportdesk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Routing metrics
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_messages_routed_total",
			Help: "Total messages accepted by the router",
		},
		[]string{"direction"}, // "to_admin", "to_user"
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_messages_rejected_total",
			Help: "Total messages rejected before storage",
		},
		[]string{"reason"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_deliveries_total",
			Help: "Total live push attempts",
		},
		[]string{"result"}, // "ok", "failed"
	)

	FramesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_frames_discarded_total",
			Help: "Total inbound connection frames discarded",
		},
		[]string{"reason"},
	)

	// Registry metrics
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportdesk_connected_users",
			Help: "End users with a live connection",
		},
	)

	ConnectedAdmins = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportdesk_connected_admins",
			Help: "Live admin connections",
		},
	)

	// Storage metrics
	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_transcript_persist_failures_total",
			Help: "Transcript writes the durable backend rejected",
		},
		[]string{"driver"},
	)

	PersistLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportdesk_transcript_persist_latency_seconds",
			Help:    "Transcript backend write latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"driver"},
	)
)
