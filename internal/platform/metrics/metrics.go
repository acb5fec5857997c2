// Package metrics registers the Prometheus collectors exported on /metrics.
//
// HTTP metrics are labelled by chi route pattern rather than the raw URL so
// location and member ids do not blow up label cardinality.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routemate",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "routemate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies, by method and route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// AuthSyncTransitions counts authorization phase changes by target phase.
	AuthSyncTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routemate",
			Name:      "authsync_transitions_total",
			Help:      "Authorization sync phase transitions, by resulting phase.",
		},
		[]string{"phase"},
	)

	// AuthSyncStaleDrops counts callbacks discarded because their generation was superseded.
	AuthSyncStaleDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routemate",
			Name:      "authsync_stale_results_total",
			Help:      "Late profile or claims results dropped by the authorization sync, by source.",
		},
		[]string{"source"},
	)

	AuthStateStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "routemate",
			Name:      "auth_state_streams",
			Help:      "Currently connected auth-state websocket streams.",
		},
	)

	ImageUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routemate",
			Name:      "location_image_uploads_total",
			Help:      "Location photo uploads, by result.",
		},
		[]string{"result"},
	)
)
