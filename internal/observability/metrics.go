package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RideTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status transitions by outcome"},
		[]string{"from", "to", "result"},
	)
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignments_total", Help: "Driver assignment attempts by outcome"},
		[]string{"result"},
	)
	OffersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "Ride offers pushed to drivers"},
		[]string{"result"},
	)
	LocationUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Driver location updates by outcome"},
		[]string{"result"},
	)
	EmergencyAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "emergency_alerts_total", Help: "Emergency corridor alerts by outcome"},
		[]string{"result"},
	)
	BackgroundTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "background_tasks_total", Help: "Background tasks by name and outcome"},
		[]string{"task", "result"},
	)
	CorridorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "corridor_detection_seconds",
		Help:      "Time spent detecting and alerting users ahead of an emergency vehicle",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
