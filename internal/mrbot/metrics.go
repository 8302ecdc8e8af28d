package mrbot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for outbound Mr. Bot API calls. Every call consumes
// user quota, so the counters double as a quota audit trail.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrbot_requests_total",
		Help: "Total Mr. Bot API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mrbot_request_duration_seconds",
		Help:    "Mr. Bot API request duration in seconds by endpoint",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrbot_errors_total",
		Help: "Total Mr. Bot API errors by class",
	}, []string{"class"})
)
