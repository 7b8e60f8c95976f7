// Package metrics expõe contadores Prometheus do serviço em /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heal_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ConsultationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heal_consultations_created_total",
			Help: "Consultations registered by staff",
		},
	)

	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heal_status_transitions_total",
			Help: "Consultation status changes, by origin (staff, patient, override)",
		},
		[]string{"from", "to", "source"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heal_notifications_total",
			Help: "Confirmation link deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPDuration, ConsultationsCreated, StatusTransitions, Notifications)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
