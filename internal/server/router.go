package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/klaviyo-relay/internal/handlers"
	"github.com/telhawk-systems/klaviyo-relay/internal/metrics"
	"github.com/telhawk-systems/klaviyo-relay/internal/middleware"
)

// NewRouter constructs a ServeMux with relay API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Events
	mux.HandleFunc("POST /api/v1/events", h.CreateEvent)
	mux.HandleFunc("POST /api/v1/events/bulk", h.CreateBulkEvents)
	mux.HandleFunc("GET /api/v1/events", h.ListEvents)

	// Analytics
	mux.HandleFunc("GET /api/v1/analytics/events", h.AllEvents)
	mux.HandleFunc("GET /api/v1/analytics/events-by-email-date", h.EventsByEmailAndDate)

	// Metrics
	mux.HandleFunc("GET /api/v1/metrics", h.ListMetrics)
	mux.HandleFunc("GET /api/v1/metrics/counts", h.MetricCounts)
	mux.HandleFunc("GET /api/v1/metrics/by-name", h.MetricByName)

	// Profiles
	mux.HandleFunc("GET /api/v1/profiles", h.ProfileByEmail)
	mux.HandleFunc("GET /api/v1/profiles/metrics", h.ProfileMetrics)
	mux.HandleFunc("POST /api/v1/profiles/merge", h.MergeProfiles)

	// Health and Prometheus
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(middleware.Metrics(metrics.HTTPRequestsTotal)(mux))
}
