package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Remote API metrics
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_remote_requests_total",
			Help: "Total number of requests sent to the Klaviyo API",
		},
		[]string{"method", "resource", "status"},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "klaviyo_relay_remote_request_duration_seconds",
			Help:    "Duration of Klaviyo API calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "resource"},
	)

	RemoteRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_remote_retries_total",
			Help: "Total number of retried Klaviyo API calls",
		},
		[]string{"resource"},
	)

	PagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_pages_fetched_total",
			Help: "Total number of collection pages fetched",
		},
		[]string{"resource"},
	)

	PaginationStopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_pagination_guard_stops_total",
			Help: "Pagination runs stopped by the repeated-cursor or page-limit guard",
		},
		[]string{"reason"},
	)

	// Profile cache metrics
	ProfileLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_profile_lookups_total",
			Help: "Profile email resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// Aggregation metrics
	MetricSummaryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_metric_summary_failures_total",
			Help: "Per-metric windowed queries that failed and were reported as data",
		},
	)

	FullScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_full_scans_total",
			Help: "Unbounded event collection scans",
		},
	)

	// Dispatch metrics
	DispatchedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_dispatched_events_total",
			Help: "Outbound events by mode and result",
		},
		[]string{"mode", "result"},
	)

	// Retention metrics
	SweptRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_swept_rows_total",
			Help: "Event log rows removed by the retention sweep",
		},
	)

	SweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_sweep_errors_total",
			Help: "Retention sweeps that failed",
		},
	)

	// HTTP surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_relay_http_requests_total",
			Help: "Inbound HTTP requests",
		},
		[]string{"route", "status"},
	)
)
