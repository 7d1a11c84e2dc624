package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestql_http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"method", "route", "status"},
	)

	// Declaring a relation fetches every page before the response is
	// written, so the buckets reach well past the default 10s.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvestql_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)

	httpErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestql_http_errors_total",
			Help: "Error envelopes written by the API, by error code.",
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpErrorsTotal)
}

// ObserveErrorCode counts an error envelope such as HARVEST_UNAVAILABLE or
// RELATION_NOT_FOUND.
func ObserveErrorCode(code string) {
	httpErrorsTotal.WithLabelValues(code).Inc()
}
