package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	materializeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestql_relation_materialize_total",
			Help: "Total number of relation materializations by coverage and outcome.",
		},
		[]string{"coverage", "outcome"},
	)
	materializeDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvestql_relation_materialize_duration_ms",
			Help:    "Time to fetch and map every page of a relation in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)
	pagesFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvestql_pages_fetched_total",
			Help: "Total number of pages fetched from the telemetry service.",
		},
	)
	recordsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvestql_records_fetched_total",
			Help: "Total number of records fetched from the telemetry service.",
		},
	)
	activeRelations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvestql_active_relations",
			Help: "Current number of materialized relations held in memory.",
		},
	)
	cursorsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvestql_cursors_opened_total",
			Help: "Total number of scan cursors opened over materialized relations.",
		},
	)
	truncatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestql_relation_truncated_total",
			Help: "Materializations cut short by the record limit, by coverage.",
		},
		[]string{"coverage"},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestql_exports_total",
			Help: "Total number of relation exports by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		materializeTotal,
		materializeDurationMs,
		pagesFetchedTotal,
		recordsFetchedTotal,
		activeRelations,
		cursorsOpenedTotal,
		truncatedTotal,
		exportsTotal,
	)
}

func ObserveMaterialize(coverage string, pages, records int, truncated bool, elapsed time.Duration, err error) {
	materializeTotal.WithLabelValues(coverage, outcome(err)).Inc()
	if truncated && err == nil {
		truncatedTotal.WithLabelValues(coverage).Inc()
	}
	materializeDurationMs.Observe(float64(elapsed.Milliseconds()))
	if pages > 0 {
		pagesFetchedTotal.Add(float64(pages))
	}
	if records > 0 {
		recordsFetchedTotal.Add(float64(records))
	}
}

func AddActiveRelations(delta int) {
	activeRelations.Add(float64(delta))
}

func IncrementCursorsOpened() {
	cursorsOpenedTotal.Inc()
}

func ObserveExport(err error) {
	exportsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
