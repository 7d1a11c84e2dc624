package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestql_export_retention_runs_total",
			Help: "Total number of export retention runs by status.",
		},
		[]string{"status"},
	)
	exportsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvestql_exports_deleted_total",
			Help: "Total number of export objects removed by retention.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestql_export_integrity_runs_total",
			Help: "Total number of export integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityObjectsCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvestql_export_integrity_objects_checked_total",
			Help: "Total number of export objects checked by integrity validation.",
		},
	)
	integrityMissingObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvestql_export_integrity_missing_objects_total",
			Help: "Total number of recorded exports whose object is missing.",
		},
	)
	integritySizeMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvestql_export_integrity_size_mismatch_total",
			Help: "Total number of export objects whose size differs from the catalog.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		exportsDeletedTotal,
		integrityRunsTotal,
		integrityObjectsCheckedTotal,
		integrityMissingObjectsTotal,
		integritySizeMismatchTotal,
	)
}
