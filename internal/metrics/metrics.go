// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Health probe metrics
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_probes_total",
			Help: "Total number of health probes issued",
		},
		[]string{"endpoint", "result"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failsafe_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Failover metrics
	failoverTransitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "failsafe_failover_transitions_total",
			Help: "Total number of active-endpoint transitions",
		},
	)

	healthyEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failsafe_endpoints_healthy",
			Help: "Number of endpoints currently healthy",
		},
	)

	// Replication metrics
	replicationLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failsafe_replication_lag_seconds",
			Help: "Observed replication lag per region",
		},
		[]string{"region"},
	)

	replicationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_replication_errors_total",
			Help: "Total number of replication loop errors",
		},
		[]string{"region"},
	)

	// Backup metrics
	backupBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "failsafe_backup_bytes_total",
			Help: "Total bytes captured by completed backups",
		},
	)

	backupJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_backup_jobs_total",
			Help: "Total backup jobs by terminal status",
		},
		[]string{"status"},
	)

	// DR test metrics
	drTestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_drtest_runs_total",
			Help: "Total DR test scenario executions",
		},
		[]string{"category", "status"},
	)
)

// RecordProbe records a single health probe outcome.
func RecordProbe(endpoint, result string, duration time.Duration) {
	probesTotal.WithLabelValues(endpoint, result).Inc()
	probeDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordFailover records an active-endpoint transition.
func RecordFailover() {
	failoverTransitionsTotal.Inc()
}

// SetHealthyEndpoints records the healthy endpoint count after a cycle.
func SetHealthyEndpoints(n int) {
	healthyEndpoints.Set(float64(n))
}

// SetReplicationLag records observed lag for a region.
func SetReplicationLag(region string, lag time.Duration) {
	replicationLag.WithLabelValues(region).Set(lag.Seconds())
}

// RecordReplicationError records a failed replication iteration.
func RecordReplicationError(region string) {
	replicationErrorsTotal.WithLabelValues(region).Inc()
}

// RecordBackupJob records a terminal backup job.
func RecordBackupJob(status string, bytes int64) {
	backupJobsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		backupBytesTotal.Add(float64(bytes))
	}
}

// RecordDRTest records a completed DR test scenario.
func RecordDRTest(category, status string) {
	drTestRunsTotal.WithLabelValues(category, status).Inc()
}
