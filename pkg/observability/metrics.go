package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Snapshot metrics
	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traindeck_snapshots_total",
			Help: "Total number of session snapshots taken",
		},
		[]string{"reason", "status"},
	)

	snapshotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "traindeck_snapshot_duration_seconds",
			Help:    "Snapshot creation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"reason"},
	)

	snapshotsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traindeck_snapshots_cleaned_total",
			Help: "Total number of expired snapshots deleted by cleanup sweeps",
		},
	)

	// Recovery metrics
	recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traindeck_recoveries_total",
			Help: "Total number of session recovery attempts",
		},
		[]string{"type"},
	)

	recoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "traindeck_recovery_duration_seconds",
			Help:    "End-to-end session recovery duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Connection metrics
	trackedConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "traindeck_tracked_connections",
			Help: "Number of currently tracked session connections",
		},
	)

	heartbeatTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traindeck_heartbeat_timeouts_total",
			Help: "Total number of connections timed out by the heartbeat monitor",
		},
	)

	sessionsAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traindeck_sessions_abandoned_total",
			Help: "Total number of sessions abandoned after the recovery window elapsed",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			snapshotsTotal,
			snapshotDuration,
			snapshotsCleaned,
			recoveriesTotal,
			recoveryDuration,
			trackedConnections,
			heartbeatTimeouts,
			sessionsAbandoned,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSnapshot records a snapshot attempt
func RecordSnapshot(reason, status string, duration time.Duration) {
	snapshotsTotal.WithLabelValues(reason, status).Inc()
	snapshotDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// RecordRecovery records a recovery attempt outcome
func RecordRecovery(recoveryType string, duration time.Duration) {
	recoveriesTotal.WithLabelValues(recoveryType).Inc()
	recoveryDuration.Observe(duration.Seconds())
}

// AddSnapshotsCleaned records snapshots removed by a cleanup sweep
func AddSnapshotsCleaned(count int) {
	snapshotsCleaned.Add(float64(count))
}

// SetTrackedConnections sets the tracked connections gauge
func SetTrackedConnections(count int) {
	trackedConnections.Set(float64(count))
}

// RecordHeartbeatTimeout records a monitor-detected connection timeout
func RecordHeartbeatTimeout() {
	heartbeatTimeouts.Inc()
}

// RecordSessionAbandoned records a recovery-window expiry abandonment
func RecordSessionAbandoned() {
	sessionsAbandoned.Inc()
}
