// Package observability exposes the process's Prometheus metrics, health
// checks, and the opt-in local HTTP server that serves them. Nothing here is
// required for sync correctness; it exists so sync failures are diagnosable
// without interrupting the interactive flow.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync engine metrics
	syncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_sync_total",
			Help: "Total number of sync executions",
		},
		[]string{"from", "to", "status"},
	)

	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tandem_sync_duration_seconds",
			Help:    "Sync execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"from", "to"},
	)

	syncedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_sync_items_total",
			Help: "Total number of messages propagated across providers",
		},
		[]string{"from", "to"},
	)

	// Registry metrics
	registryLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tandem_registry_lock_wait_seconds",
			Help:    "Time spent waiting for the cross-process registry lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_active_sessions",
			Help: "Number of active sessions in the registry",
		},
	)

	// Watch daemon metrics
	watchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_watch_events_total",
			Help: "Total number of filesystem events observed per provider",
		},
		[]string{"provider"},
	)

	watchSyncsThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_watch_syncs_throttled_total",
			Help: "Sync triggers dropped by the daemon rate limiter",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			syncTotal,
			syncDuration,
			syncedItems,
			registryLockWait,
			activeSessions,
			watchEventsTotal,
			watchSyncsThrottled,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSync records one sync execution outcome.
func RecordSync(from, to, status string, duration time.Duration) {
	syncTotal.WithLabelValues(from, to, status).Inc()
	syncDuration.WithLabelValues(from, to).Observe(duration.Seconds())
}

// RecordSyncedItems records propagated message counts.
func RecordSyncedItems(from, to string, count int) {
	if count > 0 {
		syncedItems.WithLabelValues(from, to).Add(float64(count))
	}
}

// RecordRegistryLockWait records time spent acquiring the registry lock.
func RecordRegistryLockWait(duration time.Duration) {
	registryLockWait.Observe(duration.Seconds())
}

// SetActiveSessions sets the active sessions gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// RecordWatchEvent records one filesystem event for a provider store.
func RecordWatchEvent(provider string) {
	watchEventsTotal.WithLabelValues(provider).Inc()
}

// RecordThrottledSync records a sync trigger dropped by the rate limiter.
func RecordThrottledSync() {
	watchSyncsThrottled.Inc()
}
