package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ImportCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_imports_total", Help: "Import jobs created"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_rate_limit_rejects_total", Help: "Import requests rejected by rate limiter"})
	ItemsCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_items_completed_total", Help: "Job items completed successfully"})
	ItemsRetried     = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_items_retried_total", Help: "Job item failures scheduled for retry"})
	ItemsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_items_failed_total", Help: "Job items terminally errored"})
	ItemsRecovered   = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_items_recovered_total", Help: "Stuck in-progress items reset to pending"})
	SyncUploads      = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_sync_uploads_total", Help: "Syncs that uploaded a snapshot"})
	SyncNoChange     = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_sync_nochange_total", Help: "Syncs skipped because remote matched local"})
	SyncErrors       = prometheus.NewCounter(prometheus.CounterOpts{Name: "linkhoard_sync_errors_total", Help: "Syncs that ended in error"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "linkhoard_items_inflight", Help: "Job items currently being processed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ImportCounter,
			RateLimitRejects,
			ItemsCompleted,
			ItemsRetried,
			ItemsFailed,
			ItemsRecovered,
			SyncUploads,
			SyncNoChange,
			SyncErrors,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
