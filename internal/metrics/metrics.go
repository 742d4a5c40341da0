// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_hits_total",
			Help: "Total deduplication cache hits, labeled by entry match state.",
		},
		[]string{"result"},
	)
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_cache_misses_total",
		Help: "Total deduplication cache misses.",
	})
	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_total",
		Help: "Total listing pages processed across jobs.",
	})
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Total items processed, labeled by how they were resolved.",
		},
		[]string{"source"},
	)
	batchesFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_batches_flushed_total",
		Help: "Total batch output files written.",
	})
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_jobs_total",
			Help: "Total batch jobs run by the orchestrator, labeled by status.",
		},
		[]string{"status"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCacheHit increments the hit counter for a match state
// ("matched" or "unmatched").
func ObserveCacheHit(result string) {
	cacheHitsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheMiss increments the miss counter.
func ObserveCacheMiss() {
	cacheMissesTotal.Inc()
}

// ObservePage increments the processed-pages counter.
func ObservePage() {
	pagesTotal.Inc()
}

// ObserveItem increments the item counter for a resolution source
// ("cached", "promoted", "fetched", or "error").
func ObserveItem(source string) {
	itemsTotal.WithLabelValues(source).Inc()
}

// ObserveBatchFlush increments the flushed-batches counter.
func ObserveBatchFlush() {
	batchesFlushedTotal.Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}
