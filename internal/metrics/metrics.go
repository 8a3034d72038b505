// Package metrics exposes the crawl's Prometheus instrumentation against a
// private registry (never the global default, so multiple Collectors in
// the same test binary don't collide) and serves it over plain HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric this core records, named per spec.md's
// metrics contract under the jooya_ prefix.
type Collector struct {
	registry *prometheus.Registry

	workerProcessed *prometheus.CounterVec
	workerFailed    *prometheus.CounterVec
	workerActive    *prometheus.GaugeVec
	requests        *prometheus.CounterVec
	failedRequests  *prometheus.CounterVec
	crawledPages    *prometheus.CounterVec
	skippedLinks    *prometheus.CounterVec
	queuePending    prometheus.Gauge
	requestLatency  *prometheus.HistogramVec
}

// New builds a Collector and registers every metric against a fresh
// private registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		workerProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jooya_worker_processed_total",
			Help: "Tasks a worker completed, successfully or not.",
		}, []string{"worker_id"}),
		workerFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jooya_worker_failed_total",
			Help: "Tasks a worker's processing loop itself errored on.",
		}, []string{"worker_id"}),
		workerActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jooya_worker_active",
			Help: "1 while a worker goroutine is running, 0 once it exits.",
		}, []string{"worker_id"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jooya_requests_total",
			Help: "HTTP fetches attempted.",
		}, []string{"worker"}),
		failedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jooya_failed_requests_total",
			Help: "HTTP fetches that transport-errored or returned a 4xx/5xx status.",
		}, []string{"worker"}),
		crawledPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jooya_crawled_pages_total",
			Help: "Pages successfully fetched, extracted, and persisted.",
		}, []string{"worker"}),
		skippedLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jooya_skipped_links_total",
			Help: "Links dropped before or after fetch, by reason.",
		}, []string{"reason"}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jooya_queue_pending",
			Help: "Frontier rows currently eligible for dequeue.",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jooya_request_latency_seconds",
			Help:    "Fetch round-trip time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
	}

	registry.MustRegister(
		c.workerProcessed,
		c.workerFailed,
		c.workerActive,
		c.requests,
		c.failedRequests,
		c.crawledPages,
		c.skippedLinks,
		c.queuePending,
		c.requestLatency,
	)

	return c
}

// Handler returns the HTTP handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) IncWorkerProcessed(workerID string) { c.workerProcessed.WithLabelValues(workerID).Inc() }
func (c *Collector) IncWorkerFailed(workerID string)    { c.workerFailed.WithLabelValues(workerID).Inc() }

// SetWorkerActive records 1 while a worker's loop is running, 0 once it
// has returned.
func (c *Collector) SetWorkerActive(workerID string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	c.workerActive.WithLabelValues(workerID).Set(v)
}

func (c *Collector) IncRequests(worker string)       { c.requests.WithLabelValues(worker).Inc() }
func (c *Collector) IncFailedRequests(worker string) { c.failedRequests.WithLabelValues(worker).Inc() }
func (c *Collector) IncCrawledPages(worker string)   { c.crawledPages.WithLabelValues(worker).Inc() }
func (c *Collector) IncSkippedLinks(reason string)   { c.skippedLinks.WithLabelValues(reason).Inc() }

// SetQueuePending sets the frontier-pending gauge, sampled periodically by
// the supervisor rather than pushed per-enqueue.
func (c *Collector) SetQueuePending(n int) { c.queuePending.Set(float64(n)) }

// ObserveRequestLatency records one fetch's round-trip time.
func (c *Collector) ObserveRequestLatency(worker string, d time.Duration) {
	c.requestLatency.WithLabelValues(worker).Observe(d.Seconds())
}
