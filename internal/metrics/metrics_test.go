package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollector_ExposesRegisteredMetrics(t *testing.T) {
	c := New()
	c.IncWorkerProcessed("worker-0")
	c.IncWorkerFailed("worker-0")
	c.SetWorkerActive("worker-0", true)
	c.IncRequests("worker-0")
	c.IncFailedRequests("worker-0")
	c.IncCrawledPages("worker-0")
	c.IncSkippedLinks("robots_disallowed")
	c.SetQueuePending(42)
	c.ObserveRequestLatency("worker-0", 250*time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"jooya_worker_processed_total",
		"jooya_worker_failed_total",
		"jooya_worker_active",
		"jooya_requests_total",
		"jooya_failed_requests_total",
		"jooya_crawled_pages_total",
		"jooya_skipped_links_total",
		"jooya_queue_pending 42",
		"jooya_request_latency_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestCollector_SeparateRegistriesDoNotCollide(t *testing.T) {
	// A second Collector must not panic on duplicate registration against
	// the Prometheus default registry, since New uses a private one.
	_ = New()
	_ = New()
}
