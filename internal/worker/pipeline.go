// Package worker implements the crawl loop a single goroutine runs
// repeatedly: lease a task from the frontier, respect robots.txt and
// per-domain politeness, fetch under the bounded-memory contract, extract
// and persist, and enqueue discovered links for the next pass.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jooya/radarcrawl/internal/frontier"
	"github.com/jooya/radarcrawl/internal/htmlx"
	"github.com/jooya/radarcrawl/internal/memwatch"
	"github.com/jooya/radarcrawl/internal/metrics"
	"github.com/jooya/radarcrawl/internal/policy"
	"github.com/jooya/radarcrawl/internal/robots"
	"github.com/jooya/radarcrawl/internal/store/mongostore"
	"github.com/jooya/radarcrawl/internal/store/postgres"
	"github.com/jooya/radarcrawl/internal/urlutil"
)

// Config configures the behavior every Pipeline worker shares.
type Config struct {
	UserAgent        string
	AcceptLanguage   string
	MaxDownloadBytes int64
	RequestTimeout   time.Duration
	BaseDomain       string // exact-match domain all discovered links are filtered against
	Concurrency      int
}

// Pipeline wires the frontier, the domain policy controller, the robots
// cache, HTML extraction, and both stores into the 14-step crawl loop.
// Grounded on the teacher's Crawler/errgroup worker pool, generalized
// from a BFS link checker's job-channel handoff to a DB-backed lease
// queue: no in-process job channel is needed because Dequeue itself is
// the coordination point.
type Pipeline struct {
	cfg     Config
	client  *http.Client
	queue   *frontier.Queue
	policy  *policy.Controller
	robots  *robots.Cache
	raw     *mongostore.Store
	pool    postgres.DB
	mem     *memwatch.MemoryWatcher
	metrics *metrics.Collector
	log     zerolog.Logger
}

// New builds a Pipeline. pool is the narrow postgres.DB interface so the
// same Pipeline can be exercised against pgxmock in tests.
func New(
	cfg Config,
	client *http.Client,
	queue *frontier.Queue,
	ctrl *policy.Controller,
	robotsCache *robots.Cache,
	raw *mongostore.Store,
	pool postgres.DB,
	mem *memwatch.MemoryWatcher,
	collector *metrics.Collector,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		client:  client,
		queue:   queue,
		policy:  ctrl,
		robots:  robotsCache,
		raw:     raw,
		pool:    pool,
		mem:     mem,
		metrics: collector,
		log:     log.With().Str("component", "worker").Logger(),
	}
}

// Run starts cfg.Concurrency worker goroutines, each looping ProcessOne
// until ctx is canceled or the page cap is reached. A worker that finds
// the frontier empty sleeps idleBackoff and tries again.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := range p.cfg.Concurrency {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return p.loop(gctx, workerID)
		})
	}

	return g.Wait()
}

const idleBackoff = 2 * time.Second

func (p *Pipeline) loop(ctx context.Context, workerID string) error {
	p.metrics.SetWorkerActive(workerID, true)
	defer p.metrics.SetWorkerActive(workerID, false)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if p.queue.PageCapReached() {
			p.log.Info().Str("worker", workerID).Msg("page cap reached, worker exiting")
			return nil
		}

		if _, level := p.mem.Check(); level == memwatch.ThrottleCritical {
			if err := sleepContext(ctx, idleBackoff); err != nil {
				return nil
			}
			continue
		}

		processed, err := p.ProcessOne(ctx, workerID)
		if err != nil {
			p.log.Error().Err(err).Str("worker", workerID).Msg("process one task")
			p.metrics.IncWorkerFailed(workerID)
			continue
		}
		if !processed {
			if err := sleepContext(ctx, idleBackoff); err != nil {
				return nil
			}
			continue
		}
		p.metrics.IncWorkerProcessed(workerID)
	}
}

// ProcessOne runs one full pass of the 14-step loop. Returns false (no
// error) when the frontier currently has nothing eligible to lease.
func (p *Pipeline) ProcessOne(ctx context.Context, workerID string) (bool, error) {
	// Step 1: dequeue.
	task, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if task == nil {
		return false, nil
	}

	// Step 2: off-domain guard. The frontier can carry rows enqueued before
	// a BaseDomain change or from a misbehaving source; drop them as done
	// rather than fetch off-scope content.
	if p.cfg.BaseDomain != "" && urlutil.GetDomain(task.URL) != p.cfg.BaseDomain {
		return true, p.queue.MarkDone(ctx, task.ID, 0)
	}

	// Step 3: robots.txt.
	if !p.robots.Allowed(ctx, task.URL) {
		p.metrics.IncSkippedLinks("robots_disallowed")
		return true, p.queue.MarkDone(ctx, task.ID, 0)
	}

	// Step 4: politeness wait.
	if err := p.policy.WaitTurn(ctx, task.URL); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		return false, fmt.Errorf("wait turn: %w", err)
	}

	// Step 5: fetch.
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, task.URL, nil)
	if err != nil {
		return true, p.recordFailure(ctx, task, 0, "request_build_error", postgres.ErrorUnexpected, err)
	}

	start := time.Now()
	outcome := Fetch(p.client, req, FetchConfig{
		UserAgent:        p.cfg.UserAgent,
		AcceptLanguage:   p.cfg.AcceptLanguage,
		MaxDownloadBytes: p.cfg.MaxDownloadBytes,
	})
	rtt := time.Since(start)
	p.policy.ObserveFetchLatency(task.URL, rtt)
	p.metrics.ObserveRequestLatency(workerID, rtt)
	p.metrics.IncRequests(workerID)

	// Step 6: transport failure.
	if outcome.Err != nil {
		p.metrics.IncFailedRequests(workerID)
		category := classifyFetchError(outcome.Err)
		return true, p.recordFailure(ctx, task, outcome.StatusCode, "fetch_error", category, outcome.Err)
	}

	// Step 7: intentional skip (too large / wrong content-type / redirect loop).
	if outcome.SkipReason != "" {
		p.metrics.IncSkippedLinks(outcome.SkipReason)
		return true, p.queue.MarkDone(ctx, task.ID, outcome.StatusCode)
	}

	// Step 8: a 4xx/5xx HTTP status is a failure the retry/backoff path owns.
	if outcome.StatusCode >= 400 {
		p.metrics.IncFailedRequests(workerID)
		return true, p.recordFailure(ctx, task, outcome.StatusCode, httpStatusErrorCode(outcome.StatusCode), postgres.ErrorUnexpected, fmt.Errorf("http status %d", outcome.StatusCode))
	}

	// Step 9: persist the raw body, independent of extraction success.
	if err := p.raw.StoreRaw(ctx, task.URL, outcome.StatusCode, outcome.Body); err != nil {
		p.log.Warn().Err(err).Str("url", task.URL).Msg("store raw body")
	}

	// Step 10: decode to UTF-8 using the declared/sniffed charset, then extract.
	decodedBody := decodeHTML(outcome.Body, outcome.ContentType)
	title := htmlx.ExtractTitle(decodedBody)
	text := htmlx.ExtractText(decodedBody)
	links := htmlx.ExtractLinks(task.URL, decodedBody)

	// Step 11: persist the crawled-page record and its metadata.
	pageID, err := p.storeCrawledPage(ctx, task.URL, outcome.StatusCode, title, text, len(outcome.Body), len(links))
	if err != nil {
		return true, p.recordFailure(ctx, task, outcome.StatusCode, "db_write_error", postgres.ErrorDBError, fmt.Errorf("store crawled page: %w", err))
	}

	// Step 12: filter discovered links, record outbound links, and enqueue
	// the in-domain survivors one level deeper.
	p.metrics.IncCrawledPages(workerID)
	if err := p.handleDiscoveredLinks(ctx, pageID, task, links); err != nil {
		p.log.Warn().Err(err).Str("url", task.URL).Msg("enqueue discovered links")
	}

	// Step 13/14: mark done.
	return true, p.queue.MarkDone(ctx, task.ID, outcome.StatusCode)
}

func (p *Pipeline) handleDiscoveredLinks(ctx context.Context, pageID int64, task *postgres.FrontierTask, links []string) error {
	classified := classifyDiscoveredLinks(p.cfg.BaseDomain, task, links)

	for _, link := range classified.all {
		if err := p.storeOutboundLink(ctx, pageID, link.url, link.isInternal); err != nil {
			p.log.Warn().Err(err).Str("url", link.url).Msg("store outbound link")
		}
	}
	for _, reason := range classified.skipReasons {
		p.metrics.IncSkippedLinks(reason)
	}

	if len(classified.enqueue) == 0 {
		return nil
	}
	return p.queue.EnqueueMany(ctx, classified.enqueue)
}

type classifiedLink struct {
	url        string
	isInternal bool
}

type discoveredLinks struct {
	all         []classifiedLink
	enqueue     []frontier.EnqueueItem
	skipReasons []string
}

// classifyDiscoveredLinks is the pure decision logic behind step 12: every
// link is recorded as an outbound link regardless of domain, but only
// in-domain links that also pass the static-asset/scheme filter are
// queued one level deeper.
func classifyDiscoveredLinks(baseDomain string, task *postgres.FrontierTask, links []string) discoveredLinks {
	result := discoveredLinks{all: make([]classifiedLink, 0, len(links))}

	for _, link := range links {
		isInternal := baseDomain == "" || urlutil.GetDomain(link) == baseDomain
		result.all = append(result.all, classifiedLink{url: link, isInternal: isInternal})

		if !isInternal {
			result.skipReasons = append(result.skipReasons, "off_domain")
			continue
		}
		if !urlutil.IsValidLink(baseDomain, link) {
			result.skipReasons = append(result.skipReasons, "filtered")
			continue
		}

		result.enqueue = append(result.enqueue, frontier.EnqueueItem{
			URL:      link,
			SourceID: task.SourceID,
			Depth:    task.Depth + 1,
			Priority: task.Priority,
		})
	}

	return result
}

func (p *Pipeline) storeCrawledPage(ctx context.Context, url string, statusCode int, title, text string, htmlLen, linkCount int) (int64, error) {
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])

	var pageID int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO crawled_pages (url, status_code, title, content_preview, fetched_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (url) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			title = EXCLUDED.title,
			content_preview = EXCLUDED.content_preview,
			fetched_at = now()
		RETURNING id
	`, url, statusCode, title, postgres.TruncateContentPreview(text)).Scan(&pageID)
	if err != nil {
		return 0, fmt.Errorf("upsert crawled page %s: %w", url, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO page_metadata (page_id, html_length, text_length, link_count, content_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (page_id) DO UPDATE SET
			html_length = EXCLUDED.html_length,
			text_length = EXCLUDED.text_length,
			link_count = EXCLUDED.link_count,
			content_hash = EXCLUDED.content_hash
	`, pageID, htmlLen, len(text), linkCount, contentHash)
	if err != nil {
		return 0, fmt.Errorf("upsert page metadata %s: %w", url, err)
	}

	return pageID, nil
}

func (p *Pipeline) storeOutboundLink(ctx context.Context, pageID int64, targetURL string, isInternal bool) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO outbound_links (source_page, target_url, is_internal)
		VALUES ($1, $2, $3)
	`, pageID, targetURL, isInternal)
	return err
}

func (p *Pipeline) recordFailure(ctx context.Context, task *postgres.FrontierTask, statusCode int, errorCode string, category postgres.ErrorCategory, cause error) error {
	_, logErr := p.pool.Exec(ctx, `
		INSERT INTO crawl_error_logs (url, category, message)
		VALUES ($1, $2, $3)
	`, task.URL, string(category), postgres.TruncateMessage(cause.Error()))
	if logErr != nil {
		p.log.Warn().Err(logErr).Str("url", task.URL).Msg("record crawl error log")
	}
	return p.queue.MarkFailed(ctx, task.ID, statusCode, errorCode, category)
}

func httpStatusErrorCode(statusCode int) string {
	return fmt.Sprintf("http_%d", statusCode)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
