// Package frontier is the persistent, lease-based work queue cooperating
// crawler processes share: enqueue discovered URLs, dequeue one under
// FOR UPDATE SKIP LOCKED, and report success or failure back.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/jooya/radarcrawl/internal/store/postgres"
)

// leaseTimeout is how long an IN_PROGRESS row may sit untouched before the
// lease-extension sweep reclaims it for a crashed worker.
const leaseTimeout = 30 * time.Minute

// sweepInterval is how often the lease-extension sweep runs.
const sweepInterval = 5 * time.Minute

// Queue is the frontier queue backed by urls_frontier.
type Queue struct {
	pool postgres.DB
	log  zerolog.Logger

	maxDepth int // 0 = unlimited
	maxPages int // 0 = unlimited

	crawledCount atomic.Int64
	dedup        *enqueueDedup
}

// Config configures optional page/depth caps. Zero means unlimited.
type Config struct {
	MaxDepth int
	MaxPages int
}

// New builds a Queue over pool. The in-process dedup pre-check is sized
// for 100,000 URLs at a 0.1% false-positive rate, matching the crawl
// scales this core targets.
func New(pool postgres.DB, cfg Config, log zerolog.Logger) (*Queue, error) {
	dedup, err := newEnqueueDedup(100_000, 0.001)
	if err != nil {
		return nil, fmt.Errorf("build frontier dedup filter: %w", err)
	}
	return &Queue{
		pool:     pool,
		log:      log.With().Str("component", "frontier").Logger(),
		maxDepth: cfg.MaxDepth,
		maxPages: cfg.MaxPages,
		dedup:    dedup,
	}, nil
}

// Close releases the dedup filter's backing file.
func (q *Queue) Close() error {
	return q.dedup.close()
}

// PageCapReached reports whether the configured page cap has been hit.
// Read without a lock per spec's documented race tolerance: may exceed the
// cap by up to (workers-1) pages. Exported so the worker pipeline can exit
// its loop once the cap stops Dequeue/Enqueue from making further progress,
// rather than retrying an empty-looking queue forever.
func (q *Queue) PageCapReached() bool {
	return q.maxPages > 0 && q.crawledCount.Load() >= int64(q.maxPages)
}

// Enqueue inserts or updates one frontier entry. Depth beyond the
// configured max, or a page cap already reached, silently drops the URL.
func (q *Queue) Enqueue(ctx context.Context, url string, sourceID, depth, priority int, forceRecrawl bool) error {
	if q.maxDepth > 0 && depth > q.maxDepth {
		return nil
	}
	if q.PageCapReached() {
		return nil
	}
	if !forceRecrawl && q.dedup.seenOrMark(url, sourceID) {
		return nil
	}

	_, err := q.pool.Exec(ctx, upsertSQL, url, sourceID, depth, priority, forceRecrawl)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", url, err)
	}
	return nil
}

// EnqueueMany applies the same upsert semantics as Enqueue to every item
// in one round trip, using pgx's batch pipelining.
func (q *Queue) EnqueueMany(ctx context.Context, items []EnqueueItem) error {
	pending := items[:0:0]
	for _, it := range items {
		if q.maxDepth > 0 && it.Depth > q.maxDepth {
			continue
		}
		if q.PageCapReached() {
			break
		}
		if !it.ForceRecrawl && q.dedup.seenOrMark(it.URL, it.SourceID) {
			continue
		}
		pending = append(pending, it)
	}
	if len(pending) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, it := range pending {
		batch.Queue(upsertSQL, it.URL, it.SourceID, it.Depth, it.Priority, it.ForceRecrawl)
	}

	br := q.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range pending {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("enqueue batch: %w", err)
		}
	}
	return nil
}

// EnqueueItem is one entry for EnqueueMany.
type EnqueueItem struct {
	URL          string
	SourceID     int
	Depth        int
	Priority     int
	ForceRecrawl bool
}

const upsertSQL = `
INSERT INTO urls_frontier (url, source_id, depth, priority, status, scheduled_for, last_scheduled_at, updated_at)
VALUES ($1, $2, $3, $4, 'SCHEDULED', now(), now(), now())
ON CONFLICT (url, source_id) DO UPDATE SET
	depth = LEAST(urls_frontier.depth, EXCLUDED.depth),
	priority = GREATEST(urls_frontier.priority, EXCLUDED.priority),
	status = CASE
		WHEN urls_frontier.status = 'DONE' AND NOT $5 THEN urls_frontier.status
		ELSE 'SCHEDULED'
	END,
	scheduled_for = CASE
		WHEN urls_frontier.status = 'DONE' AND NOT $5 THEN urls_frontier.scheduled_for
		ELSE now()
	END,
	last_scheduled_at = CASE
		WHEN urls_frontier.status = 'DONE' AND NOT $5 THEN urls_frontier.last_scheduled_at
		ELSE now()
	END,
	updated_at = now()
`

// Dequeue leases the single highest-priority eligible row, ties broken by
// insertion order. Returns nil, nil if the queue is empty or every
// eligible row's lease is already held.
func (q *Queue) Dequeue(ctx context.Context) (*postgres.FrontierTask, error) {
	if q.PageCapReached() {
		return nil, nil
	}

	var task postgres.FrontierTask
	err := q.pool.QueryRow(ctx, dequeueSQL).Scan(&task.ID, &task.URL, &task.SourceID, &task.Depth, &task.Priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return &task, nil
}

const dequeueSQL = `
UPDATE urls_frontier
SET status = 'IN_PROGRESS', updated_at = now()
WHERE id = (
	SELECT id FROM urls_frontier
	WHERE status = 'SCHEDULED' AND (scheduled_for IS NULL OR scheduled_for <= now())
	ORDER BY priority DESC, id ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, url, source_id, depth, priority
`

// MarkDone transitions taskID to DONE and resets its failure count.
func (q *Queue) MarkDone(ctx context.Context, taskID int64, statusCode int) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE urls_frontier
		SET status = 'DONE', fail_count = 0, last_http_status = $2, updated_at = now()
		WHERE id = $1
	`, taskID, nullableStatus(statusCode))
	if err != nil {
		return fmt.Errorf("mark done %d: %w", taskID, err)
	}
	q.crawledCount.Add(1)
	return nil
}

// MarkFailed returns taskID to SCHEDULED with exponential backoff, per
// scheduled_for = now + LEAST(1800s, 30*2^(fail_count+1)). FAILED is never
// written from this path; it is reserved for operator intervention.
func (q *Queue) MarkFailed(ctx context.Context, taskID int64, statusCode int, errorCode string, category postgres.ErrorCategory) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE urls_frontier
		SET
			fail_count = fail_count + 1,
			status = 'SCHEDULED',
			last_http_status = $2,
			last_error_code = $3,
			error_category = $4,
			scheduled_for = now() + LEAST(
				interval '1800 seconds',
				(30 * power(2, fail_count + 1)) * interval '1 second'
			),
			last_scheduled_at = now(),
			updated_at = now()
		WHERE id = $1
	`, taskID, nullableStatus(statusCode), errorCode, string(category))
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", taskID, err)
	}
	return nil
}

// CountScheduled counts rows eligible for dequeue right now. Used only by
// the QUEUE_PENDING metrics gauge.
func (q *Queue) CountScheduled(ctx context.Context) (int, error) {
	var count int
	err := q.pool.QueryRow(ctx, `
		SELECT count(*) FROM urls_frontier
		WHERE status = 'SCHEDULED' AND (scheduled_for IS NULL OR scheduled_for <= now())
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count scheduled: %w", err)
	}
	return count, nil
}

// RunLeaseSweep blocks, running the lease-extension sweep every
// sweepInterval until ctx is canceled. This is the scavenger spec.md
// documents as required for liveness (not correctness) under worker
// crashes: a crashed worker's lease never progresses to DONE/SCHEDULED on
// its own, so this reclaims it.
func (q *Queue) RunLeaseSweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.sweepExpiredLeases(ctx)
			if err != nil {
				q.log.Warn().Err(err).Msg("lease sweep failed")
				continue
			}
			if n > 0 {
				q.log.Info().Int64("reclaimed", n).Msg("lease sweep reclaimed stuck tasks")
			}
		}
	}
}

func (q *Queue) sweepExpiredLeases(ctx context.Context) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE urls_frontier
		SET status = 'SCHEDULED', scheduled_for = now(), updated_at = now()
		WHERE status = 'IN_PROGRESS' AND updated_at < now() - $1::interval
	`, leaseTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("sweep expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullableStatus(statusCode int) any {
	if statusCode == 0 {
		return nil
	}
	return statusCode
}
