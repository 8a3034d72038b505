// Package policy enforces per-domain politeness: a minimum delay between
// fetches and a daily request quota, coordinated across cooperating
// crawler processes through a row-locked table.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/jooya/radarcrawl/internal/store/postgres"
	"github.com/jooya/radarcrawl/internal/urlutil"
)

// DefaultMinDelay and DefaultDailyLimit seed a domain's policy row the
// first time it is seen.
const (
	DefaultMinDelay   = time.Second
	DefaultDailyLimit = 10_000
)

// maxWaitReentry caps the recursive re-entry spec.md's step 7 allows when
// another writer wins the row lock first.
const maxWaitReentry = 1

// Controller enforces wait_turn for every domain.
type Controller struct {
	pool     postgres.DB
	log      zerolog.Logger
	limiters *adaptiveLimiters
}

// New builds a Controller over pool.
func New(pool postgres.DB, log zerolog.Logger) *Controller {
	return &Controller{
		pool:     pool,
		log:      log.With().Str("component", "policy").Logger(),
		limiters: newAdaptiveLimiters(),
	}
}

// WaitTurn blocks the caller until fetching url would respect its domain's
// minimum delay and daily quota, per the wait_turn algorithm: read the
// domain row FOR UPDATE (inserting defaults on first sight), compute the
// wait from min-delay and next-allowed-at, sleep it, and only count the
// attempt against the daily quota once wait reaches zero.
func (c *Controller) WaitTurn(ctx context.Context, url string) error {
	return c.waitTurn(ctx, url, 0)
}

func (c *Controller) waitTurn(ctx context.Context, url string, depth int) error {
	domain := urlutil.GetDomain(url)
	if domain == "" {
		return fmt.Errorf("wait turn: cannot determine domain for %q", url)
	}

	wait, err := c.reserveTurn(ctx, domain)
	if err != nil {
		return err
	}

	if wait <= 0 {
		c.limiters.get(domain).wait(ctx)
		return nil
	}

	if err := sleepContext(ctx, wait); err != nil {
		return err
	}

	if depth >= maxWaitReentry {
		// The winning writer's own row-lock read already guarantees
		// now - last_crawled_at >= min_delay_ms once its write commits;
		// a second recursive pass would only re-confirm that.
		return nil
	}
	return c.waitTurn(ctx, url, depth+1)
}

// reserveTurn runs steps 1-8 of wait_turn inside one transaction and
// returns the wait duration the caller must still sleep (0 means the
// fetch may proceed immediately and has already been counted).
func (c *Controller) reserveTurn(ctx context.Context, domain string) (time.Duration, error) {
	tx, err := beginTx(ctx, c.pool)
	if err != nil {
		return 0, fmt.Errorf("wait turn: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := selectDomainForUpdate(ctx, tx, domain)
	if err != nil {
		return 0, fmt.Errorf("wait turn: select domain %s: %w", domain, err)
	}

	now := time.Now().UTC()

	// Step 2: daily counter resets across a UTC date boundary.
	if row.lastCrawledAt != nil && !sameUTCDate(*row.lastCrawledAt, now) {
		row.crawledToday = 0
	}

	// Step 3 & 4.
	minDelayWait := time.Duration(0)
	if row.lastCrawledAt != nil {
		elapsed := now.Sub(*row.lastCrawledAt)
		if d := row.minDelay - elapsed; d > minDelayWait {
			minDelayWait = d
		}
	}
	nextAllowedWait := time.Duration(0)
	if row.nextAllowedAt != nil {
		if d := row.nextAllowedAt.Sub(now); d > nextAllowedWait {
			nextAllowedWait = d
		}
	}

	// Step 5.
	wait := minDelayWait
	if nextAllowedWait > wait {
		wait = nextAllowedWait
	}

	switch {
	case row.crawledToday >= row.dailyLimit:
		// Step 6: quota exhausted for today, push to the next UTC day.
		nextDay := startOfNextUTCDay(now)
		if d := nextDay.Sub(now); d > wait {
			wait = d
		}
		row.nextAllowedAt = &nextDay
		if err := upsertDomain(ctx, tx, domain, row); err != nil {
			return 0, fmt.Errorf("wait turn: persist quota rollover: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("wait turn: commit quota rollover: %w", err)
		}
		return wait, nil

	case wait > 0:
		// Step 7: reserve the slot for this writer and make the next
		// reader see the updated next_allowed_at.
		nextAllowed := now.Add(wait)
		row.nextAllowedAt = &nextAllowed
		if err := upsertDomain(ctx, tx, domain, row); err != nil {
			return 0, fmt.Errorf("wait turn: reserve slot: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("wait turn: commit reserved slot: %w", err)
		}
		return wait, nil

	default:
		// Step 8: clear to go immediately, count it now.
		row.lastCrawledAt = &now
		row.crawledToday++
		row.nextAllowedAt = nil
		if err := upsertDomain(ctx, tx, domain, row); err != nil {
			return 0, fmt.Errorf("wait turn: record crawl: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("wait turn: commit crawl record: %w", err)
		}
		return 0, nil
	}
}

// ObserveFetchLatency feeds a completed fetch's round-trip time into the
// domain's adaptive limiter, letting it ease off proactively on a slow
// server without waiting for min_delay_ms to catch up. This never gates
// correctness — it only makes the in-process request cadence gentler than
// the DB-enforced floor requires.
func (c *Controller) ObserveFetchLatency(url string, rtt time.Duration) {
	domain := urlutil.GetDomain(url)
	if domain == "" {
		return
	}
	c.limiters.get(domain).observe(rtt)
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func startOfNextUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
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

// domainRow mirrors one domain_crawl_policy row.
type domainRow struct {
	minDelay      time.Duration
	lastCrawledAt *time.Time
	nextAllowedAt *time.Time
	dailyLimit    int
	crawledToday  int
}

// beginTx starts a transaction. Extracted as a seam so tests can exercise
// reserveTurn's decision logic, which this package otherwise composes into
// a single method.
func beginTx(ctx context.Context, pool postgres.DB) (pgx.Tx, error) {
	type txBeginner interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	}
	beginner, ok := pool.(txBeginner)
	if !ok {
		return nil, errors.New("policy: pool does not support transactions")
	}
	return beginner.Begin(ctx)
}

func selectDomainForUpdate(ctx context.Context, tx pgx.Tx, domain string) (domainRow, error) {
	var minDelayMs, dailyLimit, crawledToday int
	var lastCrawledAt, nextAllowedAt *time.Time

	err := tx.QueryRow(ctx, `
		SELECT min_delay_ms, last_crawled_at, next_allowed_at, daily_limit, crawled_today
		FROM domain_crawl_policy
		WHERE domain = $1
		FOR UPDATE
	`, domain).Scan(&minDelayMs, &lastCrawledAt, &nextAllowedAt, &dailyLimit, &crawledToday)

	if errors.Is(err, pgx.ErrNoRows) {
		if _, insertErr := tx.Exec(ctx, `
			INSERT INTO domain_crawl_policy (domain, min_delay_ms, daily_limit)
			VALUES ($1, $2, $3)
		`, domain, int(DefaultMinDelay/time.Millisecond), DefaultDailyLimit); insertErr != nil {
			return domainRow{}, fmt.Errorf("insert default policy: %w", insertErr)
		}
		return domainRow{
			minDelay:   DefaultMinDelay,
			dailyLimit: DefaultDailyLimit,
		}, nil
	}
	if err != nil {
		return domainRow{}, err
	}

	return domainRow{
		minDelay:      time.Duration(minDelayMs) * time.Millisecond,
		lastCrawledAt: lastCrawledAt,
		nextAllowedAt: nextAllowedAt,
		dailyLimit:    dailyLimit,
		crawledToday:  crawledToday,
	}, nil
}

func upsertDomain(ctx context.Context, tx pgx.Tx, domain string, row domainRow) error {
	_, err := tx.Exec(ctx, `
		UPDATE domain_crawl_policy
		SET last_crawled_at = $2, next_allowed_at = $3, crawled_today = $4
		WHERE domain = $1
	`, domain, row.lastCrawledAt, row.nextAllowedAt, row.crawledToday)
	return err
}
