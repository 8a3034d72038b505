// Package robots caches robots.txt rulesets per host and answers
// fetch-allowed queries for a single configured user agent.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"
)

const defaultCacheTTL = 12 * time.Hour

// cachedEntry holds a parsed robots.txt ruleset, or a nil data field to
// record "allow all" for a host that returned 404, 5xx, or failed to fetch.
type cachedEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Cache fetches and caches robots.txt rules per host for one user agent.
// A single mutex serializes cache reads and writes; concurrent Allowed
// calls for the same cold host may each issue a fetch — de-duplicating
// those fetches is not required for correctness, since the result they
// converge on is the same.
type Cache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	log       zerolog.Logger

	mu    sync.Mutex
	cache map[string]*cachedEntry
}

// New builds a Cache that fetches robots.txt with client, evaluates rules
// for userAgent, and caches results for the default TTL (12h).
func New(client *http.Client, userAgent string, log zerolog.Logger) *Cache {
	return &Cache{
		client:    client,
		userAgent: userAgent,
		ttl:       defaultCacheTTL,
		log:       log.With().Str("component", "robots").Logger(),
		cache:     make(map[string]*cachedEntry),
	}
}

// Allowed reports whether rawURL may be fetched under the configured user
// agent. It never returns an error: a malformed URL, network failure, or
// parse failure all fail open (return true) after being logged.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		c.log.Warn().Err(err).Str("url", rawURL).Msg("parse url for robots check")
		return true
	}
	host := parsed.Host
	if host == "" {
		return true
	}

	if entry, ok := c.lookup(host); ok {
		return testAgent(entry, parsed.Path, c.userAgent)
	}

	entry := c.fetch(ctx, parsed.Scheme, host)
	c.store(host, entry)
	return testAgent(entry, parsed.Path, c.userAgent)
}

func (c *Cache) lookup(host string) (*cachedEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[host]
	if !ok {
		return nil, false
	}
	if time.Since(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry, true
}

func (c *Cache) store(host string, entry *cachedEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[host] = entry
}

// fetch retrieves and parses {scheme}://{host}/robots.txt. Any transport,
// read, or parse failure, or a 404/5xx status, yields an allow-all entry
// (data == nil) per the fail-open contract.
func (c *Cache) fetch(ctx context.Context, scheme, host string) *cachedEntry {
	now := time.Now()
	allowAll := &cachedEntry{data: nil, fetchedAt: now}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("host", host).Msg("build robots.txt request")
		return allowAll
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("host", host).Msg("fetch robots.txt failed, failing open")
		return allowAll
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		return allowAll
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("host", host).Msg("read robots.txt body, failing open")
		return allowAll
	}

	parsed, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil || parsed == nil {
		if err != nil {
			c.log.Warn().Err(err).Str("host", host).Msg("parse robots.txt, failing open")
		}
		return allowAll
	}

	return &cachedEntry{data: parsed, fetchedAt: now}
}

func testAgent(entry *cachedEntry, path, userAgent string) bool {
	if entry.data == nil {
		return true
	}
	return entry.data.TestAgent(path, userAgent)
}
