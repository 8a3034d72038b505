// Command radarcrawl runs the polite, distributed-ready crawl service:
// a Postgres-backed frontier queue, a per-domain policy controller, a
// robots.txt cache, and a pool of worker goroutines extracting and
// storing pages until the process is signaled to stop or the configured
// page cap is reached.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jooya/radarcrawl/internal/config"
	"github.com/jooya/radarcrawl/internal/frontier"
	"github.com/jooya/radarcrawl/internal/memwatch"
	"github.com/jooya/radarcrawl/internal/metrics"
	"github.com/jooya/radarcrawl/internal/policy"
	"github.com/jooya/radarcrawl/internal/robots"
	"github.com/jooya/radarcrawl/internal/store/mongostore"
	"github.com/jooya/radarcrawl/internal/store/postgres"
	"github.com/jooya/radarcrawl/internal/supervisor"
	"github.com/jooya/radarcrawl/internal/urlutil"
	"github.com/jooya/radarcrawl/internal/worker"
)

const requestTimeout = 15 * time.Second

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("radarcrawl exited with error")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	rawStore, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MaxSavedHTMLBytes)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}

	collector := metrics.New()

	queue, err := frontier.New(pool, frontier.Config{
		MaxDepth: cfg.MaxDepth,
		MaxPages: cfg.MaxPages,
	}, log)
	if err != nil {
		return fmt.Errorf("build frontier queue: %w", err)
	}
	defer queue.Close()

	ctrl := policy.New(pool, log)

	httpClient := &http.Client{Timeout: requestTimeout}
	robotsCache := robots.New(httpClient, cfg.UserAgent, log)

	baseDomain := cfg.BaseDomain
	if baseDomain == "" {
		baseDomain = urlutil.GetDomain(cfg.StartURL)
	}

	mem := memwatch.NewMemoryWatcher(cfg.MemoryLimitMB, log)

	pipeline := worker.New(worker.Config{
		UserAgent:        cfg.UserAgent,
		MaxDownloadBytes: cfg.MaxDownloadBytes,
		RequestTimeout:   requestTimeout,
		BaseDomain:       baseDomain,
		Concurrency:      cfg.Workers,
	}, httpClient, queue, ctrl, robotsCache, rawStore, pool, mem, collector, log)

	startURL, err := urlutil.Normalize("", cfg.StartURL)
	if err != nil {
		return fmt.Errorf("normalize start URL: %w", err)
	}
	if err := queue.Enqueue(ctx, startURL, 0, 0, 0, false); err != nil {
		return fmt.Errorf("enqueue start URL: %w", err)
	}

	sup := supervisor.New(queue, pipeline, collector, cfg.MetricsAddr, log)
	return sup.Run(ctx)
}
