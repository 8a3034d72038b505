// Package config loads the crawl service's settings from the process
// environment, preloading a .env file the way the pack's dotenv helper
// does, when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is every setting the supervisor needs to wire up a crawl.
type Config struct {
	DatabaseDSN string
	MongoURI    string
	MongoDB     string

	StartURL   string
	BaseDomain string

	Workers           int
	MaxDepth          int
	MaxPages          int
	MaxDownloadBytes  int64
	MaxSavedHTMLBytes int64

	UserAgent string

	MetricsAddr   string
	MemoryLimitMB int64
}

const (
	defaultWorkers           = 12
	defaultMaxDownloadBytes  = 2_000_000
	defaultMaxSavedHTMLBytes = 500_000
	defaultUserAgent         = "JooyaBot/1.0"
	defaultMetricsAddr       = ":8000"
	defaultMemoryLimitMB     = 1024
)

// Load preloads .env (if present, ignoring a missing file) and builds a
// Config from the environment. Required settings (DATABASE_URL, the start
// URL, and MONGO_URI) return an error if absent.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	dsn, err := normalizeDSN(firstNonEmpty("DATABASE_URL", "RADAR_DATABASE_URL"))
	if err != nil {
		return Config{}, err
	}
	if dsn == "" {
		return Config{}, fmt.Errorf("DATABASE_URL (or RADAR_DATABASE_URL) is required")
	}

	startURL := os.Getenv("START_URL")
	if startURL == "" {
		return Config{}, fmt.Errorf("START_URL is required")
	}

	cfg := Config{
		DatabaseDSN:       dsn,
		MongoURI:          firstNonEmpty("MONGO_URI", "MONGO_URL"),
		MongoDB:           envOr("MONGO_DB", "radarcrawl"),
		StartURL:          startURL,
		BaseDomain:        os.Getenv("BASE_DOMAIN"),
		Workers:           envInt("WORKERS", defaultWorkers),
		MaxDepth:          envInt("MAX_DEPTH", 0),
		MaxPages:          envInt("MAX_PAGES", 0),
		MaxDownloadBytes:  envInt64("MAX_DOWNLOAD_BYTES", defaultMaxDownloadBytes),
		MaxSavedHTMLBytes: envInt64("MAX_SAVED_HTML_BYTES", defaultMaxSavedHTMLBytes),
		UserAgent:         envOr("CRAWLER_USER_AGENT", defaultUserAgent),
		MetricsAddr:       envOr("METRICS_ADDR", defaultMetricsAddr),
		MemoryLimitMB:     envInt64("MEMORY_LIMIT_MB", defaultMemoryLimitMB),
	}

	if cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("MONGO_URI (or MONGO_URL) is required")
	}

	return cfg, nil
}

func firstNonEmpty(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// normalizeDSN rewrites the asyncpg/SQLAlchemy-style DSNs a DATABASE_URL
// commonly arrives in (postgresql+driver://, asyncpg://) into the plain
// postgres:// scheme pgx expects.
func normalizeDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", nil
	}
	if idx := strings.Index(dsn, "://"); idx != -1 {
		scheme := dsn[:idx]
		rest := dsn[idx+3:]
		base, _, _ := strings.Cut(scheme, "+")
		switch base {
		case "postgres", "postgresql", "asyncpg":
			return "postgres://" + rest, nil
		}
		return "", fmt.Errorf("normalize DSN: unsupported scheme %q", scheme)
	}
	return "", fmt.Errorf("normalize DSN: missing scheme in %q", dsn)
}
