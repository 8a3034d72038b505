package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"

	"github.com/jooya/radarcrawl/internal/frontier"
	"github.com/jooya/radarcrawl/internal/metrics"
	"github.com/jooya/radarcrawl/internal/policy"
	"github.com/jooya/radarcrawl/internal/robots"
	"github.com/jooya/radarcrawl/internal/worker"
)

func TestSupervisor_RunStopsOnContextCancel(t *testing.T) {
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer pool.Close()
	pool.MatchExpectationsInOrder(false)

	queue, err := frontier.New(pool, frontier.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer queue.Close()

	ctrl := policy.New(pool, zerolog.Nop())
	robotsCache := robots.New(nil, "test-agent", zerolog.Nop())
	collector := metrics.New()

	pipeline := worker.New(worker.Config{Concurrency: 0}, nil, queue, ctrl, robotsCache, nil, pool, nil, collector, zerolog.Nop())

	sup := New(queue, pipeline, collector, ":0", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error on immediate cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
