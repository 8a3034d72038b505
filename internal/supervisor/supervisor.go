// Package supervisor starts the metrics endpoint, the worker pool, the
// frontier's lease sweep, and a periodic queue-depth sampler, then waits
// for SIGINT/SIGTERM to shut everything down in order.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jooya/radarcrawl/internal/frontier"
	"github.com/jooya/radarcrawl/internal/metrics"
	"github.com/jooya/radarcrawl/internal/worker"
)

const queueSampleInterval = 2 * time.Second

// Supervisor owns the long-running process lifecycle.
type Supervisor struct {
	queue       *frontier.Queue
	pipeline    *worker.Pipeline
	metrics     *metrics.Collector
	metricsAddr string
	log         zerolog.Logger
}

// New builds a Supervisor.
func New(queue *frontier.Queue, pipeline *worker.Pipeline, collector *metrics.Collector, metricsAddr string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		queue:       queue,
		pipeline:    pipeline,
		metrics:     collector,
		metricsAddr: metricsAddr,
		log:         log.With().Str("component", "supervisor").Logger(),
	}
}

// Run blocks until SIGINT/SIGTERM, then shuts down every component it
// started and returns. A worker pool error that isn't a clean
// cancellation is returned to the caller.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:    s.metricsAddr,
		Handler: s.metrics.Handler(),
	}
	go func() {
		s.log.Info().Str("addr", s.metricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	go s.queue.RunLeaseSweep(ctx)
	go s.sampleQueueDepth(ctx)

	pipelineErrCh := make(chan error, 1)
	go func() {
		pipelineErrCh <- s.pipeline.Run(ctx)
	}()

	var pipelineErr error
	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutdown signal received")
		pipelineErr = <-pipelineErrCh
	case pipelineErr = <-pipelineErrCh:
		s.log.Warn().Msg("worker pool exited before a shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("metrics server shutdown")
	}

	if pipelineErr != nil && !errors.Is(pipelineErr, context.Canceled) {
		return pipelineErr
	}
	return nil
}

func (s *Supervisor) sampleQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.queue.CountScheduled(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("sample queue depth")
				continue
			}
			s.metrics.SetQueuePending(count)
		}
	}
}
