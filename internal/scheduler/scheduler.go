package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"feedwatch/internal/circuitbreaker"
	"feedwatch/internal/domain"
	"feedwatch/internal/metrics"
)

// Ingester runs one pass over a single source.
type Ingester interface {
	Ingest(ctx context.Context, sourceID string) (*domain.IngestStats, error)
}

// SourceLister provides the sources polled each round.
type SourceLister interface {
	Sources() []string
}

type Config struct {
	IdleInterval time.Duration
	Concurrency  int
	PassTimeout  time.Duration
	Breaker      circuitbreaker.Config
}

type Scheduler struct {
	ingester Ingester
	sources  SourceLister
	breakers map[string]*circuitbreaker.Breaker
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	wait     func(ctx context.Context, d time.Duration) error
}

func NewScheduler(ingester Ingester, sources SourceLister, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	s := &Scheduler{
		ingester: ingester,
		sources:  sources,
		breakers: make(map[string]*circuitbreaker.Breaker),
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "scheduler"),
		wait:     sleep,
	}

	for _, id := range sources.Sources() {
		s.breakers[id] = s.newBreaker(id)
	}

	return s
}

func (s *Scheduler) newBreaker(sourceID string) *circuitbreaker.Breaker {
	cfg := s.cfg.Breaker
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker state changed",
			"source", sourceID,
			"from", from.String(),
			"to", to.String(),
		)
		s.metrics.SetBreakerState(sourceID, int(to))
	}
	return circuitbreaker.New(cfg)
}

// Start runs rounds back to back until ctx is cancelled or a pass fails
// fatally. A round that ingests nothing is followed by one idle wait.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"sources", len(s.breakers),
		"concurrency", s.cfg.Concurrency,
		"idle_interval", s.cfg.IdleInterval,
	)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler stopped")
			return err
		}

		total, err := s.RunRound(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrFatal) {
				s.logger.Error("fatal error, stopping scheduler", "error", err)
				return err
			}
			if ctx.Err() != nil {
				s.logger.Info("scheduler stopped")
				return ctx.Err()
			}
			s.logger.Error("round failed", "error", err)
		}

		if total > 0 {
			s.logger.Info("processed posts, continuing", "count", total)
			continue
		}

		s.logger.Info("no new posts, sleeping", "interval", s.cfg.IdleInterval)
		s.metrics.IdleRound()
		if err := s.wait(ctx, s.cfg.IdleInterval); err != nil {
			s.logger.Info("scheduler stopped")
			return err
		}
	}
}

// RunRound runs one pass per source and returns how many new items were
// ingested in total. Failing sources are logged and skipped; only a fatal
// error or cancellation of ctx is returned.
func (s *Scheduler) RunRound(ctx context.Context) (int, error) {
	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, id := range s.sources.Sources() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := s.runPass(gctx, id)
			if err != nil {
				return err
			}
			total.Add(int64(n))
			return nil
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return int(total.Load()), err
}

func (s *Scheduler) runPass(ctx context.Context, sourceID string) (int, error) {
	breaker, ok := s.breakers[sourceID]
	if !ok {
		s.logger.Warn("source has no circuit breaker, skipping", "source", sourceID)
		return 0, nil
	}

	var stats *domain.IngestStats
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		passCtx := ctx
		if s.cfg.PassTimeout > 0 {
			var cancel context.CancelFunc
			passCtx, cancel = context.WithTimeout(ctx, s.cfg.PassTimeout)
			defer cancel()
		}

		var err error
		stats, err = s.ingester.Ingest(passCtx, sourceID)
		return err
	})

	switch {
	case err == nil:
		return stats.New, nil
	case errors.Is(err, domain.ErrFatal):
		s.metrics.PassFailed(sourceID, "fatal")
		return 0, err
	case ctx.Err() != nil:
		return 0, ctx.Err()
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		s.metrics.PassFailed(sourceID, "circuit_open")
		s.logger.Debug("source skipped", "source", sourceID, "reason", err)
		return 0, nil
	default:
		s.metrics.PassFailed(sourceID, "error")
		s.logger.Error("ingest failed", "source", sourceID, "error", err)
		return 0, nil
	}
}

// BreakerStats returns the breaker state of every source.
func (s *Scheduler) BreakerStats() map[string]circuitbreaker.Stats {
	out := make(map[string]circuitbreaker.Stats, len(s.breakers))
	for id, b := range s.breakers {
		out[id] = b.Stats()
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
