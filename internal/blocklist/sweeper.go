package blocklist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clubkit/botguard/internal/retry"
)

// Sweeper periodically removes lapsed block entries. After a failed cycle
// it retries after a short error delay instead of waiting a full interval,
// so a brief store outage does not leave lapsed blocks in place for an
// extra hour.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	backoff  retry.Backoff
	logger   *zap.Logger
}

// SweeperOption is a functional option for the sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweeperBackoff sets the backoff used after failed cycles.
func WithSweeperBackoff(backoff retry.Backoff) SweeperOption {
	return func(s *Sweeper) {
		s.backoff = backoff
	}
}

// NewSweeper creates a Sweeper running every interval. errorBackoff is the
// fixed delay applied after a failed cycle; a different strategy can be
// injected with WithSweeperBackoff.
func NewSweeper(registry *Registry, interval, errorBackoff time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		registry: registry,
		interval: interval,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.backoff == nil {
		s.backoff = retry.NewConstantBackoff(errorBackoff)
	}

	return s
}

// Run sweeps until the context is cancelled. It blocks; run it in its own
// goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("block sweeper started", zap.Duration("interval", s.interval))

	failures := 0
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("block sweeper stopped")
			return
		case <-timer.C:
		}

		removed, err := s.registry.SweepExpired(ctx)
		if err != nil {
			delay := s.backoff.Next(failures)
			failures++
			s.logger.Error("sweep cycle failed",
				zap.Error(err),
				zap.Duration("retry_in", delay),
			)
			timer.Reset(delay)
			continue
		}

		if failures > 0 {
			failures = 0
			s.backoff.Reset()
		}

		s.logger.Debug("sweep cycle completed", zap.Int("removed", removed))
		timer.Reset(s.interval)
	}
}
