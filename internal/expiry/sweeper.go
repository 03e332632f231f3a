package expiry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-holds/internal/clock"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
)

const (
	sweepBatch = 100
	maxRetries = 3
)

// Sweeper finds HELD seats whose hold should have expired long ago and
// reconciles them the way the Watcher would have.
type Sweeper struct {
	registry HoldPeeker
	ledger   Ledger
	notifier Notifier
	logger   observability.Logger
	clock    clock.Clock
	ttl      time.Duration
	grace    time.Duration
	backoff  time.Duration
}

func NewSweeper(registry HoldPeeker, ledger Ledger, notifier Notifier, logger observability.Logger, ttl, grace time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.WithField("component", "expiry-sweeper"),
		clock:    clock.NewSystem(),
		ttl:      ttl,
		grace:    grace,
		backoff:  time.Second,
	}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.WithError(err).Error("expiry sweep failed")
			} else if n > 0 {
				s.logger.WithField("released", n).Info("expiry sweep released stale holds")
			}
		}
	}
}

// SweepOnce reconciles one batch of stale holds and reports how many seats
// went back to AVAILABLE.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	cutoff := now.Add(-s.ttl - s.grace)
	seats, err := s.ledger.ListStaleHolds(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, seat := range seats {
		outcome, err := s.reconcileWithRetry(ctx, seat.Ref(), cutoff, now)
		observability.ExpiryEvents.WithLabelValues("sweeper", outcome).Inc()
		if err != nil {
			s.logger.WithError(err).WithField("seat", seat.Ref().String()).Error("failed to release stale hold after retries")
			continue
		}
		if outcome == outcomeReleased {
			released++
			s.notifier.Publish(ctx, domain.ChangeEvent{ShowID: seat.ShowID})
		}
	}
	return released, nil
}

func (s *Sweeper) reconcileWithRetry(ctx context.Context, ref domain.SeatRef, cutoff, now time.Time) (string, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		outcome, err := reconcile(ctx, s.registry, s.ledger, ref, cutoff, now)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return outcomeError, ctx.Err()
		case <-time.After(time.Duration(1<<i) * s.backoff):
		}
	}
	return outcomeError, errors.Wrapf(lastErr, "failed after %d retries", maxRetries)
}
