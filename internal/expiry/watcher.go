package expiry

import (
	"context"
	"time"

	"github.com/robertarktes/seat-holds/internal/clock"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
)

// Watcher applies hold expirations to the ledger as the registry reports
// them. Delivery is at-most-once: expirations fired while the watcher is not
// subscribed are never redelivered, and those seats stay HELD until the
// Sweeper, a later hold or a confirm settles them.
type Watcher struct {
	source     Source
	registry   HoldPeeker
	ledger     Ledger
	notifier   Notifier
	logger     observability.Logger
	clock      clock.Clock
	ttl        time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
}

type WatcherOption func(*Watcher)

func WithWatcherClock(clk clock.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = clk }
}

// NewWatcher builds a Watcher for holds of the given ttl. Only ledger holds at
// least ttl old are released, whatever key the registry reports.
func NewWatcher(source Source, registry HoldPeeker, ledger Ledger, notifier Notifier, logger observability.Logger, ttl time.Duration, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:     source,
		registry:   registry,
		ledger:     ledger,
		notifier:   notifier,
		logger:     logger.WithField("component", "expiry-watcher"),
		clock:      clock.NewSystem(),
		ttl:        ttl,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run subscribes and processes expirations until ctx is done, resubscribing
// with exponential backoff whenever the subscription fails.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := w.minBackoff
	for {
		keys, err := w.source.Expirations(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("expiry subscription failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
			continue
		}
		backoff = w.minBackoff
		w.logger.Info("expiry watcher subscribed")

		if done := w.consume(ctx, keys); done {
			return nil
		}
		w.logger.Warn("expiry subscription closed, resubscribing")
	}
}

func (w *Watcher) consume(ctx context.Context, keys <-chan string) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case key, ok := <-keys:
			if !ok {
				return ctx.Err() != nil
			}
			w.Handle(ctx, key)
		}
	}
}

// Handle processes one expired key. It never fails: bad keys and store
// errors are logged and counted.
func (w *Watcher) Handle(ctx context.Context, key string) {
	if !domain.IsHoldKey(key) {
		return
	}
	ref, err := domain.ParseHoldKey(key)
	if err != nil {
		observability.ExpiryEvents.WithLabelValues("watcher", outcomeMalformed).Inc()
		w.logger.WithError(err).Warn("ignoring malformed expiry event")
		return
	}
	log := w.logger.WithField("seat", ref.String())

	now := w.clock.Now()
	outcome, err := reconcile(ctx, w.registry, w.ledger, ref, now.Add(-w.ttl), now)
	observability.ExpiryEvents.WithLabelValues("watcher", outcome).Inc()
	switch {
	case err != nil:
		log.WithError(err).Error("could not release expired hold")
		return
	case outcome == outcomeReheld:
		log.Debug("seat held again before expiry was processed")
		return
	case outcome == outcomeReleased:
		log.Info("expired hold released")
	}
	w.notifier.Publish(ctx, domain.ChangeEvent{ShowID: ref.ShowID})
}
