package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
)

type DeliverySource interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
}

// Relay feeds broker deliveries into a local Hub. Deliveries published by
// origin are skipped since the process already handed them to the Hub.
type Relay struct {
	source     DeliverySource
	hub        *Hub
	origin     string
	logger     observability.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRelay(source DeliverySource, hub *Hub, origin string, logger observability.Logger) *Relay {
	return &Relay{
		source:     source,
		hub:        hub,
		origin:     origin,
		logger:     logger.WithField("component", "notify-relay"),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run consumes until ctx is done. A dropped delivery channel or a failed
// Consume is retried with exponential backoff; the source is expected to
// rebuild its connection on each call. Events published in the gap are lost.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		deliveries, err := r.source.Consume(ctx)
		if err == nil {
			backoff = r.minBackoff
			r.forward(ctx, deliveries)
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("delivery channel closed, reconsuming")
		} else {
			r.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("consume failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Relay) forward(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if r.origin != "" && d.AppId == r.origin {
				continue
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				r.logger.WithError(err).Warn("dropping undecodable change event")
				continue
			}
			r.hub.Publish(ctx, ev)
		}
	}
}
