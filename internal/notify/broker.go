package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-holds/internal/adapters/rabbit"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
)

const publishTimeout = 2 * time.Second

type Publisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Broker sends change events to the RabbitMQ exchange so that other API
// processes can tell their viewers. Messages carry origin as their AppId so a
// Relay in the same process can skip what was already delivered locally.
type Broker struct {
	pub    Publisher
	origin string
	logger observability.Logger
}

func NewBroker(pub Publisher, origin string, logger observability.Logger) *Broker {
	return &Broker{pub: pub, origin: origin, logger: logger.WithField("component", "notify-broker")}
}

// Publish logs and counts failures instead of returning them.
func (b *Broker) Publish(ctx context.Context, ev domain.ChangeEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		observability.NotifyFailures.Inc()
		b.logger.WithError(err).Error("encode change event")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		MessageId:   uuid.NewString(),
		AppId:       b.origin,
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	}
	if err := b.pub.Publish(ctx, rabbit.ChangedKey, msg); err != nil {
		observability.NotifyFailures.Inc()
		b.logger.WithError(err).WithField("show_id", ev.ShowID).Warn("change event not published")
	}
}

type Notifier interface {
	Publish(ctx context.Context, ev domain.ChangeEvent)
}

// Multi publishes every event to each notifier in turn.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, ev domain.ChangeEvent) {
	for _, n := range m {
		n.Publish(ctx, ev)
	}
}
