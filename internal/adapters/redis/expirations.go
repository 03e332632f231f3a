package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ExpirySubscription streams the names of keys Redis expired in one database.
type ExpirySubscription struct {
	client *redis.Client
	db     int
}

func NewExpirySubscription(client *redis.Client) *ExpirySubscription {
	return &ExpirySubscription{client: client, db: client.Options().DB}
}

func (s *ExpirySubscription) channel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", s.db)
}

// EnableNotifications turns on expired-key events. Managed Redis offerings
// often forbid CONFIG SET; there the setting must be applied out of band.
func (s *ExpirySubscription) EnableNotifications(ctx context.Context) error {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return unavailable(err, "enable keyspace notifications")
	}
	return nil
}

// Expirations subscribes and returns a channel of expired keys. The channel
// closes when ctx is done or the subscription breaks; the caller resubscribes.
// Events fired while no subscription is active are lost.
func (s *ExpirySubscription) Expirations(ctx context.Context) (<-chan string, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable(err, "subscribe to expirations")
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
