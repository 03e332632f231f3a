package rabbit

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads change events through a private queue. The queue is
// exclusive and auto-deleted, so a process only sees events published while
// it is connected.
type Consumer struct {
	url        string
	bindingKey string
	mu         sync.Mutex
	conn       *amqp.Connection
}

func NewConsumer(url, bindingKey string) *Consumer {
	return &Consumer{url: url, bindingKey: bindingKey}
}

// Consume dials a new connection, declares and binds a fresh queue and starts
// delivery with auto-ack. Every call replaces the previous connection, so a
// caller recovers from a dropped broker by calling Consume again. The channel
// closes when ctx is done or the connection drops.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	conn, ch, err := dial(c.url)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "declare queue")
	}
	if err := ch.QueueBind(q.Name, c.bindingKey, Exchange, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "bind queue to %s", c.bindingKey)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "consume")
	}
	c.conn = conn
	return deliveries, nil
}

func (c *Consumer) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	var err error
	if !c.conn.IsClosed() {
		err = c.conn.Close()
	}
	c.conn = nil
	return err
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}
