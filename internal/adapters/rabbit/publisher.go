package rabbit

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange   = "seats.events"
	ChangedKey = "seats.changed"
)

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
}

// dial opens a fresh connection and channel with the exchange declared.
func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}
	if err := declareExchange(ch); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "declare exchange")
	}
	return conn, ch, nil
}

// Publisher owns its connection and redials on the next Publish after the
// broker drops it.
type Publisher struct {
	url  string
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string) (*Publisher, error) {
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{url: url, conn: conn, ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		p.resetLocked()
		conn, ch, err := dial(p.url)
		if err != nil {
			return err
		}
		p.conn, p.ch = conn, ch
	}
	if err := p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg); err != nil {
		p.resetLocked()
		return errors.Wrapf(err, "publish %s", key)
	}
	return nil
}

func (p *Publisher) resetLocked() {
	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		p.conn, p.ch = nil, nil
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}
