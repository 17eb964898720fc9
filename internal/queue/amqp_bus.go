package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBus carries BookingChangedEvents over a RabbitMQ fanout exchange so
// that every service instance observes writes made through any other.
// Publishing reuses one connection guarded by a mutex and redials lazily
// after a failure; each Changes call owns its own connection and an
// exclusive, server-named queue that disappears with it.
type AMQPBus struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialBus connects to the broker and declares the exchange (idempotent).
func DialBus(url, exchange string) (*AMQPBus, error) {
	b := &AMQPBus{url: url, exchange: exchange}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQPBus) connectLocked() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, b.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	b.conn, b.ch = conn, ch
	return nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	// Durable so the exchange survives broker restarts.
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// Publish sends ev as persistent JSON.  A broken connection is redialed once.
func (b *AMQPBus) Publish(ctx context.Context, ev BookingChangedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil || b.ch.IsClosed() {
		b.closeLocked()
		if err := b.connectLocked(); err != nil {
			log.Printf("rabbitmq: reconnect for publish failed: %v", err)
			return err
		}
	}
	if err := b.ch.PublishWithContext(ctx, b.exchange, "", false, false, pub); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		b.closeLocked()
		return err
	}
	return nil
}

// Changes streams events from the exchange until ctx is cancelled.  The
// stream survives broker outages: it reconnects with exponential backoff and
// emits a ChangeResync event after each reconnect.
func (b *AMQPBus) Changes(ctx context.Context) (<-chan BookingChangedEvent, error) {
	return stream(ctx, b.subscribe, time.Second)
}

// subscribeFunc opens one consuming connection.  Closing the returned
// io.Closer ends its deliveries.
type subscribeFunc func(ctx context.Context) (io.Closer, <-chan amqp.Delivery, error)

const maxBackoff = 30 * time.Second

func stream(ctx context.Context, subscribe subscribeFunc, retry time.Duration) (<-chan BookingChangedEvent, error) {
	conn, deliveries, err := subscribe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan BookingChangedEvent, 16)
	go func() {
		defer close(out)
		for {
			err := forward(ctx, deliveries, out)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			log.Printf("bookings-feed: consume loop ended: %v; reconnecting", err)
			backoff := retry
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				conn, deliveries, err = subscribe(ctx)
				if err == nil {
					break
				}
				log.Printf("bookings-feed: failed to resubscribe: %v; retrying in %s", err, backoff)
				if backoff < maxBackoff {
					backoff *= 2
				}
			}
			// Events published while disconnected are lost; subscribers reload.
			select {
			case out <- BookingChangedEvent{Type: ChangeResync, OccurredAt: time.Now().UTC().Format(time.RFC3339)}:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()
	return out, nil
}

func (b *AMQPBus) subscribe(ctx context.Context) (io.Closer, <-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, b.exchange); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue consume: %w", err)
	}
	return conn, deliveries, nil
}

func forward(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- BookingChangedEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			var ev BookingChangedEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Printf("bookings-feed: drop malformed event: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (b *AMQPBus) closeLocked() {
	if b.ch != nil {
		_ = b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

// Close releases the publishing connection.  Streams returned by Changes
// are released by cancelling their context.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}
