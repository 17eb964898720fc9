package queue

import (
	"context"
	"sync"
)

// LocalBus is an in-process fanout used when no broker is configured and in
// tests.  Every channel returned by Changes receives every published event;
// a listener that falls behind by more than the buffer drops events, which is
// harmless because each event only triggers a full reload.
type LocalBus struct {
	mu        sync.Mutex
	listeners map[chan BookingChangedEvent]struct{}
}

// NewLocalBus returns an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{listeners: make(map[chan BookingChangedEvent]struct{})}
}

// Publish delivers ev to every current listener without blocking.
func (b *LocalBus) Publish(ctx context.Context, ev BookingChangedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Changes registers a listener.  The channel is closed when ctx is done.
func (b *LocalBus) Changes(ctx context.Context) (<-chan BookingChangedEvent, error) {
	ch := make(chan BookingChangedEvent, 16)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.listeners, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Close is a no-op; it exists so LocalBus and AMQPBus are interchangeable.
func (b *LocalBus) Close() error { return nil }
