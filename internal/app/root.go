package app

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// Subscriber is the live feed the root listens to.
type Subscriber interface {
	Subscribe(ctx context.Context, onChange func([]model.Booking)) (func(), error)
}

// Root subscribes State to the store for the lifetime of the process.
type Root struct {
	State *State
	feed  Subscriber

	mu          sync.Mutex
	unsubscribe func()
	closeOnce   sync.Once
}

// NewRoot returns a root that has not started listening yet.
func NewRoot(feed Subscriber) *Root {
	return &Root{State: NewState(), feed: feed}
}

// Start opens the subscription.  Every snapshot replaces State wholesale;
// the first one has been applied by the time Start returns.
func (r *Root) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return errors.New("app: already started")
	}
	unsub, err := r.feed.Subscribe(ctx, r.State.ReplaceBookings)
	if err != nil {
		return err
	}
	r.unsubscribe = unsub
	log.Printf("app: subscribed to bookings")
	return nil
}

// Close tears the subscription down exactly once.
func (r *Root) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		unsub := r.unsubscribe
		r.mu.Unlock()
		if unsub != nil {
			unsub()
			log.Printf("app: unsubscribed from bookings")
		}
	})
}
