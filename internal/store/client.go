// Package store is the live client for the bookings collection.  It mirrors
// the collection as full snapshots: every subscriber receives the complete
// current set on subscribe and again after every insert or delete made by
// any connected instance.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/day-claim-calendar/internal/calendar"
	"github.com/iliyamo/day-claim-calendar/internal/model"
	"github.com/iliyamo/day-claim-calendar/internal/queue"
)

// ErrInvalidBooking is returned by Create for an empty name or a date that
// is not in YYYY-MM-DD form.
var ErrInvalidBooking = errors.New("invalid booking")

// Repository is the backing collection.
type Repository interface {
	List(ctx context.Context) ([]model.Booking, error)
	Insert(ctx context.Context, b model.Booking) error
	DeleteByID(ctx context.Context, id string) error
}

// ChangeBus carries change signals between instances.
type ChangeBus interface {
	Publish(ctx context.Context, ev queue.BookingChangedEvent) error
	Changes(ctx context.Context) (<-chan queue.BookingChangedEvent, error)
}

// Client mirrors the bookings collection for its subscribers.
type Client struct {
	repo   Repository
	bus    ChangeBus
	origin string
	now    func() time.Time

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	latest  []model.Booking
	loaded  bool
	version atomic.Uint64

	refreshMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// WithOrigin sets the instance name recorded on published events.
func WithOrigin(origin string) Option { return func(c *Client) { c.origin = origin } }

// New returns a Client reading from repo and listening on bus.
func New(repo Repository, bus ChangeBus, opts ...Option) *Client {
	c := &Client{
		repo: repo,
		bus:  bus,
		now:  time.Now,
		subs: make(map[*Subscription]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run consumes the change bus and reloads the snapshot for every event
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	changes, err := c.bus.Changes(ctx)
	if err != nil {
		return fmt.Errorf("store: subscribe to changes: %w", err)
	}
	return c.consume(ctx, changes)
}

// Start registers on the change bus before returning and consumes it in the
// background until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	changes, err := c.bus.Changes(ctx)
	if err != nil {
		return fmt.Errorf("store: subscribe to changes: %w", err)
	}
	go c.consume(ctx, changes)
	return nil
}

func (c *Client) consume(ctx context.Context, changes <-chan queue.BookingChangedEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-changes:
			if !ok {
				return ctx.Err()
			}
			if err := c.Refresh(ctx); err != nil {
				log.Printf("store: refresh after %s event failed: %v", ev.Type, err)
			}
		}
	}
}

// Refresh reloads the full collection and emits it to every subscriber.
// Concurrent refreshes are serialized so snapshots are emitted in load order.
func (c *Client) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap, err := c.repo.List(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = []model.Booking{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = snap
	c.loaded = true
	c.version.Add(1)
	for s := range c.subs {
		s.offer(snap)
	}
	return nil
}

// Version counts emitted snapshots.  It changes whenever the mirrored
// collection may have changed.
func (c *Client) Version() uint64 { return c.version.Load() }

// Snapshot returns the most recent snapshot and whether one was loaded.
// Callers must not modify the returned slice.
func (c *Client) Snapshot() ([]model.Booking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.loaded
}

// Watch opens a subscription.  The current snapshot is loaded first if
// none has been loaded yet, and is available on the channel immediately.
func (c *Client) Watch(ctx context.Context) (*Subscription, error) {
	if _, ok := c.Snapshot(); !ok {
		if err := c.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("store: initial load: %w", err)
		}
	}
	s := &Subscription{client: c, ch: make(chan []model.Booking, 1)}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	s.offer(c.latest)
	c.mu.Unlock()
	return s, nil
}

// Subscribe calls onChange with the complete current set before returning,
// and again after every change.  Calls are sequential.  The returned
// function stops delivery; once it returns onChange is not invoked again.
// It is safe to call more than once but must not be called from inside
// onChange.
func (c *Client) Subscribe(ctx context.Context, onChange func([]model.Booking)) (func(), error) {
	s, err := c.Watch(ctx)
	if err != nil {
		return nil, err
	}
	// Watch has already queued the current snapshot.
	onChange(<-s.Snapshots())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range s.Snapshots() {
			onChange(snap)
		}
	}()
	return func() {
		s.Close()
		<-done
	}, nil
}

// Create validates and inserts a booking.  The name is stored as typed.
// The booking becomes visible only through the next snapshot.
func (c *Client) Create(ctx context.Context, name, date string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidBooking)
	}
	if _, err := calendar.ParseDay(date, time.UTC); err != nil {
		return fmt.Errorf("%w: date %q", ErrInvalidBooking, date)
	}
	b := model.Booking{
		ID:        uuid.NewString(),
		Name:      name,
		Date:      date,
		CreatedAt: c.now().UTC(),
	}
	if err := c.repo.Insert(ctx, b); err != nil {
		return fmt.Errorf("store: insert booking: %w", err)
	}
	c.announce(ctx, queue.BookingChangedEvent{Type: queue.ChangeCreated, BookingID: b.ID, Name: b.Name, Date: b.Date})
	return nil
}

// DeleteByID removes a booking.  Removing a missing id succeeds.
func (c *Client) DeleteByID(ctx context.Context, id string) error {
	if err := c.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("store: delete booking: %w", err)
	}
	c.announce(ctx, queue.BookingChangedEvent{Type: queue.ChangeDeleted, BookingID: id})
	return nil
}

// announce publishes a change.  When the bus is unavailable the write has
// still happened, so local subscribers are refreshed directly.
func (c *Client) announce(ctx context.Context, ev queue.BookingChangedEvent) {
	ev.OccurredAt = c.now().UTC().Format(time.RFC3339)
	ev.Origin = c.origin
	if err := c.bus.Publish(ctx, ev); err != nil {
		log.Printf("store: publish %s event failed: %v; refreshing locally", ev.Type, err)
		if err := c.Refresh(ctx); err != nil {
			log.Printf("store: local refresh failed: %v", err)
		}
	}
}

func (c *Client) remove(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[s]; ok {
		delete(c.subs, s)
		close(s.ch)
	}
}

// Subscription is one consumer of snapshot emissions.  Delivery is
// latest-wins: if the consumer has not taken the previous snapshot it is
// replaced by the newer one.
type Subscription struct {
	client *Client
	ch     chan []model.Booking
	once   sync.Once
}

// Snapshots yields full collection snapshots.  It is closed by Close.
func (s *Subscription) Snapshots() <-chan []model.Booking { return s.ch }

// Close stops delivery.  Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() { s.client.remove(s) })
}

// offer must be called with client.mu held.
func (s *Subscription) offer(snap []model.Booking) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
