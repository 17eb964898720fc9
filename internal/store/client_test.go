package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/day-claim-calendar/internal/model"
	"github.com/iliyamo/day-claim-calendar/internal/queue"
	"github.com/iliyamo/day-claim-calendar/internal/repository"
)

// failingBus accepts subscribers but rejects every publish.
type failingBus struct{}

func (failingBus) Publish(ctx context.Context, ev queue.BookingChangedEvent) error {
	return errors.New("broker unreachable")
}

func (failingBus) Changes(ctx context.Context) (<-chan queue.BookingChangedEvent, error) {
	ch := make(chan queue.BookingChangedEvent)
	go func() { <-ctx.Done(); close(ch) }()
	return ch, nil
}

type errRepo struct{ repository.MemoryBookingRepo }

func (*errRepo) Insert(ctx context.Context, b model.Booking) error { return errors.New("write refused") }

func receive(t *testing.T, ch <-chan []model.Booking) []model.Booking {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
	return nil
}

func startClient(t *testing.T, repo Repository, bus ChangeBus) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := New(repo, bus, WithOrigin("test"))
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func TestWatchDeliversInitialSnapshot(t *testing.T) {
	repo := repository.NewMemoryBookingRepo()
	_ = repo.Insert(context.Background(), model.Booking{ID: "a", Name: "Ana", Date: "2024-03-05"})
	c := New(repo, queue.NewLocalBus())

	s, err := c.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()
	snap := receive(t, s.Snapshots())
	if len(snap) != 1 || snap[0].ID != "a" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if c.Version() != 1 {
		t.Fatalf("Version = %d", c.Version())
	}
}

func TestWatchEmptyCollection(t *testing.T) {
	c := New(repository.NewMemoryBookingRepo(), queue.NewLocalBus())
	s, err := c.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()
	if snap := receive(t, s.Snapshots()); snap == nil || len(snap) != 0 {
		t.Fatalf("expected empty non-nil snapshot, got %#v", snap)
	}
}

func TestCreateAndDeleteEmitSnapshots(t *testing.T) {
	bus := queue.NewLocalBus()
	c := startClient(t, repository.NewMemoryBookingRepo(), bus)

	s, err := c.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()
	receive(t, s.Snapshots())

	if err := c.Create(context.Background(), "Ana", "2024-03-05"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap := receive(t, s.Snapshots())
	if len(snap) != 1 || snap[0].Name != "Ana" || snap[0].Date != "2024-03-05" || snap[0].ID == "" {
		t.Fatalf("unexpected snapshot after create: %+v", snap)
	}

	if err := c.DeleteByID(context.Background(), snap[0].ID); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if got := receive(t, s.Snapshots()); len(got) != 0 {
		t.Fatalf("expected empty snapshot after delete, got %+v", got)
	}
}

func TestDeleteMissingIDSucceeds(t *testing.T) {
	c := New(repository.NewMemoryBookingRepo(), queue.NewLocalBus())
	if err := c.DeleteByID(context.Background(), "nope"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
}

func TestCreateValidates(t *testing.T) {
	c := New(repository.NewMemoryBookingRepo(), queue.NewLocalBus())
	cases := []struct{ name, date string }{
		{"", "2024-03-05"},
		{"   ", "2024-03-05"},
		{"Ana", "05/03/2024"},
		{"Ana", "2024-3-5"},
		{"Ana", ""},
	}
	for _, tc := range cases {
		if err := c.Create(context.Background(), tc.name, tc.date); !errors.Is(err, ErrInvalidBooking) {
			t.Errorf("Create(%q, %q) = %v, want ErrInvalidBooking", tc.name, tc.date, err)
		}
	}
}

func TestCreateKeepsNameAsTyped(t *testing.T) {
	repo := repository.NewMemoryBookingRepo()
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	c := New(repo, queue.NewLocalBus(), WithClock(func() time.Time { return at }))
	if err := c.Create(context.Background(), "  Eva ", "2024-03-05"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rows, _ := repo.List(context.Background())
	if len(rows) != 1 || rows[0].Name != "  Eva " || !rows[0].CreatedAt.Equal(at) {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestCreateInsertFailure(t *testing.T) {
	c := New(&errRepo{}, queue.NewLocalBus())
	s, _ := c.Watch(context.Background())
	defer s.Close()
	receive(t, s.Snapshots())
	if err := c.Create(context.Background(), "Ana", "2024-03-05"); err == nil {
		t.Fatal("expected insert error")
	}
	select {
	case snap := <-s.Snapshots():
		t.Fatalf("no snapshot expected, got %+v", snap)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPublishFailureRefreshesLocally(t *testing.T) {
	c := startClient(t, repository.NewMemoryBookingRepo(), failingBus{})
	s, err := c.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()
	receive(t, s.Snapshots())

	if err := c.Create(context.Background(), "Ana", "2024-03-05"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap := receive(t, s.Snapshots()); len(snap) != 1 {
		t.Fatalf("expected the new booking, got %+v", snap)
	}
}

func TestLatestWins(t *testing.T) {
	repo := repository.NewMemoryBookingRepo()
	c := New(repo, queue.NewLocalBus())
	s, _ := c.Watch(context.Background())
	defer s.Close()

	for i, id := range []string{"a", "b", "c"} {
		_ = repo.Insert(context.Background(), model.Booking{ID: id, Name: id, Date: "2024-03-0" + string(rune('1'+i))})
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	if snap := receive(t, s.Snapshots()); len(snap) != 3 {
		t.Fatalf("expected only the newest snapshot, got %+v", snap)
	}
	select {
	case <-s.Snapshots():
		t.Fatal("stale snapshot left in channel")
	default:
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	repo := repository.NewMemoryBookingRepo()
	c := New(repo, queue.NewLocalBus())

	var mu sync.Mutex
	var calls int
	got := make(chan struct{}, 8)
	unsubscribe, err := c.Subscribe(context.Background(), func(b []model.Booking) {
		mu.Lock()
		calls++
		mu.Unlock()
		got <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-got

	unsubscribe()
	unsubscribe()

	mu.Lock()
	before := calls
	mu.Unlock()
	_ = repo.Insert(context.Background(), model.Booking{ID: "x", Name: "x", Date: "2024-03-01"})
	_ = c.Refresh(context.Background())
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != before {
		t.Fatalf("callback ran after unsubscribe: %d -> %d", before, calls)
	}
}

func TestSubscribeDeliversBeforeReturning(t *testing.T) {
	repo := repository.NewMemoryBookingRepo()
	_ = repo.Insert(context.Background(), model.Booking{ID: "a", Name: "Ana", Date: "2024-03-05"})
	c := New(repo, queue.NewLocalBus())

	var got []model.Booking
	unsubscribe, err := c.Subscribe(context.Background(), func(b []model.Booking) { got = b })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("initial snapshot not delivered synchronously: %+v", got)
	}
}
