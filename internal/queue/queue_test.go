package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestLocalBusFansOut(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := bus.Changes(ctx)
	b, _ := bus.Changes(ctx)
	if err := bus.Publish(ctx, BookingChangedEvent{Type: ChangeCreated, BookingID: "1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for name, ch := range map[string]<-chan BookingChangedEvent{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.BookingID != "1" {
				t.Fatalf("%s: unexpected event %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no event delivered", name)
		}
	}
}

func TestLocalBusClosesOnCancel(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Changes(ctx)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	// Publishing after the listener left must not panic.
	if err := bus.Publish(context.Background(), BookingChangedEvent{Type: ChangeDeleted}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestAppendAuditLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bookings.log")
	ev := BookingChangedEvent{Type: ChangeCreated, BookingID: "abc", Name: "Ana", Date: "2024-03-05", OccurredAt: "2024-03-01T10:00:00Z", Origin: "node-1"}
	body, _ := json.Marshal(ev)

	if err := appendAuditLine(path, body); err != nil {
		t.Fatalf("appendAuditLine: %v", err)
	}
	if err := appendAuditLine(path, body); err != nil {
		t.Fatalf("appendAuditLine: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	want := `[2024-03-01T10:00:00Z] Booking created | booking_id=abc | name="Ana" | date=2024-03-05 | origin=node-1`
	if lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
}

func TestAppendAuditLineRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.log")
	if err := appendAuditLine(path, []byte("{not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func delivery(t *testing.T, ev BookingChangedEvent) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return amqp.Delivery{Body: body}
}

func next(t *testing.T, ch <-chan BookingChangedEvent) BookingChangedEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	return BookingChangedEvent{}
}

func TestForwardSkipsMalformedEvents(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- amqp.Delivery{Body: []byte("{not json")}
	deliveries <- delivery(t, BookingChangedEvent{Type: ChangeCreated, BookingID: "1"})
	close(deliveries)

	out := make(chan BookingChangedEvent, 4)
	err := forward(context.Background(), deliveries, out)
	if err == nil {
		t.Fatal("expected an error once deliveries close")
	}
	if len(out) != 1 {
		t.Fatalf("forwarded %d events, want 1", len(out))
	}
	if ev := <-out; ev.BookingID != "1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestForwardStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := forward(ctx, make(chan amqp.Delivery), make(chan BookingChangedEvent))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type fakeConn struct{ closed atomic.Bool }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestStreamResyncsAfterReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan amqp.Delivery, 1)
	second := make(chan amqp.Delivery, 1)
	conns := []*fakeConn{{}, {}}
	var calls atomic.Int32
	subscribe := func(ctx context.Context) (io.Closer, <-chan amqp.Delivery, error) {
		switch calls.Add(1) {
		case 1:
			return conns[0], first, nil
		case 2:
			return nil, nil, errors.New("broker down")
		default:
			return conns[1], second, nil
		}
	}

	out, err := stream(ctx, subscribe, time.Millisecond)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	first <- delivery(t, BookingChangedEvent{Type: ChangeCreated, BookingID: "1"})
	if ev := next(t, out); ev.BookingID != "1" {
		t.Fatalf("unexpected event %+v", ev)
	}

	close(first)
	if ev := next(t, out); ev.Type != ChangeResync {
		t.Fatalf("expected resync after reconnect, got %+v", ev)
	}
	if !conns[0].closed.Load() {
		t.Fatal("broken connection not closed")
	}
	if calls.Load() != 3 {
		t.Fatalf("subscribe called %d times, want 3", calls.Load())
	}

	second <- delivery(t, BookingChangedEvent{Type: ChangeDeleted, BookingID: "1"})
	if ev := next(t, out); ev.Type != ChangeDeleted {
		t.Fatalf("unexpected event %+v", ev)
	}

	cancel()
	for range out {
	}
	if !conns[1].closed.Load() {
		t.Fatal("connection not closed on cancel")
	}
}

func TestStreamFailsWhenFirstSubscribeFails(t *testing.T) {
	subscribe := func(ctx context.Context) (io.Closer, <-chan amqp.Delivery, error) {
		return nil, nil, errors.New("broker down")
	}
	if _, err := stream(context.Background(), subscribe, time.Millisecond); err == nil {
		t.Fatal("expected error")
	}
}
