// Package queue defines message payloads exchanged over the message broker
// and the buses that carry them between service instances.
package queue

// Change types carried by BookingChangedEvent.
const (
	ChangeCreated = "created"
	ChangeDeleted = "deleted"
	// ChangeResync is emitted locally after a broker reconnect, when events
	// may have been missed and listeners should reload everything.
	ChangeResync = "resync"
)

// BookingChangedEvent is published after every successful write to the
// bookings collection.  Listeners treat it as a signal to reload the full
// collection; the payload is informational and used by the audit log.
type BookingChangedEvent struct {
	Type       string `json:"type"`
	BookingID  string `json:"booking_id"`
	Name       string `json:"name,omitempty"`
	Date       string `json:"date,omitempty"`
	OccurredAt string `json:"occurred_at"`
	Origin     string `json:"origin,omitempty"` // instance that performed the write
}
