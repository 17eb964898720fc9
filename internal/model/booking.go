package model

import "time"

// Booking is a claim on a calendar day.  One row of the `bookings`
// table; it is created by a visitor and only ever deleted, never
// updated in place.
//
// Fields:
//	ID        – opaque identifier assigned on creation.
//	Name      – display name exactly as typed by the claimant.
//	Date      – calendar day in canonical YYYY-MM-DD form.
//	CreatedAt – creation timestamp (UTC), informational only.
type Booking struct {
	ID        string    `json:"id"`         // bookings.id
	Name      string    `json:"name"`       // bookings.name
	Date      string    `json:"date"`       // bookings.date
	CreatedAt time.Time `json:"created_at"` // bookings.created_at
}
