package repository

import (
	"context"
	"sync"

	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// MemoryBookingRepo keeps bookings in process memory.  It backs STORAGE=memory
// and tests; contents are lost on restart.
type MemoryBookingRepo struct {
	mu   sync.RWMutex
	rows []model.Booking
}

// NewMemoryBookingRepo returns an empty repository.
func NewMemoryBookingRepo() *MemoryBookingRepo { return &MemoryBookingRepo{} }

// List returns a copy of all bookings in insertion order.
func (r *MemoryBookingRepo) List(ctx context.Context) ([]model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Booking, len(r.rows))
	copy(out, r.rows)
	return out, nil
}

// Insert appends a booking.
func (r *MemoryBookingRepo) Insert(ctx context.Context, b model.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.ID == b.ID {
			return ErrDuplicateID
		}
	}
	r.rows = append(r.rows, b)
	return nil
}

// DeleteByID removes a booking if present.
func (r *MemoryBookingRepo) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.rows {
		if b.ID == id {
			r.rows = append(r.rows[:i:i], r.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// Ping always succeeds.
func (r *MemoryBookingRepo) Ping(ctx context.Context) error { return nil }
