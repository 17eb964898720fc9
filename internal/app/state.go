// Package app holds the process-wide application state and wires it to the
// live store subscription.
package app

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// State owns the bookings mirror shown to every visitor.  ReplaceBookings is
// the only way to change it.
type State struct {
	mu       sync.RWMutex
	bookings []model.Booking
	version  uint64
	digest   string
	loaded   bool
	changed  chan struct{}
}

// NewState returns an empty, not-yet-loaded state.
func NewState() *State {
	return &State{bookings: []model.Booking{}, changed: make(chan struct{})}
}

// ReplaceBookings installs a new full snapshot.
func (s *State) ReplaceBookings(snap []model.Booking) {
	cp := make([]model.Booking, len(snap))
	copy(cp, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = cp
	s.digest = fingerprint(cp)
	s.version++
	s.loaded = true
	close(s.changed)
	s.changed = make(chan struct{})
}

// Bookings returns the current snapshot.  Callers must not modify it.
func (s *State) Bookings() []model.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookings
}

// Version counts replacements.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Loaded reports whether a snapshot has arrived.
func (s *State) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Changed returns a channel closed on the next replacement.
func (s *State) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Fingerprint identifies the content of the current snapshot.  Instances
// mirroring the same collection report the same value regardless of how many
// snapshots each has received.
func (s *State) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digest
}

func fingerprint(snap []model.Booking) string {
	ids := make([]int, len(snap))
	for i := range ids {
		ids[i] = i
	}
	sort.Slice(ids, func(a, b int) bool { return snap[ids[a]].ID < snap[ids[b]].ID })
	h := sha256.New()
	for _, i := range ids {
		b := snap[i]
		h.Write([]byte(b.ID))
		h.Write([]byte{0})
		h.Write([]byte(b.Name))
		h.Write([]byte{0})
		h.Write([]byte(b.Date))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
