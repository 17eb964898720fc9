// Package session keeps the transient UI state of each visitor: which month
// they are looking at, their booking modal and their toast queue.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/day-claim-calendar/internal/booking"
	"github.com/iliyamo/day-claim-calendar/internal/calendar"
	"github.com/iliyamo/day-claim-calendar/internal/notify"
)

// Session is one visitor's state.
type Session struct {
	ID    string
	Form  *booking.Form
	Notes *notify.Queue

	mu       sync.Mutex
	month    time.Time
	lastSeen time.Time
}

// Month returns the first day of the displayed month.
func (s *Session) Month() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.month
}

// SetMonth changes the displayed month.  Any day of the month may be given.
func (s *Session) SetMonth(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.month = calendar.MonthRange(t).First
}

// Manager creates, finds and expires sessions.
type Manager struct {
	writer        booking.Writer
	idle          time.Duration
	notifyTTL     time.Duration
	deleteNotices bool
	loc           *time.Location
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets how long an untouched session survives.
func WithIdleTimeout(d time.Duration) Option { return func(m *Manager) { m.idle = d } }

// WithNotificationTTL sets the toast lifetime of new sessions.
func WithNotificationTTL(d time.Duration) Option { return func(m *Manager) { m.notifyTTL = d } }

// WithDeleteFailureNotices turns on error toasts for failed removals.
func WithDeleteFailureNotices(on bool) Option { return func(m *Manager) { m.deleteNotices = on } }

// WithLocation sets the zone used for "today" and the initial month.
func WithLocation(loc *time.Location) Option { return func(m *Manager) { m.loc = loc } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager returns a manager whose forms write through w.
func NewManager(w booking.Writer, opts ...Option) *Manager {
	m := &Manager{
		writer:    w,
		idle:      12 * time.Hour,
		notifyTTL: notify.DefaultTTL,
		loc:       time.UTC,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// New starts a session showing the current month.
func (m *Manager) New() *Session {
	notes := notify.NewQueue(notify.WithTTL(m.notifyTTL))
	now := m.now().In(m.loc)
	s := &Session{
		ID:       uuid.NewString(),
		Notes:    notes,
		Form:     booking.NewForm(m.writer, notes, booking.WithDeleteFailureNotices(m.deleteNotices)),
		month:    calendar.MonthRange(now).First,
		lastSeen: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the live session with id and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	s.lastSeen = m.now().In(m.loc)
	s.mu.Unlock()
	return s, true
}

// Now is the manager's clock in its location.
func (m *Manager) Now() time.Time { return m.now().In(m.loc) }

// Location is the zone sessions are built in.
func (m *Manager) Location() *time.Location { return m.loc }

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the timeout and cancels their
// pending toasts.  It returns how many were removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idle)
	var stale []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Notes.Clear()
	}
	return len(stale)
}

// Clear drops every session.  Used on shutdown.
func (m *Manager) Clear() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Notes.Clear()
	}
}
