// Package notify implements the per-visitor toast queue.  Entries expire on
// their own after a fixed delay; dismissing one early cancels its timer.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// DefaultTTL is how long a toast stays visible.
const DefaultTTL = 3000 * time.Millisecond

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type entry struct {
	note  model.Notification
	timer Timer
}

// Queue is an ordered, unbounded list of notifications.
type Queue struct {
	ttl   time.Duration
	sched Scheduler
	newID func() string

	mu      sync.Mutex
	entries []entry
	changed chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithTTL overrides the auto-expiry delay.
func WithTTL(d time.Duration) Option { return func(q *Queue) { q.ttl = d } }

// WithScheduler overrides the timer source.
func WithScheduler(s Scheduler) Option { return func(q *Queue) { q.sched = s } }

// NewQueue returns an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		ttl:     DefaultTTL,
		sched:   realScheduler{},
		newID:   newID,
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// newID returns a time-ordered unique id (UUIDv7).
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Push appends a notification and schedules its removal.  An empty severity
// means info.  It returns the new entry's id.
func (q *Queue) Push(message string, severity model.Severity) string {
	if severity == "" {
		severity = model.SeverityInfo
	}
	n := model.Notification{ID: q.newID(), Message: message, Severity: severity}

	q.mu.Lock()
	q.entries = append(q.entries, entry{note: n})
	q.notifyLocked()
	q.mu.Unlock()

	// Scheduled outside the lock so a scheduler may fire synchronously.
	t := q.sched.AfterFunc(q.ttl, func() { q.expire(n.ID) })

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].note.ID == n.ID {
			q.entries[i].timer = t
			return n.ID
		}
	}
	// Already dismissed or expired.
	t.Stop()
	return n.ID
}

// Dismiss removes an entry immediately and cancels its timer.  It reports
// whether the id was present.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.removeLocked(id)
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	q.notifyLocked()
	return true
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.removeLocked(id); ok {
		q.notifyLocked()
	}
}

func (q *Queue) removeLocked(id string) (entry, bool) {
	for i, e := range q.entries {
		if e.note.ID == id {
			q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return entry{}, false
}

// List returns the current notifications in push order.
func (q *Queue) List() []model.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Notification, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.note
	}
	return out
}

// Len returns the number of pending notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Changed returns a channel that is closed on the next push, dismissal or
// expiry.  Call it again after it fires to keep watching.
func (q *Queue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

// Clear dismisses every entry.  Used when a session is discarded so no
// timers outlive it.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	if len(q.entries) > 0 {
		q.entries = nil
		q.notifyLocked()
	}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
