// Package booking holds the modal form a visitor uses to claim a day or
// remove themselves from one.  The form never edits the booking list: it
// only issues writes and reports their outcome as notifications.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/day-claim-calendar/internal/calendar"
	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// ErrNoDaySelected is returned by Submit when the modal has no day.
var ErrNoDaySelected = errors.New("no day selected")

// Writer issues booking writes against the store.
type Writer interface {
	Create(ctx context.Context, name, date string) error
	DeleteByID(ctx context.Context, id string) error
}

// Notifier receives outcome messages.
type Notifier interface {
	Push(message string, severity model.Severity) string
}

// State is a copy of the form's transient UI state.
type State struct {
	SelectedDay *time.Time
	IsOpen      bool
	NameInput   string
}

// Form is the modal controller of one visitor.
type Form struct {
	writer Writer
	notes  Notifier

	// notifyDeleteFailures surfaces failed removals as error toasts.  Off by
	// default: failed removals are only logged.
	notifyDeleteFailures bool

	mu          sync.Mutex
	selectedDay *time.Time
	isOpen      bool
	nameInput   string
}

// Option configures a Form.
type Option func(*Form)

// WithDeleteFailureNotices makes Remove push an error toast on failure.
func WithDeleteFailureNotices(on bool) Option {
	return func(f *Form) { f.notifyDeleteFailures = on }
}

// NewForm returns a closed form.
func NewForm(w Writer, n Notifier, opts ...Option) *Form {
	f := &Form{writer: w, notes: n}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Open selects day and shows the modal.  The typed name is kept.
func (f *Form) Open(day time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := calendar.DayOf(day)
	f.selectedDay = &d
	f.isOpen = true
}

// Close hides the modal.
func (f *Form) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isOpen = false
}

// SetName replaces the name input.
func (f *Form) SetName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameInput = name
}

// State returns a snapshot of the form.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := State{IsOpen: f.isOpen, NameInput: f.nameInput}
	if f.selectedDay != nil {
		d := *f.selectedDay
		s.SelectedDay = &d
	}
	return s
}

// Submit claims the selected day for the typed name.  A blank name is
// ignored without a notification.  On success the input is cleared and the
// modal closed; on failure both are left as they were.
func (f *Form) Submit(ctx context.Context) error {
	f.mu.Lock()
	name := f.nameInput
	var day time.Time
	hasDay := f.selectedDay != nil
	if hasDay {
		day = *f.selectedDay
	}
	f.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return nil
	}
	if !hasDay {
		return ErrNoDaySelected
	}

	if err := f.writer.Create(ctx, name, calendar.DayKey(day)); err != nil {
		log.Printf("booking: create %q on %s failed: %v", name, calendar.DayKey(day), err)
		f.notes.Push("Error al guardar", model.SeverityError)
		return err
	}

	f.notes.Push(fmt.Sprintf("¡%s se ha unido al día %d!", name, day.Day()), model.SeverityInfo)
	f.mu.Lock()
	f.nameInput = ""
	f.isOpen = false
	f.mu.Unlock()
	return nil
}

// Remove deletes a booking on behalf of its claimant.
func (f *Form) Remove(ctx context.Context, id, name string) error {
	if err := f.writer.DeleteByID(ctx, id); err != nil {
		log.Printf("booking: delete %s failed: %v", id, err)
		if f.notifyDeleteFailures {
			f.notes.Push("Error al borrar", model.SeverityError)
		}
		return err
	}
	f.notes.Push(fmt.Sprintf("%s se ha retirado.", name), model.SeverityInfo)
	return nil
}
