// Package handler exposes the calendar's HTML pages, fragments, SSE stream
// and JSON API.
package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/day-claim-calendar/internal/app"
	"github.com/iliyamo/day-claim-calendar/internal/booking"
	"github.com/iliyamo/day-claim-calendar/internal/calendar"
	"github.com/iliyamo/day-claim-calendar/internal/export"
	"github.com/iliyamo/day-claim-calendar/internal/middleware"
	"github.com/iliyamo/day-claim-calendar/internal/model"
	"github.com/iliyamo/day-claim-calendar/internal/session"
)

// CalendarHandler serves every visitor-facing route.  All booking data is
// read from State; per-visitor UI state comes from the request's session.
type CalendarHandler struct {
	State    *app.State
	Sessions *session.Manager
	Export   *export.Service
	Locale   calendar.Locale

	// KeepAlive is the SSE comment interval; zero means 25s.
	KeepAlive time.Duration
}

type pageView struct {
	Lang   string
	Month  calendar.Month
	Modal  *modalView
	Toasts []model.Notification
}

type modalView struct {
	Title    string
	Date     string
	Bookings []model.Booking
	Name     string
}

func (h *CalendarHandler) view(s *session.Session) pageView {
	bookings := h.State.Bookings()
	v := pageView{
		Lang:   h.Locale.Code()[:2],
		Month:  calendar.Build(s.Month(), h.Sessions.Now(), bookings, h.Locale),
		Toasts: s.Notes.List(),
	}
	if st := s.Form.State(); st.IsOpen && st.SelectedDay != nil {
		day := *st.SelectedDay
		v.Modal = &modalView{
			Title:    h.Locale.DayTitle(day),
			Date:     calendar.DayKey(day),
			Bookings: calendar.BookingsForDay(day, bookings),
			Name:     st.NameInput,
		}
	}
	return v
}

func backHome(c echo.Context) error { return c.Redirect(http.StatusSeeOther, "/") }

// Page renders the full calendar.  ?month=YYYY-MM switches the displayed
// month first.
func (h *CalendarHandler) Page(c echo.Context) error {
	s := middleware.CurrentSession(c)
	if m := c.QueryParam("month"); m != "" {
		t, err := calendar.ParseMonth(m, h.Sessions.Location())
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid month")
		}
		s.SetMonth(t)
	}
	return c.Render(http.StatusOK, "page", h.view(s))
}

// Grid renders only the month grid, for live refresh.
func (h *CalendarHandler) Grid(c echo.Context) error {
	return c.Render(http.StatusOK, "grid", h.view(middleware.CurrentSession(c)))
}

// Modal renders only the modal slot, empty while the modal is closed, so the
// open day's list follows the live snapshot.
func (h *CalendarHandler) Modal(c echo.Context) error {
	return c.Render(http.StatusOK, "modal-slot", h.view(middleware.CurrentSession(c)))
}

// Toasts renders only the notification stack.
func (h *CalendarHandler) Toasts(c echo.Context) error {
	return c.Render(http.StatusOK, "toasts", middleware.CurrentSession(c).Notes.List())
}

// Print renders the displayed month in a print layout.
func (h *CalendarHandler) Print(c echo.Context) error {
	return c.Render(http.StatusOK, "print", h.view(middleware.CurrentSession(c)))
}

// PrevMonth moves the displayed month back by one.
func (h *CalendarHandler) PrevMonth(c echo.Context) error {
	s := middleware.CurrentSession(c)
	s.SetMonth(calendar.PrevMonth(s.Month()))
	return backHome(c)
}

// NextMonth moves the displayed month forward by one.
func (h *CalendarHandler) NextMonth(c echo.Context) error {
	s := middleware.CurrentSession(c)
	s.SetMonth(calendar.NextMonth(s.Month()))
	return backHome(c)
}

// OpenDay opens the booking modal for :date.  Days of the neighbouring
// months shown on the grid can be opened too.
func (h *CalendarHandler) OpenDay(c echo.Context) error {
	day, err := calendar.ParseDay(c.Param("date"), h.Sessions.Location())
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid date")
	}
	s := middleware.CurrentSession(c)
	s.Form.Open(day)
	return c.Render(http.StatusOK, "page", h.view(s))
}

// CloseModal hides the modal, keeping the typed name.
func (h *CalendarHandler) CloseModal(c echo.Context) error {
	middleware.CurrentSession(c).Form.Close()
	return backHome(c)
}

// Submit claims the modal's day for the posted name.
func (h *CalendarHandler) Submit(c echo.Context) error {
	s := middleware.CurrentSession(c)
	s.Form.SetName(c.FormValue("name"))
	if err := s.Form.Submit(c.Request().Context()); errors.Is(err, booking.ErrNoDaySelected) {
		return c.String(http.StatusBadRequest, "no day selected")
	}
	// Failures are reported through the toast queue; the modal stays open.
	return backHome(c)
}

// Remove deletes booking :id.  The name shown in the confirmation is taken
// from the current snapshot.
func (h *CalendarHandler) Remove(c echo.Context) error {
	id := c.Param("id")
	name := c.FormValue("name")
	for _, b := range h.State.Bookings() {
		if b.ID == id {
			name = b.Name
			break
		}
	}
	if err := middleware.CurrentSession(c).Form.Remove(c.Request().Context(), id, name); err != nil {
		// Form.Remove has logged it; the modal stays open on the same list.
		return backHome(c)
	}
	return backHome(c)
}

// Dismiss removes toast :id.
func (h *CalendarHandler) Dismiss(c echo.Context) error {
	middleware.CurrentSession(c).Notes.Dismiss(c.Param("id"))
	return backHome(c)
}

// ExportExcel downloads the displayed month as an .xlsx workbook.  With
// nothing to export the visitor is sent back with an informational toast.
func (h *CalendarHandler) ExportExcel(c echo.Context) error {
	s := middleware.CurrentSession(c)
	open := func(filename string) io.Writer {
		hdr := c.Response().Header()
		hdr.Set(echo.HeaderContentType, export.ContentType)
		hdr.Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
		return c.Response()
	}
	err := h.Export.ExportMonth(s.Month(), h.State.Bookings(), s.Notes, open)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, export.ErrNothingToExport):
		return backHome(c)
	default:
		log.Printf("export: %v", err)
		if c.Response().Committed {
			return nil
		}
		c.Response().Header().Del(echo.HeaderContentType)
		c.Response().Header().Del(echo.HeaderContentDisposition)
		s.Notes.Push("Error al generar el archivo", model.SeverityError)
		return backHome(c)
	}
}
