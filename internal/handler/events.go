package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/day-claim-calendar/internal/middleware"
)

// Events streams Server-Sent Events to the page: "refresh" after every new
// bookings snapshot and "toasts" whenever the visitor's notifications change.
// Comment lines keep idle connections open through proxies.
func (h *CalendarHandler) Events(c echo.Context) error {
	s := middleware.CurrentSession(c)
	// Taken before the headers go out so no change after connect is missed.
	bookings := h.State.Changed()
	notes := s.Notes.Changed()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	every := h.KeepAlive
	if every <= 0 {
		every = 25 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-bookings:
			bookings = h.State.Changed()
			if _, err := fmt.Fprintf(w, "event: refresh\ndata: %d\n\n", h.State.Version()); err != nil {
				return nil
			}
		case <-notes:
			notes = s.Notes.Changed()
			if _, err := fmt.Fprintf(w, "event: toasts\ndata: %d\n\n", s.Notes.Len()); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
		}
		w.Flush()
	}
}
