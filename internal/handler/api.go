package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/day-claim-calendar/internal/calendar"
	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// apiDay is one grid cell in the JSON calendar.
type apiDay struct {
	Date           string   `json:"date"`
	Number         int      `json:"number"`
	InCurrentMonth bool     `json:"in_current_month"`
	IsToday        bool     `json:"is_today"`
	Count          int      `json:"count"`
	Label          string   `json:"label,omitempty"`
	Names          []string `json:"names"`
	Overflow       int      `json:"overflow"`
}

// monthParam reads ?month=YYYY-MM, defaulting to the current month.
func (h *CalendarHandler) monthParam(c echo.Context) (time.Time, bool) {
	m := c.QueryParam("month")
	if m == "" {
		return calendar.MonthRange(h.Sessions.Now()).First, true
	}
	t, err := calendar.ParseMonth(m, h.Sessions.Location())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ListBookings returns the bookings of a month in store order.
// Response JSON: {"month": "YYYY-MM", "items": [...]}.
func (h *CalendarHandler) ListBookings(c echo.Context) error {
	ref, ok := h.monthParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "month must be YYYY-MM"})
	}
	prefix := ref.Format(calendar.MonthLayout) + "-"
	items := make([]model.Booking, 0)
	for _, b := range h.State.Bookings() {
		if strings.HasPrefix(b.Date, prefix) {
			items = append(items, b)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"month": ref.Format(calendar.MonthLayout), "items": items})
}

// MonthGrid returns the padded month grid with cell labels.
func (h *CalendarHandler) MonthGrid(c echo.Context) error {
	ref, ok := h.monthParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "month must be YYYY-MM"})
	}
	m := calendar.Build(ref, h.Sessions.Now(), h.State.Bookings(), h.Locale)
	days := make([]apiDay, 0, len(m.Days))
	for _, d := range m.Days {
		names := make([]string, 0, 2)
		for _, b := range d.Visible() {
			names = append(names, b.Name)
		}
		days = append(days, apiDay{
			Date:           d.Key,
			Number:         d.Number,
			InCurrentMonth: d.InCurrentMonth,
			IsToday:        d.IsToday,
			Count:          d.Count(),
			Label:          d.CountLabel(),
			Names:          names,
			Overflow:       d.Overflow(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"month":    m.Key,
		"title":    m.Title,
		"weekdays": m.Weekdays,
		"days":     days,
	})
}
