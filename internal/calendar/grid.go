// Package calendar builds the monthly grid shown to visitors.  Everything
// here is a pure function of a reference date, the current time and the
// booking snapshot; bookings are matched to days by their canonical
// YYYY-MM-DD string, never by comparing time values.
package calendar

import (
	"fmt"
	"time"

	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// DayLayout is the canonical day format used for booking dates.
const DayLayout = "2006-01-02"

// MonthLayout is the format of the ?month= query parameter.
const MonthLayout = "2006-01"

// visibleNames is how many booking names a grid cell shows before
// collapsing the rest into an overflow count.
const visibleNames = 2

// DayKey formats t as YYYY-MM-DD in t's own location.
func DayKey(t time.Time) string { return t.Format(DayLayout) }

// ParseDay parses a YYYY-MM-DD string as that calendar day in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Date(t.Year(), t.Month(), t.Day(), loc), nil
}

// ParseMonth parses a YYYY-MM string as the first of that month in loc.
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Date(t.Year(), t.Month(), 1, loc), nil
}

// Date returns the calendar day y-m-d in loc, normalising out-of-range
// values the way time.Date does.  Days are held at noon: midnight does not
// exist on some DST transition days, and stepping from a normalised 23:00
// would repeat a day.
func Date(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, loc)
}

// DayOf returns the calendar day containing t, in t's location.
func DayOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day(), t.Location())
}

// Range is an inclusive span of calendar days.
type Range struct {
	First time.Time
	Last  time.Time
}

// MonthRange returns the first and last day of the month containing ref.
func MonthRange(ref time.Time) Range {
	y, m, loc := ref.Year(), ref.Month(), ref.Location()
	return Range{First: Date(y, m, 1, loc), Last: Date(y, m+1, 0, loc)}
}

// GridRange extends m back to the preceding Sunday and forward to the
// following Saturday and returns every day in between.  The result always
// has a multiple of 7 days.
func GridRange(m Range) []time.Time {
	lead := int(m.First.Weekday())
	trail := int(time.Saturday - m.Last.Weekday())
	n := lead + span(m.First, m.Last) + trail

	y, mo, d0, loc := m.First.Year(), m.First.Month(), m.First.Day()-lead, m.First.Location()
	days := make([]time.Time, n)
	for i := range days {
		days[i] = Date(y, mo, d0+i, loc)
	}
	return days
}

// span counts the calendar days from first to last inclusive, ignoring the
// length of the days themselves.
func span(first, last time.Time) int {
	a := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a)/(24*time.Hour)) + 1
}

// NextMonth returns the first day of the month after ref.
func NextMonth(ref time.Time) time.Time { return MonthRange(ref).First.AddDate(0, 1, 0) }

// PrevMonth returns the first day of the month before ref.
func PrevMonth(ref time.Time) time.Time { return MonthRange(ref).First.AddDate(0, -1, 0) }

// BookingsForDay returns the bookings whose date equals day's canonical
// string, in the order they appear in bookings.
func BookingsForDay(day time.Time, bookings []model.Booking) []model.Booking {
	key := DayKey(day)
	var out []model.Booking
	for _, b := range bookings {
		if b.Date == key {
			out = append(out, b)
		}
	}
	return out
}

// IndexByDay groups bookings by date, preserving order within each day.
func IndexByDay(bookings []model.Booking) map[string][]model.Booking {
	idx := make(map[string][]model.Booking)
	for _, b := range bookings {
		idx[b.Date] = append(idx[b.Date], b)
	}
	return idx
}

// Day is one grid cell.
type Day struct {
	Date           time.Time
	Key            string
	Number         int
	InCurrentMonth bool
	IsToday        bool
	Bookings       []model.Booking
}

// Count is the number of bookings on the day.
func (d Day) Count() int { return len(d.Bookings) }

// Visible returns the bookings whose names are shown in the cell.
func (d Day) Visible() []model.Booking {
	if len(d.Bookings) <= visibleNames {
		return d.Bookings
	}
	return d.Bookings[:visibleNames]
}

// Overflow is how many bookings are hidden behind the "+ N más" tag.
func (d Day) Overflow() int {
	if n := len(d.Bookings) - visibleNames; n > 0 {
		return n
	}
	return 0
}

// CountLabel is the head-count line of a cell, empty for a free day.
func (d Day) CountLabel() string {
	switch n := len(d.Bookings); n {
	case 0:
		return ""
	case 1:
		return "1 persona"
	default:
		return fmt.Sprintf("%d personas", n)
	}
}

// OverflowLabel is the text of the overflow tag, empty when nothing is hidden.
func (d Day) OverflowLabel() string {
	if n := d.Overflow(); n > 0 {
		return fmt.Sprintf("+ %d más", n)
	}
	return ""
}

// Month is a fully built grid.
type Month struct {
	Ref      time.Time
	Range    Range
	Days     []Day
	Title    string
	Weekdays []string
	Key      string // YYYY-MM of Ref
}

// Weeks splits the grid into rows of seven days.
func (m Month) Weeks() [][]Day {
	weeks := make([][]Day, 0, len(m.Days)/7)
	for i := 0; i+7 <= len(m.Days); i += 7 {
		weeks = append(weeks, m.Days[i:i+7])
	}
	return weeks
}

// Build lays out the month containing ref.  now decides the IsToday flag and
// is interpreted in ref's location.
func Build(ref, now time.Time, bookings []model.Booking, loc Locale) Month {
	r := MonthRange(ref)
	idx := IndexByDay(bookings)
	today := DayKey(now.In(ref.Location()))
	grid := GridRange(r)
	days := make([]Day, 0, len(grid))
	for _, d := range grid {
		key := DayKey(d)
		days = append(days, Day{
			Date:           d,
			Key:            key,
			Number:         d.Day(),
			InCurrentMonth: d.Month() == r.First.Month() && d.Year() == r.First.Year(),
			IsToday:        key == today,
			Bookings:       idx[key],
		})
	}
	return Month{
		Ref:      r.First,
		Range:    r,
		Days:     days,
		Title:    loc.MonthTitle(r.First),
		Weekdays: loc.WeekdayHeaders(),
		Key:      r.First.Format(MonthLayout),
	}
}
