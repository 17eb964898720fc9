// Package export turns a month of bookings into a spreadsheet download.
package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/iliyamo/day-claim-calendar/internal/calendar"
	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// SheetName is the name of the single worksheet in every export.
const SheetName = "Bookings"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrNothingToExport is returned when the month has no bookings.
var ErrNothingToExport = errors.New("no bookings to export")

// Row is one exported day.
type Row struct {
	Day    int
	Month  string
	Year   int
	People []string
}

// MonthRows returns one row per day of ref's month that has at least one
// booking, in day order.  Days of neighbouring months shown on the grid are
// not included.
func MonthRows(ref time.Time, bookings []model.Booking, loc calendar.Locale) []Row {
	r := calendar.MonthRange(ref)
	idx := calendar.IndexByDay(bookings)
	monthName := loc.MonthName(r.First)
	var rows []Row
	y, m, tz := r.First.Year(), r.First.Month(), r.First.Location()
	for n := 1; n <= r.Last.Day(); n++ {
		d := calendar.Date(y, m, n, tz)
		list := idx[calendar.DayKey(d)]
		if len(list) == 0 {
			continue
		}
		people := make([]string, len(list))
		for i, b := range list {
			people[i] = b.Name
		}
		rows = append(rows, Row{Day: d.Day(), Month: monthName, Year: d.Year(), People: people})
	}
	return rows
}

// Width is the largest number of people on any row.
func Width(rows []Row) int {
	w := 0
	for _, r := range rows {
		if len(r.People) > w {
			w = len(r.People)
		}
	}
	return w
}

// Header returns the column titles for a sheet with width person columns.
func Header(width int) []string {
	h := []string{"Day", "Month", "Year"}
	for i := 1; i <= width; i++ {
		h = append(h, "Person "+strconv.Itoa(i))
	}
	return h
}

// Filename is the download name, e.g. Bookings_marzo_2024.xlsx.
func Filename(ref time.Time, loc calendar.Locale) string {
	return fmt.Sprintf("Bookings_%s_%d.xlsx", loc.MonthName(ref), ref.Year())
}

// Cells flattens rows into sheet values.  Short rows are left ragged.
func Cells(rows []Row) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		line := []any{strconv.Itoa(r.Day), r.Month, strconv.Itoa(r.Year)}
		for _, p := range r.People {
			line = append(line, p)
		}
		out = append(out, line)
	}
	return out
}

// SheetWriter serializes a single sheet to w.
type SheetWriter interface {
	WriteSheet(w io.Writer, sheet string, header []string, rows [][]any) error
}

// Notifier receives outcome messages.
type Notifier interface {
	Push(message string, severity model.Severity) string
}

// Service exports the bookings of a month.
type Service struct {
	Sheets SheetWriter
	Locale calendar.Locale
}

// ExportMonth writes the sheet for ref's month.  open is called once with
// the filename to obtain the destination, and only when there is something
// to export; otherwise an informational notification is pushed and
// ErrNothingToExport returned.
func (s *Service) ExportMonth(ref time.Time, bookings []model.Booking, notes Notifier, open func(filename string) io.Writer) error {
	rows := MonthRows(ref, bookings, s.Locale)
	if len(rows) == 0 {
		notes.Push("No hay citas para exportar en este mes", model.SeverityInfo)
		return ErrNothingToExport
	}
	w := open(Filename(ref, s.Locale))
	if err := s.Sheets.WriteSheet(w, SheetName, Header(Width(rows)), Cells(rows)); err != nil {
		return fmt.Errorf("export: write sheet: %w", err)
	}
	notes.Push("Archivo Excel generado con éxito", model.SeverityInfo)
	return nil
}
