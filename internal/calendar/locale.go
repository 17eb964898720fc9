package calendar

import (
	"time"

	"github.com/goodsign/monday"
)

// Locale renders month and weekday names.  The zero value is Spanish.
type Locale struct {
	code monday.Locale
}

// NewLocale wraps a monday locale.
func NewLocale(code monday.Locale) Locale { return Locale{code: code} }

func (l Locale) monday() monday.Locale {
	if l.code == "" {
		return monday.LocaleEsES
	}
	return l.code
}

// Code returns the locale identifier, e.g. "es_ES".
func (l Locale) Code() string { return string(l.monday()) }

// MonthName is the full month name of t, e.g. "marzo".
func (l Locale) MonthName(t time.Time) string { return monday.Format(t, "January", l.monday()) }

// MonthTitle is the grid heading, e.g. "marzo 2024".
func (l Locale) MonthTitle(t time.Time) string { return monday.Format(t, "January 2006", l.monday()) }

// DayTitle is the modal heading for a selected day, e.g. "martes 5 de marzo".
func (l Locale) DayTitle(t time.Time) string {
	if l.monday() == monday.LocaleEsES {
		return monday.Format(t, "Monday 2 de January", l.monday())
	}
	return monday.Format(t, "Monday 2 January", l.monday())
}

// WeekdayHeaders returns abbreviated weekday names starting on Sunday.
func (l Locale) WeekdayHeaders() []string {
	// 2024-03-03 is a Sunday.
	sunday := time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC)
	out := make([]string, 7)
	for i := range out {
		out[i] = monday.Format(sunday.AddDate(0, 0, i), "Mon", l.monday())
	}
	return out
}
