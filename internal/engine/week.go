package engine

import (
	"fmt"
	"time"

	"github.com/tartampluch/go-schedule/internal/config"
)

// WeekAction is a week navigation command.
type WeekAction int

const (
	WeekPrevious WeekAction = iota
	WeekNext
)

// String implements fmt.Stringer for logging.
func (a WeekAction) String() string {
	switch a {
	case WeekPrevious:
		return "previous"
	case WeekNext:
		return "next"
	default:
		return fmt.Sprintf("WeekAction(%d)", int(a))
	}
}

// WeekWindow is the Monday-to-Sunday range currently displayed.
// Start is always a Monday at midnight and End is Start plus six calendar days.
type WeekWindow struct {
	Start time.Time
	End   time.Time
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns the Monday at midnight of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	// time.Sunday is 0; shift so Monday maps to 0 and Sunday to 6.
	offset := (int(day.Weekday()) + 6) % config.DaysPerWeek
	return day.AddDate(0, 0, -offset)
}

// NewWeekWindow returns the window containing t.
func NewWeekWindow(t time.Time) WeekWindow {
	start := StartOfWeek(t)
	return WeekWindow{
		Start: start,
		End:   start.AddDate(0, 0, config.DaysPerWeek-1),
	}
}

// Apply shifts the window by one week in the direction of the action.
// Calendar arithmetic keeps both bounds at midnight across DST changes.
func Apply(w WeekWindow, action WeekAction) WeekWindow {
	days := config.DaysPerWeek
	if action == WeekPrevious {
		days = -days
	}
	start := w.Start.AddDate(0, 0, days)
	return WeekWindow{
		Start: start,
		End:   start.AddDate(0, 0, config.DaysPerWeek-1),
	}
}

// Advance applies the action and reports whether the resulting window may be
// displayed with the previous-week affordance enabled, relative to now.
func Advance(current WeekWindow, action WeekAction, now time.Time) (WeekWindow, bool) {
	next := Apply(current, action)
	return next, PreviousAllowed(next, now)
}

// PreviousAllowed reports whether the week before w does not start before the
// week containing now, i.e. whether going back from w stays in the present.
// now is converted to the window's location so both sides share a calendar.
func PreviousAllowed(w WeekWindow, now time.Time) bool {
	prev := Apply(w, WeekPrevious)
	return !prev.Start.Before(StartOfWeek(now.In(w.Start.Location())))
}

// Contains reports whether the calendar day of t falls inside the window.
func (w WeekWindow) Contains(t time.Time) bool {
	day := StartOfDay(t.In(w.Start.Location()))
	return !day.Before(w.Start) && !day.After(w.End)
}
