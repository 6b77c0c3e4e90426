package engine

import (
	"time"

	"github.com/tartampluch/go-schedule/internal/config"
)

// DateTab is a selectable date within the current week window.
type DateTab struct {
	Date  time.Time
	Label string
}

// Tabs derives the seven ordered tabs of a window.
// The label layout is fixed English so it does not depend on the host locale.
func Tabs(w WeekWindow) []DateTab {
	tabs := make([]DateTab, config.DaysPerWeek)
	for i := range tabs {
		date := w.Start.AddDate(0, 0, i)
		tabs[i] = DateTab{
			Date:  date,
			Label: date.Format(config.TabLabelLayout),
		}
	}
	return tabs
}

// WeekDateText summarizes the window, e.g. "2024/01/08 - 01/14".
func WeekDateText(w WeekWindow) string {
	return w.Start.Format(config.WeekTextLayoutStart) +
		config.WeekTextSeparator +
		w.End.Format(config.WeekTextLayoutEnd)
}

// indexOfTab returns the position of date among tabs, or -1.
// Tabs match on the same instant, not on the calendar day.
func indexOfTab(tabs []DateTab, date time.Time) int {
	for i, tab := range tabs {
		if tab.Date.Equal(date) {
			return i
		}
	}
	return -1
}
