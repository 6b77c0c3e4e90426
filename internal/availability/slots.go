// Package availability provides the sources the schedule engine fetches
// slots from: ICS calendars, a Redis store and a remote HTTP API.
package availability

import (
	"sort"
	"time"

	"github.com/tartampluch/go-schedule/internal/engine"
)

// dayBounds returns [midnight, next midnight) of date in its own location.
func dayBounds(date time.Time) (time.Time, time.Time) {
	start := engine.StartOfDay(date)
	return start, start.AddDate(0, 0, 1)
}

// normalize keeps the intervals starting on date, splits them into
// slotLength chunks when slotLength is positive and sorts them by start.
// Booked wins when an available and a booked slot share the same start.
func normalize(in []engine.IntervalScheduleTimeSlot, date time.Time, slotLength time.Duration) []engine.IntervalScheduleTimeSlot {
	from, to := dayBounds(date)
	loc := date.Location()

	byStart := make(map[int64]engine.IntervalScheduleTimeSlot)
	for _, iv := range in {
		if !iv.End.After(iv.Start) {
			continue
		}
		for _, s := range split(iv, slotLength) {
			if s.Start.Before(from) || !s.Start.Before(to) {
				continue
			}
			s.Start = s.Start.In(loc)
			s.End = s.End.In(loc)
			key := s.Start.UnixNano()
			if prev, ok := byStart[key]; ok && prev.Booked {
				continue
			}
			byStart[key] = s
		}
	}

	out := make([]engine.IntervalScheduleTimeSlot, 0, len(byStart))
	for _, s := range byStart {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// split cuts iv into consecutive slots of length d. A trailing remainder
// shorter than d is dropped, so only complete slots are offered.
func split(iv engine.IntervalScheduleTimeSlot, d time.Duration) []engine.IntervalScheduleTimeSlot {
	if d <= 0 {
		return []engine.IntervalScheduleTimeSlot{iv}
	}
	var out []engine.IntervalScheduleTimeSlot
	for cur := iv.Start; !cur.Add(d).After(iv.End); cur = cur.Add(d) {
		out = append(out, engine.IntervalScheduleTimeSlot{Start: cur, End: cur.Add(d), Booked: iv.Booked})
	}
	return out
}
