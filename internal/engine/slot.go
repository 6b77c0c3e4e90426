package engine

import "time"

// IntervalScheduleTimeSlot is one bookable interval of a given date.
type IntervalScheduleTimeSlot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Booked bool      `json:"booked"`
}

// Duration returns the length of the interval.
func (s IntervalScheduleTimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// cloneSlots copies the slice so observers never share the fetcher's backing array.
func cloneSlots(slots []IntervalScheduleTimeSlot) []IntervalScheduleTimeSlot {
	if slots == nil {
		return []IntervalScheduleTimeSlot{}
	}
	out := make([]IntervalScheduleTimeSlot, len(slots))
	copy(out, slots)
	return out
}
