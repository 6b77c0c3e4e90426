package engine

import (
	"context"
	"time"
)

// FetchRequest describes one availability lookup.
type FetchRequest struct {
	Date      time.Time
	TeacherID string
	Tag       Ticket
}

// AvailabilityFetcher returns the slots of a date for a teacher.
// The engine calls it on its own goroutine and bounds it with a timeout;
// implementations should honor ctx.
type AvailabilityFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]IntervalScheduleTimeSlot, error)
}

// FetcherFunc adapts a function to AvailabilityFetcher.
type FetcherFunc func(ctx context.Context, req FetchRequest) ([]IntervalScheduleTimeSlot, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) ([]IntervalScheduleTimeSlot, error) {
	return f(ctx, req)
}
