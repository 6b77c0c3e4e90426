package engine

// FetchResult is the state of an availability request.
// It is a closed set: Loading, Success and Failure are its only members.
//
//	switch r := res.(type) {
//	case engine.Loading[T]:
//	case engine.Success[T]:
//	case engine.Failure[T]:
//	}
type FetchResult[T any] interface {
	fetchResult()
}

// Loading means a request is in flight for the active date.
type Loading[T any] struct{}

// Success carries the data of a settled request.
type Success[T any] struct {
	Data T
}

// Failure carries the cause of a failed request.
type Failure[T any] struct {
	Cause error
}

func (Loading[T]) fetchResult() {}
func (Success[T]) fetchResult() {}
func (Failure[T]) fetchResult() {}

// SlotsResult is the result type published by the engine.
type SlotsResult = FetchResult[[]IntervalScheduleTimeSlot]
