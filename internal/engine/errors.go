package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/tartampluch/go-schedule/internal/config"
)

var (
	// ErrDateNotInWeek is the reason of a ValidationError for a date outside the current tabs.
	ErrDateNotInWeek = errors.New(config.ErrDateNotInWeek)

	// ErrPreviousWeekBlocked is the reason of a ValidationError for a refused previous-week command.
	ErrPreviousWeekBlocked = errors.New(config.ErrPrevWeekBlocked)

	// ErrEngineStopped is returned by commands issued after Run has returned.
	ErrEngineStopped = errors.New(config.ErrEngineStopped)
)

// ValidationError reports a command the engine ignored. It is never fatal.
type ValidationError struct {
	Reason error
	Value  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// FetchError wraps the cause returned by the availability fetcher.
type FetchError struct {
	Date       time.Time
	Generation uint64
	Cause      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s, generation %d): %v",
		config.ErrFetchFailed, e.Date.Format(config.DateKeyLayout), e.Generation, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
