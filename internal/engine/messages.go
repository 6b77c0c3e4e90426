package engine

import (
	"fmt"
	"strings"

	"github.com/tartampluch/go-schedule/internal/config"
)

// Messages renders the user-facing texts carried by events.
// The UI layer injects a localized implementation.
type Messages interface {
	FetchFailed(cause string) string
	Inquiring(teacherName string) string
	InvalidDate(date string) string
	PreviousDisabled() string
}

// DefaultMessages renders English fallbacks.
type DefaultMessages struct{}

func (DefaultMessages) FetchFailed(cause string) string {
	return fmt.Sprintf(config.FallbackFetchFailed, cause)
}

func (DefaultMessages) Inquiring(teacherName string) string {
	return fmt.Sprintf(config.FallbackInquiring, teacherName)
}

func (DefaultMessages) InvalidDate(date string) string {
	return fmt.Sprintf(config.FallbackInvalidDate, date)
}

func (DefaultMessages) PreviousDisabled() string {
	return config.FallbackPrevDisabled
}

// truncateLines keeps at most max lines of text.
func truncateLines(text string, max int) string {
	if max <= 0 {
		return text
	}
	lines := strings.SplitN(text, "\n", max+1)
	if len(lines) <= max {
		return text
	}
	return strings.Join(lines[:max], "\n")
}
