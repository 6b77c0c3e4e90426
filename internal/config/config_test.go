package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tartampluch/go-schedule/internal/config"
)

// TestConstants_Integrity ensures critical constants are not empty or malformed.
func TestConstants_Integrity(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"AppName", config.AppName},
		{"AppID", config.AppID},
		{"Version", config.Version},
		{"UserAgent", config.UserAgent},
		{"RedisKeyFormat", config.RedisKeyFormat},
		{"RemoteSchedulePath", config.RemoteSchedulePath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, tt.value, "Critical constant %s should not be empty", tt.name)
		})
	}
}

// TestScheduleModel_Sanity pins the values the week model depends on.
func TestScheduleModel_Sanity(t *testing.T) {
	assert.Equal(t, 7, config.DaysPerWeek)
	assert.Equal(t, 4, config.MaxErrorMessageLines)
	assert.Less(t, config.VisibleTabCount, config.DaysPerWeek)

	// Layouts must render the documented examples.
	d := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Mon, Jan 08", d.Format(config.TabLabelLayout))
	assert.Equal(t, "2024/01/08", d.Format(config.WeekTextLayoutStart))
	assert.Equal(t, "01/08", d.Format(config.WeekTextLayoutEnd))
	assert.Equal(t, "2024-01-08", d.Format(config.DateKeyLayout))
}

// TestUserAgent_Format ensures the UA string follows the standard format.
func TestUserAgent_Format(t *testing.T) {
	assert.True(t, strings.HasPrefix(config.UserAgent, "Go-Schedule/"), "UserAgent must start with AppName/")
}

// TestTimeoutsAndLimits ensures that operational constraints are reasonable.
func TestTimeoutsAndLimits(t *testing.T) {
	t.Parallel()

	assert.Greater(t, config.HTTPTimeout, 0*time.Second, "HTTPTimeout must be positive")
	assert.LessOrEqual(t, config.HTTPTimeout, 2*time.Minute, "HTTPTimeout should not be excessively long")
	assert.Greater(t, config.ShutdownTimeout, 0*time.Second, "ShutdownTimeout must be positive")
	assert.Greater(t, config.DefaultFetchTimeout, 0*time.Second)

	// The long poll must finish before the server write timeout cuts it.
	assert.Less(t, config.EventPollTimeout, config.ServerWriteTimeout)

	assert.Greater(t, config.MaxHTTPResponseSize, 0, "MaxHTTPResponseSize must be positive")
	assert.Less(t, int64(config.MaxHTTPResponseSize), int64(1*1024*1024*1024), "MaxHTTPResponseSize should stay under 1GB to protect RAM")

	assert.Positive(t, config.EventBufferSize)
	assert.Positive(t, config.CommandQueueSize)
}
