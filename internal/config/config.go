package config

import (
	"io/fs"
	"time"
)

// -----------------------------------------------------------------------------
// Build Information
// -----------------------------------------------------------------------------

// Build variables are injected via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// UserAgent identifies the HTTP client.
var UserAgent = "Go-Schedule/" + Version

// -----------------------------------------------------------------------------
// Application Constants
// -----------------------------------------------------------------------------

const (
	AppName           = "Go Schedule"
	AppID             = "com.github.tartampluch.go-schedule"
	KeyringService    = "com.github.tartampluch.go-schedule"
	LocalhostBindAddr = "127.0.0.1"
	LogFileName       = "app.log"
	SettingsFileName  = "settings.yaml"
	EnvPrefix         = "GOSCHEDULE_"
	DotEnvFile        = ".env"
)

// Environment variable names, read with EnvPrefix.
const (
	EnvTeacherID      = "TEACHER_ID"
	EnvTeacherName    = "TEACHER_NAME"
	EnvLanguage       = "LANGUAGE"
	EnvTimezone       = "TIMEZONE"
	EnvPort           = "PORT"
	EnvSlotMinutes    = "SLOT_MINUTES"
	EnvSourceMode     = "SOURCE_MODE"
	EnvSourceURL      = "SOURCE_URL"
	EnvSourceUser     = "SOURCE_USER"
	EnvSourcePassword = "SOURCE_PASSWORD"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvRedisPassword  = "REDIS_PASSWORD"
)

// -----------------------------------------------------------------------------
// Exit Codes
// -----------------------------------------------------------------------------

const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// -----------------------------------------------------------------------------
// System & File Permissions
// -----------------------------------------------------------------------------

const (
	// FilePermUserRW represents -rw------- (Read/Write for owner only).
	// Used for logs and the settings file.
	FilePermUserRW fs.FileMode = 0600

	// DirPermUserRWX represents drwx------ (Read/Write/Exec for owner only).
	DirPermUserRWX fs.FileMode = 0700

	// ChannelBufferSize defines the standard buffer size for internal signaling channels.
	ChannelBufferSize = 1

	// EventBufferSize bounds the per-subscriber event mailbox.
	EventBufferSize = 16

	// CommandQueueSize bounds the engine command queue.
	CommandQueueSize = 32
)

// -----------------------------------------------------------------------------
// CLI Flags & Descriptions
// -----------------------------------------------------------------------------

const (
	FlagVersion      = "version"
	FlagDebug        = "debug"
	FlagConfig       = "config"
	FlagOnce         = "once"
	FlagDescVersion  = "Show application version and exit"
	FlagDescDebug    = "Enable debug logging to stdout"
	FlagDescConfig   = "Path to the settings file (default: user config dir)"
	FlagDescOnce     = "Print the current week and the first day's slots, then exit"
	MsgVersionOutput = "%s version %s (%s/%s)\n"
)

// -----------------------------------------------------------------------------
// Schedule Model
// -----------------------------------------------------------------------------

const (
	// DaysPerWeek is the length of a week window and of the tab sequence.
	DaysPerWeek = 7

	// VisibleTabCount is the number of tabs a renderer shows at once.
	// Renderers divide their width by this value; it does not affect the tab count.
	VisibleTabCount = 3

	// MaxErrorMessageLines caps the height of the fetch failure message.
	MaxErrorMessageLines = 4

	// DefaultMessageLines is used for informational messages.
	DefaultMessageLines = 2

	// TabLabelLayout renders "weekday, month day" (e.g. "Mon, Jan 08").
	TabLabelLayout = "Mon, Jan 02"

	// WeekTextLayoutStart and WeekTextLayoutEnd render "2024/01/08 - 01/14".
	WeekTextLayoutStart = "2006/01/02"
	WeekTextLayoutEnd   = "01/02"
	WeekTextSeparator   = " - "

	// DateKeyLayout identifies a calendar day in keys, queries and file names.
	DateKeyLayout = "2006-01-02"
)

// -----------------------------------------------------------------------------
// Default Values & Business Logic
// -----------------------------------------------------------------------------

const (
	SourceModeICS   = "ics"
	SourceModeRedis = "redis"
	SourceModeHTTP  = "http"

	DefaultSourceMode   = SourceModeICS
	DefaultPort         = "18081"
	DefaultLanguage     = "en"
	DefaultTimezone     = "Local"
	DefaultRefreshCron  = "0 0 * * *"
	FallbackRefreshCron = "@midnight"
	DefaultSlotMinutes  = 30
	DefaultFetchTimeout = 30 * time.Second
	DefaultRedisAddr    = "localhost:6379"
	DefaultRedisTTL     = 24 * time.Hour
	DefaultRateLimit    = 5 // requests per second against the remote source
	DefaultRateBurst    = 5
	ICSFileExt          = ".ics"
	RedisKeyFormat      = "availability_v1:%s:%s"
)

// -----------------------------------------------------------------------------
// Availability Sources
// -----------------------------------------------------------------------------

const (
	// ICS STATUS values. CONFIRMED marks a booked interval, CANCELLED is ignored.
	ICSStatusConfirmed = "CONFIRMED"
	ICSStatusCancelled = "CANCELLED"

	// MaxOccurrencesPerDay caps RRULE expansion for a single event and day.
	MaxOccurrencesPerDay = 96

	// vCard fields used by the teacher directory.
	VCardUID = "UID"
	VCardFN  = "FN"
	VCardN   = "N"
)

// SupportedLanguages defines the list of available UI languages (ISO 639-1).
var SupportedLanguages = []string{"en", "fr", "zh-TW"}

// -----------------------------------------------------------------------------
// Translation Keys (I18n)
// -----------------------------------------------------------------------------

const (
	TKeyFetchFailed  = "msg_fetch_failed"  // Requires Cause
	TKeyInquiring    = "msg_inquiring"     // Requires Name
	TKeyInvalidDate  = "msg_invalid_date"  // Requires Date
	TKeyPrevDisabled = "msg_prev_disabled" // No data
)

// -----------------------------------------------------------------------------
// Network & Timeouts
// -----------------------------------------------------------------------------

const (
	HTTPTimeout         = 30 * time.Second
	ShutdownTimeout     = 5 * time.Second
	ServerReadTimeout   = 10 * time.Second
	ServerWriteTimeout  = 30 * time.Second
	ServerIdleTimeout   = 60 * time.Second
	EventPollTimeout    = 25 * time.Second
	RetryAfterSeconds   = "1"
	MaxHTTPResponseSize = 8 * 1024 * 1024 // 8MB, a week of intervals is tiny
	MaxRequestBodySize  = 64 * 1024
	CommandRateLimit    = 20 // commands per second and client IP
	SchemeHTTP          = "http"
	SchemeHTTPS         = "https"
	AddrSeparator       = ":"

	RouteSchedule     = "/schedule"
	RouteEvents       = "/events"
	RouteWeekNext     = "/week/next"
	RouteWeekPrevious = "/week/previous"
	RouteTabSelect    = "/tabs/select"
	RouteSlotDetail   = "/slots/detail"

	RemoteSchedulePath = "/v1/guest/teachers/%s/schedule"
	RemoteQueryStart   = "started_at"
)

// -----------------------------------------------------------------------------
// HTTP Headers & MIME Types
// -----------------------------------------------------------------------------

const (
	HeaderContentType  = "Content-Type"
	HeaderCacheControl = "Cache-Control"
	HeaderETag         = "ETag"
	HeaderRetryAfter   = "Retry-After"
	HeaderXContentType = "X-Content-Type-Options"
	HeaderUserAgent    = "User-Agent"
	HeaderIfNoneMatch  = "If-None-Match"
	HeaderAccept       = "Accept"

	MimeJSON            = "application/json; charset=utf-8"
	MimeNoSniff         = "nosniff"
	CacheControlPrivate = "private, no-cache"

	// FormatETag expects a string argument.
	FormatETag = `"%s"`
)

// -----------------------------------------------------------------------------
// Error Messages (Technical/Logs)
// -----------------------------------------------------------------------------

const (
	ErrFetcherMissing   = "internal error: availability fetcher is not initialized"
	ErrClockMissing     = "internal error: clock is not initialized"
	ErrTeacherMissing   = "configuration error: teacher id is empty"
	ErrModeUnsupport    = "configuration error: unsupported source mode"
	ErrLocalPathEmpty   = "configuration error: ics directory or file is empty"
	ErrWebURLEmpty      = "configuration error: source url is empty"
	ErrKeyring          = "failed to store password in keyring"
	ErrDateNotInWeek    = "selected date is not part of the current week"
	ErrPrevWeekBlocked  = "previous week is before the current week"
	ErrFetchFailed      = "availability fetch failed"
	ErrEngineStopped    = "schedule engine is not running"
	ErrServerStartup    = "server startup failed"
	ErrServerShutdown   = "server shutdown failed"
	ErrPortRequired     = "server port is required"
	ErrInvalidURL       = "invalid URL structure"
	ErrProtocol         = "unsupported protocol scheme (http/https only)"
	ErrUnexpectedStatus = "server returned unexpected status"
	ErrDecodeResponse   = "failed to decode availability response"
	ErrICSOpen          = "failed to open availability calendar"
	ErrICSParse         = "failed to parse availability calendar"
	ErrRecurrence       = "failed to expand recurrence rule"
	ErrRedisGet         = "failed to read availability from redis"
	ErrRedisSet         = "failed to write availability to redis"
	ErrVCardParse       = "failed to parse vCard directory"
	ErrSettingsLoad     = "failed to load settings"
	ErrSettingsSave     = "failed to save settings"
	ErrSettingsInvalid  = "invalid settings"
	ErrTimezone         = "unknown timezone"
	ErrLogFile          = "failed to open log file"
	ErrCacheDir         = "could not determine user cache dir"
	ErrConfigDir        = "could not determine user config dir"
	ErrCreateDir        = "could not create app directory"
	ErrAppFailed        = "application failed unexpectedly"
	ErrWriteResp        = "failed to write response body"
	ErrBadRequest       = "malformed request body"
	ErrLocalesAccess    = "failed to access embedded locales"
	ErrLocaleLoad       = "failed to load locale file"
	ErrLocNotInit       = "localizer not initialized"
	ErrCronSpec         = "invalid refresh cron spec"
	ErrSourceMode       = "unknown availability source mode"
	ErrDirectoryLoad    = "failed to load teacher directory"
)

// -----------------------------------------------------------------------------
// HTTP Server Responses
// -----------------------------------------------------------------------------

const (
	HTTPMsgInitializing = "Schedule initializing, please try again shortly."
	HTTPMsgInternalErr  = "Internal Server Error"
)

// -----------------------------------------------------------------------------
// Fallbacks & Log Messages
// -----------------------------------------------------------------------------

const (
	FallbackFetchFailed  = "Api Failed %s"
	FallbackInquiring    = "Inquiring %s's calendar"
	FallbackInvalidDate  = "%s is not in the displayed week"
	FallbackPrevDisabled = "Earlier weeks are not available"
	FallbackName         = "Unknown"

	MsgAppStop         = "Application stopped gracefully"
	MsgAppStarting     = "Starting application"
	MsgEngineStart     = "Schedule engine started"
	MsgEngineStop      = "Schedule engine stopping due to context cancellation"
	MsgWeekUpdated     = "Week window updated"
	MsgTabSelected     = "Date selected"
	MsgTabRejected     = "Selected date rejected"
	MsgPrevRejected    = "Previous week navigation rejected"
	MsgFetchStarted    = "Availability fetch started"
	MsgFetchSettled    = "Availability fetch settled"
	MsgFetchDiscarded  = "Discarding superseded availability result"
	MsgEventDropped    = "Dropping event, no active subscriber"
	MsgEventOverflow   = "Dropping event, subscriber mailbox full"
	MsgNavigate        = "Navigating to slot detail"
	MsgBoundaryRefresh = "Week boundary refreshed"
	MsgServerListen    = "HTTP server listening"
	MsgServerStop      = "Shutting down HTTP server..."
	MsgCacheUpdated    = "Schedule snapshot updated"
	MsgEventsAttached  = "Event subscriber attached"
	MsgCacheHit        = "Availability served from cache"
	MsgSourceSelected  = "Availability source selected"
	MsgRefreshStart    = "Refresh worker started"
	MsgRefreshStop     = "Refresh worker stopped"
	MsgRefreshFailed   = "Refresh tick failed"
	MsgSettingsCreated = "Settings file created with defaults"
	MsgPassFail        = "Password retrieval failed (might be empty)"
	MsgLocaleSkip      = "Skipping non-locale file"
	MsgLocaleBadName   = "Skipping malformed locale filename"
	MsgLocaleLoaded    = "Locale loaded successfully"
	MsgTransMissing    = "Missing translation key"
	MsgSkippedEvent    = "Skipping malformed availability event"
	MsgSkippedContact  = "Skipping malformed vCard"
	MsgLogWarning      = "Warning: %s at %s: %v\n"
	MsgCtxCancel       = "Context cancelled, shutting down"
)

// -----------------------------------------------------------------------------
// Structured Logging Keys (slog)
// -----------------------------------------------------------------------------

const (
	LogKeyComponent  = "component"
	LogKeyError      = "error"
	LogKeyURL        = "url"
	LogKeyStatus     = "status_code"
	LogKeyFile       = "file"
	LogKeyLang       = "lang"
	LogKeyKey        = "key"
	LogKeyPort       = "port"
	LogKeyMode       = "mode"
	LogKeyUser       = "user"
	LogKeyTeacher    = "teacher_id"
	LogKeyDate       = "date"
	LogKeyWeekStart  = "week_start"
	LogKeyAction     = "action"
	LogKeyGeneration = "generation"
	LogKeyCurrent    = "current_generation"
	LogKeyCount      = "count"
	LogKeyEvent      = "event"
	LogKeySubscriber = "subscriber"
	LogKeyAllowed    = "previous_allowed"
	LogKeySpec       = "spec"
	LogKeySizeBytes  = "size_bytes"
	LogKeyETag       = "etag"
	LogKeyDuration   = "duration_ms"
	LogKeyPath       = "path"

	// Startup Info Keys
	LogKeyBuild   = "build"
	LogKeyApp     = "app"
	LogKeyVersion = "version"
	LogKeyGoVer   = "go_version"
	LogKeyEnv     = "env"
	LogKeyOS      = "os"
	LogKeyArch    = "arch"
	LogKeyPID     = "pid"
)

// -----------------------------------------------------------------------------
// Log Components
// -----------------------------------------------------------------------------

const (
	CompEngine     = "engine"
	CompReconciler = "reconciler"
	CompEvents     = "events"
	CompFetcher    = "fetcher"
	CompDirectory  = "directory"
	CompServer     = "server"
	CompRefresh    = "refresh"
	CompSettings   = "settings"
	CompMain       = "main"
	CompI18n       = "i18n"
)
