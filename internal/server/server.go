package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
)

// Controller is the command side of the schedule engine.
type Controller interface {
	UpdateWeek(ctx context.Context, action engine.WeekAction) error
	OnTabSelected(ctx context.Context, date time.Time) error
	NavigateToDetail(ctx context.Context, slot engine.IntervalScheduleTimeSlot) error
	Location() *time.Location
}

// cacheItem stores the encoded snapshot and its ETag.
type cacheItem struct {
	data []byte
	etag string
}

// ScheduleServer exposes the engine to a remote renderer over HTTP.
type ScheduleServer struct {
	// cache uses atomic.Pointer for lock-free reads on the hot path.
	cache  atomic.Pointer[cacheItem]
	events atomic.Pointer[engine.EventSubscription]

	Port        string
	PollTimeout time.Duration

	ctrl Controller
}

// NewScheduleServer creates a server driving ctrl.
func NewScheduleServer(port string, ctrl Controller) *ScheduleServer {
	return &ScheduleServer{
		Port:        port,
		PollTimeout: config.EventPollTimeout,
		ctrl:        ctrl,
	}
}

// Routes builds the HTTP handler.
func (s *ScheduleServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{config.HeaderAccept, config.HeaderContentType, config.HeaderIfNoneMatch},
		ExposedHeaders: []string{config.HeaderETag},
		MaxAge:         300,
	}))

	r.Get(config.RouteSchedule, s.handleSchedule)
	r.Head(config.RouteSchedule, s.handleSchedule)
	r.Get(config.RouteEvents, s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(config.CommandRateLimit, time.Second))
		r.Post(config.RouteWeekNext, s.handleWeek(engine.WeekNext))
		r.Post(config.RouteWeekPrevious, s.handleWeek(engine.WeekPrevious))
		r.Post(config.RouteTabSelect, s.handleTabSelect)
		r.Post(config.RouteSlotDetail, s.handleSlotDetail)
	})
	return r
}

// Start initializes the HTTP server and blocks until the context is cancelled.
func (s *ScheduleServer) Start(ctx context.Context) error {
	if s.Port == "" {
		return errors.New(config.ErrPortRequired)
	}

	srv := &http.Server{
		Addr:         config.LocalhostBindAddr + config.AddrSeparator + s.Port,
		Handler:      s.Routes(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverError := make(chan error, config.ChannelBufferSize)

	go func() {
		slog.Info(config.MsgServerListen,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyPort, s.Port,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info(config.MsgServerStop, config.LogKeyComponent, config.CompServer)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: %w", config.ErrServerShutdown, err)
		}
		return nil

	case err := <-serverError:
		return fmt.Errorf("%s: %w", config.ErrServerStartup, err)
	}
}

// Update atomically replaces the served snapshot.
func (s *ScheduleServer) Update(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(data)
	etag := fmt.Sprintf(config.FormatETag, hex.EncodeToString(hash[:]))

	s.cache.Store(&cacheItem{data: data, etag: etag})

	slog.Debug(config.MsgCacheUpdated,
		config.LogKeyComponent, config.CompServer,
		config.LogKeySizeBytes, len(data),
		config.LogKeyETag, etag,
	)
	return nil
}

// AttachEvents makes sub the source of GET /events.
func (s *ScheduleServer) AttachEvents(sub *engine.EventSubscription) {
	s.events.Store(sub)
	slog.Debug(config.MsgEventsAttached,
		config.LogKeyComponent, config.CompServer,
		config.LogKeySubscriber, sub.ID(),
	)
}

// handleSchedule serves the snapshot with ETag support.
func (s *ScheduleServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	item := s.cache.Load()
	if item == nil {
		w.Header().Set(config.HeaderRetryAfter, config.RetryAfterSeconds)
		http.Error(w, config.HTTPMsgInitializing, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set(config.HeaderContentType, config.MimeJSON)
	w.Header().Set(config.HeaderXContentType, config.MimeNoSniff)
	w.Header().Set(config.HeaderCacheControl, config.CacheControlPrivate)
	w.Header().Set(config.HeaderETag, item.etag)

	if match := r.Header.Get(config.HeaderIfNoneMatch); match == item.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Method == http.MethodGet {
		if _, err := io.Copy(w, bytes.NewReader(item.data)); err != nil {
			slog.Error(config.ErrWriteResp,
				config.LogKeyComponent, config.CompServer,
				config.LogKeyError, err,
			)
		}
	}
}

// handleEvents long-polls one event. 204 means nothing happened in time.
func (s *ScheduleServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	sub := s.events.Load()
	if sub == nil {
		w.Header().Set(config.HeaderRetryAfter, config.RetryAfterSeconds)
		http.Error(w, config.HTTPMsgInitializing, http.StatusServiceUnavailable)
		return
	}

	timer := time.NewTimer(s.PollTimeout)
	defer timer.Stop()

	select {
	case ev, ok := <-sub.C():
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, newEventView(ev))
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

func (s *ScheduleServer) handleWeek(action engine.WeekAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, s.ctrl.UpdateWeek(r.Context(), action))
	}
}

type tabRequest struct {
	Date string `json:"date"`
}

func (s *ScheduleServer) handleTabSelect(w http.ResponseWriter, r *http.Request) {
	var body tabRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	date, err := parseDate(body.Date, s.ctrl.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.reply(w, s.ctrl.OnTabSelected(r.Context(), date))
}

func (s *ScheduleServer) handleSlotDetail(w http.ResponseWriter, r *http.Request) {
	var slot engine.IntervalScheduleTimeSlot
	if err := decodeBody(w, r, &slot); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.reply(w, s.ctrl.NavigateToDetail(r.Context(), slot))
}

// reply maps a command error to a status code.
func (s *ScheduleServer) reply(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, engine.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		slog.Error(config.HTTPMsgInternalErr,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyError, err,
		)
		writeError(w, http.StatusInternalServerError, errors.New(config.HTTPMsgInternalErr))
	}
}

// parseDate accepts a calendar day (resolved in loc) or an RFC 3339 instant.
func parseDate(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(config.DateKeyLayout, value, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %q", config.ErrBadRequest, value)
	}
	return t, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s: %w", config.ErrBadRequest, err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(config.HeaderContentType, config.MimeJSON)
	w.Header().Set(config.HeaderXContentType, config.MimeNoSniff)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(config.ErrWriteResp,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyError, err,
		)
	}
}
