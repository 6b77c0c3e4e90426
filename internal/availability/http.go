package availability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
	"golang.org/x/time/rate"
)

// interval is the wire form of a remote slot.
type interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// scheduleResponse is the body of the remote schedule endpoint.
type scheduleResponse struct {
	Available []interval `json:"available"`
	Booked    []interval `json:"booked"`
}

// HTTPSource fetches a teacher's week from a remote schedule API and keeps
// the requested day.
type HTTPSource struct {
	BaseURL    string
	User       string
	Pass       string
	SlotLength time.Duration

	Client  *http.Client
	Limiter *rate.Limiter
}

// NewHTTPSource creates a source with the default timeout and rate limit.
func NewHTTPSource(baseURL, user, pass string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		User:    user,
		Pass:    pass,
		Client: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		Limiter: rate.NewLimiter(rate.Limit(config.DefaultRateLimit), config.DefaultRateBurst),
	}
}

// Fetch implements engine.AvailabilityFetcher.
// The query parameter carries the start of the week in UTC; the response is
// filtered to the requested date.
func (s *HTTPSource) Fetch(ctx context.Context, req engine.FetchRequest) ([]engine.IntervalScheduleTimeSlot, error) {
	target, safeURL, err := s.endpoint(req)
	if err != nil {
		return nil, err
	}

	log := slog.With(
		slog.String(config.LogKeyComponent, config.CompFetcher),
		slog.String(config.LogKeyURL, safeURL),
	)

	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set(config.HeaderUserAgent, config.UserAgent)
	httpReq.Header.Set(config.HeaderAccept, config.MimeJSON)
	if s.User != "" || s.Pass != "" {
		httpReq.SetBasicAuth(s.User, s.Pass)
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("network error during fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Server returned error status", slog.Int(config.LogKeyStatus, resp.StatusCode))
		return nil, fmt.Errorf("%s: %d %s", config.ErrUnexpectedStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var body scheduleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, config.MaxHTTPResponseSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrDecodeResponse, err)
	}

	slots := make([]engine.IntervalScheduleTimeSlot, 0, len(body.Available)+len(body.Booked))
	for _, iv := range body.Available {
		slots = append(slots, engine.IntervalScheduleTimeSlot{Start: iv.Start, End: iv.End})
	}
	for _, iv := range body.Booked {
		slots = append(slots, engine.IntervalScheduleTimeSlot{Start: iv.Start, End: iv.End, Booked: true})
	}

	out := normalize(slots, req.Date, s.SlotLength)
	log.Debug(config.MsgFetchSettled,
		config.LogKeyDate, req.Date.Format(config.DateKeyLayout),
		config.LogKeyCount, len(out),
	)
	return out, nil
}

// endpoint builds the request URL and a copy safe for logs (no query, no credentials).
func (s *HTTPSource) endpoint(req engine.FetchRequest) (string, string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", config.ErrInvalidURL, err)
	}
	if u.Scheme != config.SchemeHTTP && u.Scheme != config.SchemeHTTPS {
		return "", "", fmt.Errorf("%s: %s", config.ErrProtocol, u.Scheme)
	}

	u = u.JoinPath(fmt.Sprintf(config.RemoteSchedulePath, url.PathEscape(req.TeacherID)))
	q := u.Query()
	q.Set(config.RemoteQueryStart, engine.StartOfWeek(req.Date).UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	safeURL := u.Scheme + "://" + u.Host + u.Path
	return u.String(), safeURL, nil
}
