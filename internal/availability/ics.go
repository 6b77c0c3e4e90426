package availability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
)

// ICSSource reads availability from iCalendar files.
// Each VEVENT is an interval the teacher offers; STATUS:CONFIRMED marks it
// booked and STATUS:CANCELLED removes it. Recurring events are expanded.
type ICSSource struct {
	// Dir holds one calendar per teacher, named <teacherID>.ics.
	Dir string
	// File, when set, is used for every teacher instead of Dir.
	File string
	// SlotLength splits intervals into bookable slots. Zero keeps them whole.
	SlotLength time.Duration
}

// Fetch implements engine.AvailabilityFetcher.
func (s *ICSSource) Fetch(ctx context.Context, req engine.FetchRequest) ([]engine.IntervalScheduleTimeSlot, error) {
	path := s.path(req.TeacherID)
	log := slog.With(
		config.LogKeyComponent, config.CompFetcher,
		config.LogKeyFile, path,
	)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrICSOpen, err)
	}
	defer func() { _ = f.Close() }()

	intervals, err := s.decode(ctx, f, req.Date, log)
	if err != nil {
		return nil, err
	}

	slots := normalize(intervals, req.Date, s.SlotLength)
	log.Debug(config.MsgFetchSettled,
		config.LogKeyDate, req.Date.Format(config.DateKeyLayout),
		config.LogKeyCount, len(slots),
	)
	return slots, nil
}

func (s *ICSSource) path(teacherID string) string {
	if s.File != "" {
		return s.File
	}
	return filepath.Join(s.Dir, filepath.Base(teacherID)+config.ICSFileExt)
}

// decode collects the intervals of every calendar in r that may start on date.
func (s *ICSSource) decode(ctx context.Context, r io.Reader, date time.Time, log *slog.Logger) ([]engine.IntervalScheduleTimeSlot, error) {
	loc := date.Location()
	from, to := dayBounds(date)
	dec := ical.NewDecoder(r)

	var out []engine.IntervalScheduleTimeSlot
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.ErrICSParse, err)
		}

		for _, ev := range cal.Events() {
			iv, err := expandEvent(&ev, loc, from, to)
			if err != nil {
				log.Warn(config.MsgSkippedEvent, config.LogKeyError, err)
				continue
			}
			out = append(out, iv...)
		}
	}
	return out, nil
}

// expandEvent returns the occurrences of ev starting within [from, to).
func expandEvent(ev *ical.Event, loc *time.Location, from, to time.Time) ([]engine.IntervalScheduleTimeSlot, error) {
	status := ""
	if prop := ev.Props.Get(ical.PropStatus); prop != nil {
		status = prop.Value
	}
	if status == config.ICSStatusCancelled {
		return nil, nil
	}
	booked := status == config.ICSStatusConfirmed

	start, err := ev.DateTimeStart(loc)
	if err != nil {
		return nil, err
	}
	end, err := ev.DateTimeEnd(loc)
	if err != nil {
		return nil, err
	}
	dur := end.Sub(start)
	if dur <= 0 {
		return nil, fmt.Errorf("%s: empty interval at %s", config.ErrICSParse, start.Format(time.RFC3339))
	}

	set, err := ev.RecurrenceSet(loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrRecurrence, err)
	}
	if set == nil {
		if start.Before(from) || !start.Before(to) {
			return nil, nil
		}
		return []engine.IntervalScheduleTimeSlot{{Start: start, End: end, Booked: booked}}, nil
	}

	starts := occurrences(set, from, to)
	out := make([]engine.IntervalScheduleTimeSlot, 0, len(starts))
	for _, occ := range starts {
		occ = occ.In(loc)
		out = append(out, engine.IntervalScheduleTimeSlot{Start: occ, End: occ.Add(dur), Booked: booked})
	}
	return out, nil
}

// occurrences lists the starts of set in [from, to), capped at
// MaxOccurrencesPerDay.
func occurrences(set *rrule.Set, from, to time.Time) []time.Time {
	var out []time.Time
	for _, occ := range set.Between(from, to, true) {
		if !occ.Before(to) {
			continue
		}
		if len(out) == config.MaxOccurrencesPerDay {
			break
		}
		out = append(out, occ)
	}
	return out
}
