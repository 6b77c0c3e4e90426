package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
)

// Slot states reported in a snapshot.
const (
	StateLoading = "loading"
	StateSuccess = "success"
	StateError   = "error"
)

// TabView is a date tab as seen by the renderer.
type TabView struct {
	Date  time.Time `json:"date"`
	Key   string    `json:"key"`
	Label string    `json:"label"`
}

// SlotsView flattens the FetchResult sum type for JSON.
type SlotsView struct {
	State string                            `json:"state"`
	Items []engine.IntervalScheduleTimeSlot `json:"items"`
	Error string                            `json:"error,omitempty"`
}

// Snapshot is a read-only view of the engine outputs.
type Snapshot struct {
	WeekStart       time.Time `json:"week_start"`
	WeekEnd         time.Time `json:"week_end"`
	WeekText        string    `json:"week_text"`
	Tabs            []TabView `json:"tabs"`
	VisibleTabs     int       `json:"visible_tabs"`
	PreviousAllowed bool      `json:"previous_allowed"`
	Slots           SlotsView `json:"slots"`
}

// BuildSnapshot reads the engine outputs in one consistent view.
func BuildSnapshot(ctx context.Context, eng *engine.Engine) (Snapshot, error) {
	view, err := eng.View(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	tabs := make([]TabView, len(view.Tabs))
	for i, tab := range view.Tabs {
		tabs[i] = TabView{
			Date:  tab.Date,
			Key:   tab.Date.Format(config.DateKeyLayout),
			Label: tab.Label,
		}
	}

	return Snapshot{
		WeekStart:       view.Window.Start,
		WeekEnd:         view.Window.End,
		WeekText:        view.WeekDateText,
		Tabs:            tabs,
		VisibleTabs:     config.VisibleTabCount,
		PreviousAllowed: view.PreviousAllowed,
		Slots:           newSlotsView(view.Slots),
	}, nil
}

func newSlotsView(res engine.SlotsResult) SlotsView {
	switch r := res.(type) {
	case engine.Loading[[]engine.IntervalScheduleTimeSlot]:
		return SlotsView{State: StateLoading, Items: []engine.IntervalScheduleTimeSlot{}}
	case engine.Success[[]engine.IntervalScheduleTimeSlot]:
		items := r.Data
		if items == nil {
			items = []engine.IntervalScheduleTimeSlot{}
		}
		return SlotsView{State: StateSuccess, Items: items}
	case engine.Failure[[]engine.IntervalScheduleTimeSlot]:
		msg := ""
		if r.Cause != nil {
			msg = r.Cause.Error()
		}
		return SlotsView{State: StateError, Items: []engine.IntervalScheduleTimeSlot{}, Error: msg}
	default:
		return SlotsView{State: StateSuccess, Items: []engine.IntervalScheduleTimeSlot{}}
	}
}

// EventView is the JSON form of an engine event.
type EventView struct {
	Type     string                           `json:"type"`
	Slot     *engine.IntervalScheduleTimeSlot `json:"slot,omitempty"`
	Text     string                           `json:"text,omitempty"`
	MaxLines int                              `json:"max_lines,omitempty"`
}

// Event type names.
const (
	EventNavigate      = "navigate"
	EventShowMessage   = "show_message"
	EventShowTransient = "show_transient"
)

func newEventView(ev engine.Event) EventView {
	switch e := ev.(type) {
	case engine.Navigate:
		slot := e.Slot
		return EventView{Type: EventNavigate, Slot: &slot}
	case engine.ShowMessage:
		return EventView{Type: EventShowMessage, Text: e.Text, MaxLines: e.MaxLines}
	case engine.ShowTransient:
		return EventView{Type: EventShowTransient, Text: e.Text}
	default:
		return EventView{}
	}
}

// Watch keeps the cached snapshot in sync with eng until ctx is done or the
// engine stops. Unless AttachEvents was called first, it also takes over the
// engine's event channel for GET /events.
func (s *ScheduleServer) Watch(ctx context.Context, eng *engine.Engine) {
	log := slog.With(config.LogKeyComponent, config.CompServer)

	weekStart := eng.WeekStart().Subscribe()
	defer weekStart.Close()
	weekText := eng.WeekDateText().Subscribe()
	defer weekText.Close()
	tabs := eng.DateTabs().Subscribe()
	defer tabs.Close()
	prev := eng.PreviousAllowed().Subscribe()
	defer prev.Close()
	slots := eng.FilteredTimeList().Subscribe()
	defer slots.Close()

	events := s.events.Load()
	if events == nil {
		events = eng.Events().Subscribe()
		s.AttachEvents(events)
	}
	defer events.Close()

	refresh := func(ok bool) bool {
		if !ok {
			return false
		}
		snap, err := BuildSnapshot(ctx, eng)
		if err != nil {
			// The engine stopped or ctx ended between the signal and the read.
			return false
		}
		if err := s.Update(snap); err != nil {
			log.Error(config.ErrWriteResp, config.LogKeyError, err)
		}
		return true
	}

	for {
		var ok bool
		select {
		case <-ctx.Done():
			return
		case _, ok = <-weekStart.C():
		case _, ok = <-weekText.C():
		case _, ok = <-tabs.C():
		case _, ok = <-prev.C():
		case _, ok = <-slots.C():
		}
		if !refresh(ok) {
			return
		}
	}
}
