package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tartampluch/go-schedule/internal/config"
)

// Options wires the engine's collaborators.
type Options struct {
	Clock   Clock               // Defaults to RealClock.
	Fetcher AvailabilityFetcher // Required.

	TeacherID   string // Required.
	TeacherName string // Used by Announce; defaults to TeacherID.

	// Location is the single zone all dates are resolved in. Defaults to time.Local.
	Location *time.Location

	// FetchTimeout bounds each fetch; an expired fetch settles as a Failure.
	// Zero selects config.DefaultFetchTimeout, a negative value disables it.
	FetchTimeout time.Duration

	Messages Messages     // Defaults to DefaultMessages.
	Logger   *slog.Logger // Defaults to slog.Default().
}

// Engine is the schedule orchestrator. Commands are serialized through the
// loop started by Run; the outputs are read-only observables.
type Engine struct {
	clock     Clock
	fetcher   AvailabilityFetcher
	teacherID string
	teacher   string
	loc       *time.Location
	timeout   time.Duration
	messages  Messages
	log       *slog.Logger

	cmds    chan func()
	done    chan struct{}
	started atomic.Bool

	// Owned by the loop goroutine.
	runCtx      context.Context
	window      WeekWindow
	tabs        []DateTab
	reconciler  *Reconciler
	cancelFetch context.CancelFunc

	weekStart       *Observable[time.Time]
	weekEnd         *Observable[time.Time]
	weekDateText    *Observable[string]
	dateTabs        *Observable[[]DateTab]
	previousAllowed *Observable[bool]
	filtered        *Observable[SlotsResult]
	events          *EventChannel
}

// New builds an engine showing the week that contains the clock's current time.
func New(opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, errors.New(config.ErrFetcherMissing)
	}
	if opts.TeacherID == "" {
		return nil, errors.New(config.ErrTeacherMissing)
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = config.DefaultFetchTimeout
	}
	if opts.Messages == nil {
		opts.Messages = DefaultMessages{}
	}
	if opts.TeacherName == "" {
		opts.TeacherName = opts.TeacherID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	now := opts.Clock.Now().In(opts.Location)
	window := NewWeekWindow(now)
	tabs := Tabs(window)

	e := &Engine{
		clock:     opts.Clock,
		fetcher:   opts.Fetcher,
		teacherID: opts.TeacherID,
		teacher:   opts.TeacherName,
		loc:       opts.Location,
		timeout:   opts.FetchTimeout,
		messages:  opts.Messages,
		log: opts.Logger.With(
			config.LogKeyComponent, config.CompEngine,
			config.LogKeyTeacher, opts.TeacherID,
		),

		cmds: make(chan func(), config.CommandQueueSize),
		done: make(chan struct{}),

		window:     window,
		tabs:       tabs,
		reconciler: NewReconciler(),

		weekStart:       NewObservable(window.Start),
		weekEnd:         NewObservable(window.End),
		weekDateText:    NewObservable(WeekDateText(window)),
		dateTabs:        NewObservable(tabs),
		previousAllowed: NewObservable(PreviousAllowed(window, now)),
		filtered:        NewObservable[SlotsResult](Success[[]IntervalScheduleTimeSlot]{Data: []IntervalScheduleTimeSlot{}}),
		events:          NewEventChannel(opts.Logger),
	}
	return e, nil
}

// -----------------------------------------------------------------------------
// Outputs
// -----------------------------------------------------------------------------

func (e *Engine) WeekStart() *Observable[time.Time]          { return e.weekStart }
func (e *Engine) WeekEnd() *Observable[time.Time]            { return e.weekEnd }
func (e *Engine) WeekDateText() *Observable[string]          { return e.weekDateText }
func (e *Engine) DateTabs() *Observable[[]DateTab]           { return e.dateTabs }
func (e *Engine) PreviousAllowed() *Observable[bool]         { return e.previousAllowed }
func (e *Engine) FilteredTimeList() *Observable[SlotsResult] { return e.filtered }
func (e *Engine) Events() *EventChannel                      { return e.events }

// Location returns the zone dates are resolved in.
func (e *Engine) Location() *time.Location { return e.loc }

// -----------------------------------------------------------------------------
// Loop
// -----------------------------------------------------------------------------

// Run processes commands and fetch completions until ctx is done.
// Observables and the event channel are closed when it returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineStopped
	}
	e.runCtx = ctx

	defer func() {
		if e.cancelFetch != nil {
			e.cancelFetch()
		}
		close(e.done)
		e.weekStart.close()
		e.weekEnd.close()
		e.weekDateText.close()
		e.dateTabs.close()
		e.previousAllowed.close()
		e.filtered.close()
		e.events.close()
	}()

	e.log.Info(config.MsgEngineStart, config.LogKeyWeekStart, e.window.Start.Format(config.DateKeyLayout))

	for {
		select {
		case <-ctx.Done():
			e.log.Info(config.MsgEngineStop)
			return ctx.Err()
		case fn := <-e.cmds:
			fn()
		}
	}
}

// do runs fn on the loop and waits for its result.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.cmds <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// UpdateWeek moves the window one week back or forward. The active date is
// cleared, outstanding fetches are invalidated and no fetch is started.
// A previous-week command is refused with a ValidationError while the
// previous-week affordance is disabled.
func (e *Engine) UpdateWeek(ctx context.Context, action WeekAction) error {
	return e.do(ctx, func() error {
		now := e.now()
		log := e.log.With(config.LogKeyAction, action.String())

		if action == WeekPrevious && !PreviousAllowed(e.window, now) {
			log.Warn(config.MsgPrevRejected, config.LogKeyWeekStart, e.window.Start.Format(config.DateKeyLayout))
			e.events.Emit(ShowTransient{Text: e.messages.PreviousDisabled()})
			return &ValidationError{Reason: ErrPreviousWeekBlocked, Value: e.window.Start.Format(config.DateKeyLayout)}
		}

		next, allowed := Advance(e.window, action, now)
		e.cancelInFlight()
		cleared := e.reconciler.SelectWeek(next)
		e.window = next
		e.tabs = Tabs(next)
		e.publishWindow(allowed)
		if cleared {
			e.filtered.Publish(Success[[]IntervalScheduleTimeSlot]{Data: []IntervalScheduleTimeSlot{}})
		} else if t, ok := e.reconciler.Current(); ok {
			// The active date is still visible but its fetch was cancelled above.
			e.startFetch(e.reconciler.Select(t.Date))
		}

		log.Info(config.MsgWeekUpdated,
			config.LogKeyWeekStart, next.Start.Format(config.DateKeyLayout),
			config.LogKeyAllowed, allowed,
		)
		return nil
	})
}

// OnTabSelected makes date the active date and fetches its slots.
// A date that is not one of the current tabs is ignored: a diagnostic
// event is emitted and a ValidationError returned.
func (e *Engine) OnTabSelected(ctx context.Context, date time.Time) error {
	return e.do(ctx, func() error {
		idx := indexOfTab(e.tabs, date)
		if idx < 0 {
			key := date.In(e.loc).Format(config.DateKeyLayout)
			e.log.Warn(config.MsgTabRejected, config.LogKeyDate, key)
			e.events.Emit(ShowTransient{Text: e.messages.InvalidDate(key)})
			return &ValidationError{Reason: ErrDateNotInWeek, Value: key}
		}

		e.cancelInFlight()
		ticket := e.reconciler.Select(e.tabs[idx].Date)
		e.filtered.Publish(Loading[[]IntervalScheduleTimeSlot]{})
		e.log.Debug(config.MsgTabSelected,
			config.LogKeyDate, ticket.Date.Format(config.DateKeyLayout),
			config.LogKeyGeneration, ticket.Generation,
		)
		e.startFetch(ticket)
		return nil
	})
}

// NavigateToDetail emits a Navigate event for slot. Schedule state is untouched.
func (e *Engine) NavigateToDetail(ctx context.Context, slot IntervalScheduleTimeSlot) error {
	return e.do(ctx, func() error {
		e.log.Debug(config.MsgNavigate, config.LogKeyDate, slot.Start.Format(time.RFC3339))
		e.events.Emit(Navigate{Slot: slot})
		return nil
	})
}

// Refresh re-emits the window outputs with a freshly evaluated previous-week
// boundary. Callers use it when the clock may have crossed midnight.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.do(ctx, func() error {
		allowed := PreviousAllowed(e.window, e.now())
		e.publishWindow(allowed)
		e.log.Debug(config.MsgBoundaryRefresh, config.LogKeyAllowed, allowed)
		return nil
	})
}

// Announce emits the "inquiring calendar" message for the teacher.
func (e *Engine) Announce(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.events.Emit(ShowMessage{
			Text:     e.messages.Inquiring(e.teacher),
			MaxLines: config.DefaultMessageLines,
		})
		return nil
	})
}

// Selection returns a snapshot of the selection state.
func (e *Engine) Selection(ctx context.Context) (SelectionState, error) {
	var st SelectionState
	err := e.do(ctx, func() error {
		st = e.reconciler.State()
		return nil
	})
	return st, err
}

// ScheduleView is every engine output read in a single loop turn.
type ScheduleView struct {
	Window          WeekWindow
	WeekDateText    string
	Tabs            []DateTab
	PreviousAllowed bool
	Slots           SlotsResult
}

// View returns the outputs as one consistent value. Reading the observables
// one by one can mix a new week header with the previous week's tabs.
func (e *Engine) View(ctx context.Context) (ScheduleView, error) {
	var v ScheduleView
	err := e.do(ctx, func() error {
		v = ScheduleView{
			Window:          e.window,
			WeekDateText:    WeekDateText(e.window),
			Tabs:            append([]DateTab(nil), e.tabs...),
			PreviousAllowed: e.previousAllowed.Value(),
			Slots:           e.filtered.Value(),
		}
		return nil
	})
	return v, err
}

// -----------------------------------------------------------------------------
// Internals (loop goroutine only)
// -----------------------------------------------------------------------------

func (e *Engine) now() time.Time {
	return e.clock.Now().In(e.loc)
}

func (e *Engine) publishWindow(allowed bool) {
	e.weekStart.Publish(e.window.Start)
	e.weekEnd.Publish(e.window.End)
	e.weekDateText.Publish(WeekDateText(e.window))
	e.dateTabs.Publish(Tabs(e.window))
	e.previousAllowed.Publish(allowed)
}

func (e *Engine) cancelInFlight() {
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
}

// startFetch runs the fetcher off the loop and posts the outcome back to it.
// The outcome is posted even when the fetch was cancelled; the reconciler
// discards it because its generation is no longer current.
func (e *Engine) startFetch(ticket Ticket) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(e.runCtx, e.timeout)
	} else {
		ctx, cancel = context.WithCancel(e.runCtx)
	}
	e.cancelFetch = cancel

	req := FetchRequest{Date: ticket.Date, TeacherID: e.teacherID, Tag: ticket}
	e.log.Debug(config.MsgFetchStarted,
		config.LogKeyDate, ticket.Date.Format(config.DateKeyLayout),
		config.LogKeyGeneration, ticket.Generation,
	)

	type outcome struct {
		slots []IntervalScheduleTimeSlot
		err   error
	}

	go func() {
		defer cancel()
		start := time.Now()

		results := make(chan outcome, 1)
		go func() {
			slots, err := e.fetcher.Fetch(ctx, req)
			results <- outcome{slots: slots, err: err}
		}()

		var out outcome
		select {
		case out = <-results:
		case <-ctx.Done():
			out = outcome{err: ctx.Err()}
		}

		e.log.Debug(config.MsgFetchSettled,
			config.LogKeyGeneration, ticket.Generation,
			config.LogKeyDuration, time.Since(start).Milliseconds(),
		)

		select {
		case e.cmds <- func() { e.settle(ticket, out.slots, out.err) }:
		case <-e.done:
		}
	}()
}

func (e *Engine) settle(ticket Ticket, slots []IntervalScheduleTimeSlot, err error) {
	var res SlotsResult
	if err != nil {
		res = Failure[[]IntervalScheduleTimeSlot]{Cause: &FetchError{
			Date:       ticket.Date,
			Generation: ticket.Generation,
			Cause:      err,
		}}
	} else {
		res = Success[[]IntervalScheduleTimeSlot]{Data: cloneSlots(slots)}
	}

	if !e.reconciler.Complete(ticket, res) {
		e.log.Debug(config.MsgFetchDiscarded,
			config.LogKeyGeneration, ticket.Generation,
			config.LogKeyCurrent, e.reconciler.State().Generation,
		)
		return
	}

	e.cancelFetch = nil
	e.filtered.Publish(res)

	if err != nil {
		e.log.Warn(config.ErrFetchFailed,
			config.LogKeyDate, ticket.Date.Format(config.DateKeyLayout),
			config.LogKeyGeneration, ticket.Generation,
			config.LogKeyError, err,
		)
		e.events.Emit(ShowMessage{
			Text:     truncateLines(e.messages.FetchFailed(err.Error()), config.MaxErrorMessageLines),
			MaxLines: config.MaxErrorMessageLines,
		})
	}
}
