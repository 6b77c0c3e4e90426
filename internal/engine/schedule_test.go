package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
)

// -----------------------------------------------------------------------------
// Mocks
// -----------------------------------------------------------------------------

// MockFetcher is a testify mock of engine.AvailabilityFetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req engine.FetchRequest) ([]engine.IntervalScheduleTimeSlot, error) {
	args := m.Called(ctx, req)
	slots, _ := args.Get(0).([]engine.IntervalScheduleTimeSlot)
	return slots, args.Error(1)
}

// MockClock controls time for deterministic testing.
type MockClock struct {
	CurrentTime time.Time
}

func (m MockClock) Now() time.Time {
	return m.CurrentTime
}

// movingClock can be advanced while the engine runs.
type movingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movingClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type reply struct {
	slots []engine.IntervalScheduleTimeSlot
	err   error
}

// gatedFetcher holds every fetch until the test releases the date.
// It ignores ctx so late completions can be observed.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan reply
	calls []engine.FetchRequest
	stop  chan struct{}
}

func newGatedFetcher(t *testing.T) *gatedFetcher {
	f := &gatedFetcher{gates: make(map[string]chan reply), stop: make(chan struct{})}
	t.Cleanup(func() { close(f.stop) })
	return f
}

func (f *gatedFetcher) gate(d time.Time) chan reply {
	key := d.Format(config.DateKeyLayout)
	ch, ok := f.gates[key]
	if !ok {
		ch = make(chan reply, 4)
		f.gates[key] = ch
	}
	return ch
}

func (f *gatedFetcher) Fetch(_ context.Context, req engine.FetchRequest) ([]engine.IntervalScheduleTimeSlot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	ch := f.gate(req.Date)
	f.mu.Unlock()

	select {
	case r := <-ch:
		return r.slots, r.err
	case <-f.stop:
		return nil, errors.New("test finished")
	}
}

func (f *gatedFetcher) release(d time.Time, slots []engine.IntervalScheduleTimeSlot, err error) {
	f.mu.Lock()
	ch := f.gate(d)
	f.mu.Unlock()
	ch <- reply{slots: slots, err: err}
}

func (f *gatedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// trackingContext is a run context that counts the child contexts currently
// registered on it. The context package registers children through AfterFunc
// and calls the returned stop func when a child is cancelled.
type trackingContext struct {
	done   chan struct{}
	mu     sync.Mutex
	active int
}

func newTrackingContext() *trackingContext {
	return &trackingContext{done: make(chan struct{})}
}

func (c *trackingContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c *trackingContext) Done() <-chan struct{}       { return c.done }
func (c *trackingContext) Value(any) any               { return nil }

func (c *trackingContext) Err() error {
	select {
	case <-c.done:
		return context.Canceled
	default:
		return nil
	}
}

func (c *trackingContext) AfterFunc(func()) func() bool {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()

	var once sync.Once
	return func() bool {
		stopped := false
		once.Do(func() {
			c.mu.Lock()
			c.active--
			c.mu.Unlock()
			stopped = true
		})
		return stopped
	}
}

func (c *trackingContext) children() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

var wednesday = time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func slotAt(d time.Time, hour int) engine.IntervalScheduleTimeSlot {
	start := d.Add(time.Duration(hour) * time.Hour)
	return engine.IntervalScheduleTimeSlot{Start: start, End: start.Add(30 * time.Minute)}
}

func startEngine(t *testing.T, opts engine.Options) *engine.Engine {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = MockClock{CurrentTime: wednesday}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TeacherID == "" {
		opts.TeacherID = "t-42"
	}

	e, err := engine.New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func nextEvent(t *testing.T, sub *engine.EventSubscription) engine.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func noEvent(t *testing.T, sub *engine.EventSubscription) {
	t.Helper()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func settledWith(e *engine.Engine, want engine.SlotsResult) func() bool {
	return func() bool {
		return assert.ObjectsAreEqual(want, e.FilteredTimeList().Value())
	}
}

func discarded(t *testing.T, e *engine.Engine) uint64 {
	st, err := e.Selection(context.Background())
	require.NoError(t, err)
	return st.Discarded
}

// -----------------------------------------------------------------------------
// Test Cases
// -----------------------------------------------------------------------------

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := engine.New(engine.Options{TeacherID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ErrFetcherMissing)

	_, err = engine.New(engine.Options{Fetcher: new(MockFetcher)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ErrTeacherMissing)
}

func TestEngine_InitialState(t *testing.T) {
	e := startEngine(t, engine.Options{Fetcher: new(MockFetcher)})

	assert.Equal(t, date(2024, 1, 8), e.WeekStart().Value())
	assert.Equal(t, date(2024, 1, 14), e.WeekEnd().Value())
	assert.Equal(t, "2024/01/08 - 01/14", e.WeekDateText().Value())
	assert.Len(t, e.DateTabs().Value(), 7)
	assert.False(t, e.PreviousAllowed().Value(), "the current week is the earliest reachable")
	assert.Equal(t,
		engine.SlotsResult(engine.Success[[]engine.IntervalScheduleTimeSlot]{Data: []engine.IntervalScheduleTimeSlot{}}),
		e.FilteredTimeList().Value())

	st, err := e.Selection(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st.ActiveDate)
	assert.Equal(t, engine.PhaseIdle, st.Phase)
}

func TestEngine_UpdateWeek_Next(t *testing.T) {
	e := startEngine(t, engine.Options{
		Fetcher: new(MockFetcher),
		Clock:   MockClock{CurrentTime: date(2024, 1, 3)},
	})
	require.Equal(t, date(2024, 1, 1), e.WeekStart().Value())

	require.NoError(t, e.UpdateWeek(context.Background(), engine.WeekNext))

	assert.Equal(t, date(2024, 1, 8), e.WeekStart().Value())
	assert.Equal(t, date(2024, 1, 8), e.DateTabs().Value()[0].Date)
	assert.True(t, e.PreviousAllowed().Value())
}

func TestEngine_UpdateWeek_PreviousBlockedBeforeCurrentWeek(t *testing.T) {
	e := startEngine(t, engine.Options{Fetcher: new(MockFetcher)})
	sub := e.Events().Subscribe()
	defer sub.Close()
	ctx := context.Background()

	require.False(t, e.PreviousAllowed().Value())

	err := e.UpdateWeek(ctx, engine.WeekPrevious)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPreviousWeekBlocked)
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.Equal(t, date(2024, 1, 8), e.WeekStart().Value(), "refused command leaves the window unchanged")
	assert.IsType(t, engine.ShowTransient{}, nextEvent(t, sub))

	require.NoError(t, e.UpdateWeek(ctx, engine.WeekNext))
	assert.Equal(t, date(2024, 1, 15), e.WeekStart().Value())
	assert.True(t, e.PreviousAllowed().Value())

	require.NoError(t, e.UpdateWeek(ctx, engine.WeekPrevious))
	assert.Equal(t, date(2024, 1, 8), e.WeekStart().Value())
	assert.False(t, e.PreviousAllowed().Value())

	require.ErrorIs(t, e.UpdateWeek(ctx, engine.WeekPrevious), engine.ErrPreviousWeekBlocked)
	assert.Equal(t, date(2024, 1, 8), e.WeekStart().Value(), "never before the week containing now")
}

func TestEngine_LatestSelectionWins(t *testing.T) {
	f := newGatedFetcher(t)
	e := startEngine(t, engine.Options{Fetcher: f})
	ctx := context.Background()
	d1, d2 := date(2024, 1, 9), date(2024, 1, 10)

	require.NoError(t, e.OnTabSelected(ctx, d1))
	assert.IsType(t, engine.Loading[[]engine.IntervalScheduleTimeSlot]{}, e.FilteredTimeList().Value())
	require.NoError(t, e.OnTabSelected(ctx, d2))

	f.release(d1, []engine.IntervalScheduleTimeSlot{slotAt(d1, 9)}, nil)
	require.Eventually(t, func() bool { return discarded(t, e) >= 1 }, time.Second, 5*time.Millisecond)
	assert.IsType(t, engine.Loading[[]engine.IntervalScheduleTimeSlot]{}, e.FilteredTimeList().Value())

	want := []engine.IntervalScheduleTimeSlot{slotAt(d2, 9), slotAt(d2, 10)}
	f.release(d2, want, nil)
	require.Eventually(t, settledWith(e, engine.Success[[]engine.IntervalScheduleTimeSlot]{Data: want}), time.Second, 5*time.Millisecond)

	st, err := e.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Generation)
	assert.Equal(t, engine.PhaseSettled, st.Phase)
	require.NotNil(t, st.ActiveDate)
	assert.Equal(t, d2, *st.ActiveDate)
}

func TestEngine_ReselectingSameDateRefetches(t *testing.T) {
	f := newGatedFetcher(t)
	e := startEngine(t, engine.Options{Fetcher: f})
	ctx := context.Background()
	d := date(2024, 1, 11)

	require.NoError(t, e.OnTabSelected(ctx, d))
	require.NoError(t, e.OnTabSelected(ctx, d))
	require.Eventually(t, func() bool { return f.callCount() == 2 }, time.Second, 5*time.Millisecond)

	f.release(d, []engine.IntervalScheduleTimeSlot{slotAt(d, 8)}, nil)
	f.release(d, []engine.IntervalScheduleTimeSlot{slotAt(d, 14)}, nil)

	require.Eventually(t, func() bool {
		st, err := e.Selection(ctx)
		return err == nil && st.Phase == engine.PhaseSettled
	}, time.Second, 5*time.Millisecond)

	st, err := e.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Generation)
}

func TestEngine_FetchFailure(t *testing.T) {
	m := new(MockFetcher)
	cause := errors.New("timeout")
	m.On("Fetch", mock.Anything, mock.MatchedBy(func(r engine.FetchRequest) bool {
		return r.TeacherID == "t-42" && r.Date.Equal(date(2024, 1, 12))
	})).Return(nil, cause).Once()

	e := startEngine(t, engine.Options{Fetcher: m})
	sub := e.Events().Subscribe()
	defer sub.Close()

	require.NoError(t, e.OnTabSelected(context.Background(), date(2024, 1, 12)))

	require.Eventually(t, func() bool {
		_, ok := e.FilteredTimeList().Value().(engine.Failure[[]engine.IntervalScheduleTimeSlot])
		return ok
	}, time.Second, 5*time.Millisecond)

	failure := e.FilteredTimeList().Value().(engine.Failure[[]engine.IntervalScheduleTimeSlot])
	assert.ErrorIs(t, failure.Cause, cause)
	var ferr *engine.FetchError
	require.ErrorAs(t, failure.Cause, &ferr)
	assert.Equal(t, uint64(1), ferr.Generation)

	ev := nextEvent(t, sub)
	msg, ok := ev.(engine.ShowMessage)
	require.True(t, ok, "got %#v", ev)
	assert.Equal(t, "Api Failed timeout", msg.Text)
	assert.Equal(t, config.MaxErrorMessageLines, msg.MaxLines)
	noEvent(t, sub)

	m.AssertExpectations(t)
}

func TestEngine_FetchFailureMessageIsTruncated(t *testing.T) {
	m := new(MockFetcher)
	m.On("Fetch", mock.Anything, mock.Anything).
		Return(nil, errors.New("line1\nline2\nline3\nline4\nline5\nline6"))

	e := startEngine(t, engine.Options{Fetcher: m})
	sub := e.Events().Subscribe()
	defer sub.Close()

	require.NoError(t, e.OnTabSelected(context.Background(), date(2024, 1, 8)))

	msg, ok := nextEvent(t, sub).(engine.ShowMessage)
	require.True(t, ok)
	assert.Len(t, strings.Split(msg.Text, "\n"), config.MaxErrorMessageLines)
	assert.True(t, strings.HasPrefix(msg.Text, "Api Failed line1"))
}

func TestEngine_SelectDateOutsideWeek(t *testing.T) {
	m := new(MockFetcher)
	e := startEngine(t, engine.Options{Fetcher: m})
	sub := e.Events().Subscribe()
	defer sub.Close()
	ctx := context.Background()

	before, err := e.Selection(ctx)
	require.NoError(t, err)
	list := e.FilteredTimeList().Value()

	err = e.OnTabSelected(ctx, date(2024, 1, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDateNotInWeek)

	after, err := e.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, list, e.FilteredTimeList().Value())

	ev, ok := nextEvent(t, sub).(engine.ShowTransient)
	require.True(t, ok)
	assert.Contains(t, ev.Text, "2024-01-20")
	m.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestEngine_WeekChangeDiscardsInFlightFetch(t *testing.T) {
	f := newGatedFetcher(t)
	e := startEngine(t, engine.Options{Fetcher: f})
	ctx := context.Background()
	d := date(2024, 1, 12)

	require.NoError(t, e.OnTabSelected(ctx, d))
	require.NoError(t, e.UpdateWeek(ctx, engine.WeekNext))

	empty := engine.Success[[]engine.IntervalScheduleTimeSlot]{Data: []engine.IntervalScheduleTimeSlot{}}
	assert.Equal(t, engine.SlotsResult(empty), e.FilteredTimeList().Value())

	f.release(d, []engine.IntervalScheduleTimeSlot{slotAt(d, 9)}, nil)
	require.Eventually(t, func() bool { return discarded(t, e) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, engine.SlotsResult(empty), e.FilteredTimeList().Value())

	st, err := e.Selection(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.ActiveDate)
	assert.Equal(t, 1, f.callCount(), "week navigation never fetches")
}

func TestEngine_FetchTimeout(t *testing.T) {
	f := newGatedFetcher(t)
	e := startEngine(t, engine.Options{Fetcher: f, FetchTimeout: 20 * time.Millisecond})

	require.NoError(t, e.OnTabSelected(context.Background(), date(2024, 1, 10)))

	require.Eventually(t, func() bool {
		res, ok := e.FilteredTimeList().Value().(engine.Failure[[]engine.IntervalScheduleTimeSlot])
		return ok && errors.Is(res.Cause, context.DeadlineExceeded)
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_NavigateAndAnnounce(t *testing.T) {
	e := startEngine(t, engine.Options{Fetcher: new(MockFetcher), TeacherName: "Ada"})
	sub := e.Events().Subscribe()
	defer sub.Close()
	ctx := context.Background()

	slot := slotAt(date(2024, 1, 10), 9)
	require.NoError(t, e.NavigateToDetail(ctx, slot))
	assert.Equal(t, engine.Navigate{Slot: slot}, nextEvent(t, sub))

	require.NoError(t, e.Announce(ctx))
	assert.Equal(t, engine.ShowMessage{Text: "Inquiring Ada's calendar", MaxLines: config.DefaultMessageLines}, nextEvent(t, sub))
}

func TestEngine_EventsWithoutSubscriberAreDropped(t *testing.T) {
	e := startEngine(t, engine.Options{Fetcher: new(MockFetcher)})
	ctx := context.Background()

	require.NoError(t, e.Announce(ctx))

	sub := e.Events().Subscribe()
	defer sub.Close()
	noEvent(t, sub)
}

func TestEngine_RefreshReevaluatesBoundary(t *testing.T) {
	clock := &movingClock{now: wednesday}
	e := startEngine(t, engine.Options{Fetcher: new(MockFetcher), Clock: clock})
	ctx := context.Background()
	require.NoError(t, e.UpdateWeek(ctx, engine.WeekNext))
	require.True(t, e.PreviousAllowed().Value())

	clock.Set(date(2024, 1, 16))
	require.NoError(t, e.Refresh(ctx))

	assert.False(t, e.PreviousAllowed().Value())
	assert.Equal(t, date(2024, 1, 15), e.WeekStart().Value(), "refresh does not move the window")
}

func TestEngine_StateSubscriptionReplaysAndReleases(t *testing.T) {
	e := startEngine(t, engine.Options{Fetcher: new(MockFetcher)})
	sub := e.WeekStart().Subscribe()

	select {
	case v := <-sub.C():
		assert.Equal(t, date(2024, 1, 8), v)
	case <-time.After(time.Second):
		t.Fatal("no replay")
	}

	sub.Close()
	require.NoError(t, e.UpdateWeek(context.Background(), engine.WeekNext))
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestEngine_Stopped(t *testing.T) {
	e, err := engine.New(engine.Options{Fetcher: new(MockFetcher), TeacherID: "t", Clock: MockClock{CurrentTime: wednesday}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.Refresh(context.Background()))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.ErrorIs(t, e.UpdateWeek(context.Background(), engine.WeekNext), engine.ErrEngineStopped)
	assert.ErrorIs(t, e.Run(context.Background()), engine.ErrEngineStopped)

	sub := e.Events().Subscribe()
	_, ok := <-sub.C()
	assert.False(t, ok)
}

// Every fetch context is released once its fetch settles, so a long-running
// engine does not accumulate children on its run context.
func TestEngine_FetchContextsAreReleased(t *testing.T) {
	for _, timeout := range []time.Duration{0, -1} {
		f := new(MockFetcher)
		f.On("Fetch", mock.Anything, mock.Anything).Return([]engine.IntervalScheduleTimeSlot{}, nil)

		e, err := engine.New(engine.Options{
			Fetcher:      f,
			TeacherID:    "t-42",
			Clock:        MockClock{CurrentTime: wednesday},
			Location:     time.UTC,
			FetchTimeout: timeout,
		})
		require.NoError(t, err)

		runCtx := newTrackingContext()
		done := make(chan error, 1)
		go func() { done <- e.Run(runCtx) }()

		ctx := context.Background()
		for i := 0; i < 200; i++ {
			d := date(2024, 1, 8+i%7)
			require.NoError(t, e.OnTabSelected(ctx, d))
			require.Eventually(t, func() bool {
				st, err := e.Selection(ctx)
				return err == nil && st.Phase == engine.PhaseSettled
			}, time.Second, time.Millisecond)
		}

		require.Eventually(t, func() bool { return runCtx.children() == 0 },
			time.Second, 5*time.Millisecond, "fetch contexts still attached to the run context")

		close(runCtx.done)
		<-done
	}
}

func TestEngine_ViewIsConsistent(t *testing.T) {
	f := newGatedFetcher(t)
	e := startEngine(t, engine.Options{Fetcher: f})
	ctx := context.Background()

	require.NoError(t, e.UpdateWeek(ctx, engine.WeekNext))
	d := date(2024, 1, 17)
	require.NoError(t, e.OnTabSelected(ctx, d))

	v, err := e.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 15), v.Window.Start)
	assert.Equal(t, date(2024, 1, 21), v.Window.End)
	assert.Equal(t, "2024/01/15 - 01/21", v.WeekDateText)
	require.Len(t, v.Tabs, 7)
	assert.Equal(t, v.Window.Start, v.Tabs[0].Date)
	assert.True(t, v.PreviousAllowed)
	assert.IsType(t, engine.Loading[[]engine.IntervalScheduleTimeSlot]{}, v.Slots)

	f.release(d, []engine.IntervalScheduleTimeSlot{slotAt(d, 9)}, nil)
	require.Eventually(t, func() bool {
		v, err := e.View(ctx)
		return err == nil && assert.ObjectsAreEqual(
			engine.SlotsResult(engine.Success[[]engine.IntervalScheduleTimeSlot]{Data: []engine.IntervalScheduleTimeSlot{slotAt(d, 9)}}),
			v.Slots)
	}, time.Second, 5*time.Millisecond)
}
