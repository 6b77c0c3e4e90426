package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tartampluch/go-schedule/internal/config"
)

// Event is a one-shot side effect for the UI layer.
// Navigate, ShowMessage and ShowTransient are the only implementations.
type Event interface {
	event()
}

// Navigate asks the UI to open the detail view of a slot.
type Navigate struct {
	Slot IntervalScheduleTimeSlot
}

// ShowMessage asks the UI to display a message of at most MaxLines lines.
type ShowMessage struct {
	Text     string
	MaxLines int
}

// ShowTransient asks the UI to display a short-lived notice.
type ShowTransient struct {
	Text string
}

func (Navigate) event()      {}
func (ShowMessage) event()   {}
func (ShowTransient) event() {}

// eventName returns a stable name for logs.
func eventName(ev Event) string {
	switch ev.(type) {
	case Navigate:
		return "navigate"
	case ShowMessage:
		return "show_message"
	case ShowTransient:
		return "show_transient"
	default:
		return fmt.Sprintf("%T", ev)
	}
}

// EventChannel delivers events to the single active subscriber.
// Events emitted while nobody is subscribed are dropped, and a new subscriber
// never sees events emitted before it subscribed.
type EventChannel struct {
	mu     sync.Mutex
	active *EventSubscription
	closed bool
	log    *slog.Logger
}

// EventSubscription is the receiving end of an EventChannel.
type EventSubscription struct {
	id    string
	ch    chan Event
	owner *EventChannel
	once  sync.Once
}

// NewEventChannel creates an event channel logging through log.
func NewEventChannel(log *slog.Logger) *EventChannel {
	if log == nil {
		log = slog.Default()
	}
	return &EventChannel{log: log.With(config.LogKeyComponent, config.CompEvents)}
}

// Subscribe attaches a new subscriber. A previous subscriber is detached.
func (c *EventChannel) Subscribe() *EventSubscription {
	s := &EventSubscription{
		id:    uuid.NewString(),
		ch:    make(chan Event, config.EventBufferSize),
		owner: c,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.shut()
		return s
	}
	if c.active != nil {
		c.active.shut()
	}
	c.active = s
	return s
}

// Emit offers ev to the active subscriber without blocking.
// It reports whether the event was queued for delivery.
func (c *EventChannel) Emit(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.closed {
		c.log.Debug(config.MsgEventDropped, config.LogKeyEvent, eventName(ev))
		return false
	}

	select {
	case c.active.ch <- ev:
		return true
	default:
		c.log.Warn(config.MsgEventOverflow,
			config.LogKeyEvent, eventName(ev),
			config.LogKeySubscriber, c.active.id,
		)
		return false
	}
}

func (c *EventChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.active != nil {
		c.active.shut()
		c.active = nil
	}
}

// shut discards undelivered events and closes the channel.
func (s *EventSubscription) shut() {
	s.once.Do(func() {
		for {
			select {
			case <-s.ch:
				continue
			default:
			}
			break
		}
		close(s.ch)
	})
}

// ID identifies the subscription in logs.
func (s *EventSubscription) ID() string {
	return s.id
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *EventSubscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscriber; pending events are discarded.
func (s *EventSubscription) Close() {
	s.owner.mu.Lock()
	if s.owner.active == s {
		s.owner.active = nil
	}
	s.owner.mu.Unlock()
	s.shut()
}
