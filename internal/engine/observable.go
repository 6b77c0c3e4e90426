package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/tartampluch/go-schedule/internal/config"
)

// Observable is a state stream that replays its latest value.
// A new subscriber immediately receives the current value; afterwards each
// subscriber sees the most recent value, intermediate values may be skipped.
// Publish never blocks.
type Observable[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[string]*Subscription[T]
	closed bool
}

// Subscription is a handle on an Observable. Release it with Close.
type Subscription[T any] struct {
	id    string
	ch    chan T
	owner *Observable[T]
	once  sync.Once
}

// NewObservable creates an observable holding initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{
		value: initial,
		subs:  make(map[string]*Subscription[T]),
	}
}

// Value returns the latest published value.
func (o *Observable[T]) Value() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Publish stores v and offers it to every subscriber, replacing any value
// a slow subscriber has not consumed yet.
func (o *Observable[T]) Publish(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.value = v
	for _, s := range o.subs {
		s.offer(v)
	}
}

// Subscribe registers a new subscriber. On a closed observable the returned
// subscription's channel is already closed.
func (o *Observable[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		id:    uuid.NewString(),
		ch:    make(chan T, config.ChannelBufferSize),
		owner: o,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	s.ch <- o.value
	o.subs[s.id] = s
	return s
}

// close detaches every subscriber and stops further publication.
func (o *Observable[T]) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for id, s := range o.subs {
		delete(o.subs, id)
		s.shut()
	}
}

// offer must be called with the owner's lock held; it is the only sender.
func (s *Subscription[T]) offer(v T) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

// shut drains and closes the channel so nothing is delivered after teardown.
func (s *Subscription[T]) shut() {
	s.once.Do(func() {
		select {
		case <-s.ch:
		default:
		}
		close(s.ch)
	})
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.owner.mu.Lock()
	delete(s.owner.subs, s.id)
	s.owner.mu.Unlock()
	s.shut()
}
