package events

import (
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultDispatchBudget is how long Publish waits for room in a full
	// subscriber queue before dropping the event for that subscriber.
	DefaultDispatchBudget = 5 * time.Millisecond

	// DefaultQueueSize is the per-subscriber queue capacity.
	DefaultQueueSize = 256
)

// ErrBusClosed is returned when subscribing to or publishing on a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// Handler receives events. A returned error or a panic is logged and
// never reaches the publisher or other subscribers.
type Handler func(Event) error

// SubscriptionID identifies a registration. IDs grow monotonically, so they
// also encode registration order.
type SubscriptionID uint64

type subscriber struct {
	id      SubscriptionID
	name    string
	typ     Type
	all     bool
	handler Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once

	// drain is set before done is closed when queued events should still be delivered.
	drain bool
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Bus is an in-process publish/subscribe hub keyed by event type.
//
// Each subscriber owns a queue and a goroutine, so handlers never run on the
// publisher's goroutine. Events from one publisher reach each subscriber in
// the order they were published. Publish enqueues in registration order and
// waits at most the dispatch budget per full queue.
type Bus struct {
	mu       sync.RWMutex
	typed    map[Type][]*subscriber
	wildcard []*subscriber
	byID     map[SubscriptionID]*subscriber
	closed   bool

	nextID    atomic.Uint64
	dropped   atomic.Uint64
	budget    time.Duration
	queueSize int
	wg        sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithDispatchBudget overrides DefaultDispatchBudget.
func WithDispatchBudget(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.budget = d
		}
	}
}

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		typed:     make(map[Type][]*subscriber),
		byID:      make(map[SubscriptionID]*subscriber),
		budget:    DefaultDispatchBudget,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one exact event type.
// The name is used only in log lines.
func (b *Bus) Subscribe(t Type, name string, h Handler) (SubscriptionID, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	return b.register(&subscriber{typ: t, name: name, handler: h})
}

// SubscribeAll registers a wildcard handler that receives every event,
// including TypeAny mirrors.
func (b *Bus) SubscribeAll(name string, h Handler) (SubscriptionID, error) {
	return b.register(&subscriber{all: true, name: name, handler: h})
}

func (b *Bus) register(s *subscriber) (SubscriptionID, error) {
	if s.handler == nil {
		return 0, fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBusClosed
	}

	s.id = SubscriptionID(b.nextID.Add(1))
	s.queue = make(chan Event, b.queueSize)
	s.done = make(chan struct{})

	if s.all {
		b.wildcard = append(b.wildcard, s)
	} else {
		b.typed[s.typ] = append(b.typed[s.typ], s)
	}
	b.byID[s.id] = s

	b.wg.Add(1)
	go b.run(s)

	return s.id, nil
}

// Unsubscribe removes a registration. Events still queued for it are discarded.
// Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	s, ok := b.byID[id]
	if ok {
		delete(b.byID, id)
		if s.all {
			b.wildcard = without(b.wildcard, s)
		} else {
			b.typed[s.typ] = without(b.typed[s.typ], s)
		}
	}
	b.mu.Unlock()

	if ok {
		s.stop()
	}
}

func without(list []*subscriber, s *subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(list))
	for _, other := range list {
		if other != s {
			out = append(out, other)
		}
	}
	return out
}

// Publish builds an event and dispatches it. See PublishEvent.
func (b *Bus) Publish(t Type, data map[string]any, source string) (Event, error) {
	if err := t.Validate(); err != nil {
		return Event{}, err
	}
	evt := New(t, data, source)
	return evt, b.PublishEvent(evt)
}

// PublishEvent dispatches an already-built event to every subscriber of its
// exact type plus every wildcard subscriber, in registration order.
func (b *Bus) PublishEvent(evt Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := merge(b.typed[evt.Type], b.wildcard)
	b.mu.RUnlock()

	for _, s := range targets {
		b.enqueue(s, evt)
	}
	return nil
}

// merge interleaves two id-sorted lists into one id-sorted list.
func merge(a, c []*subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(a)+len(c))
	i, j := 0, 0
	for i < len(a) && j < len(c) {
		if a[i].id < c[j].id {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, c[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, c[j:]...)
}

func (b *Bus) enqueue(s *subscriber, evt Event) {
	select {
	case s.queue <- evt:
		return
	case <-s.done:
		return
	default:
	}

	timer := time.NewTimer(b.budget)
	defer timer.Stop()

	select {
	case s.queue <- evt:
	case <-s.done:
	case <-timer.C:
		b.dropped.Add(1)
		log.Printf("[WARN] [EventBus] Dropped %s event %s for slow subscriber %q", evt.Type, evt.ID, s.name)
	}
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-s.done:
			if s.drain {
				b.drain(s)
			}
			return
		case evt := <-s.queue:
			b.deliver(s, evt)
		}
	}
}

func (b *Bus) deliver(s *subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] [EventBus] Handler %q panicked on %s event: %v\n%s", s.name, evt.Type, r, debug.Stack())
		}
	}()

	if err := s.handler(evt); err != nil {
		log.Printf("[ERROR] [EventBus] Handler %q failed on %s event: %v", s.name, evt.Type, err)
	}
}

// SubscriberCount returns the number of live registrations.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Dropped returns how many deliveries were abandoned because a subscriber
// queue stayed full for longer than the dispatch budget.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, lets every subscriber drain what is already
// queued, and waits for the handler goroutines to exit. Safe to call twice.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.byID))
	for _, s := range b.byID {
		subs = append(subs, s)
	}
	b.byID = map[SubscriptionID]*subscriber{}
	b.typed = map[Type][]*subscriber{}
	b.wildcard = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.drain = true
		s.stop()
	}
	b.wg.Wait()
}

func (b *Bus) drain(s *subscriber) {
	for {
		select {
		case evt := <-s.queue:
			b.deliver(s, evt)
		default:
			return
		}
	}
}
