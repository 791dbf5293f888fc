package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Channel delivers one category of events to its listeners. Listeners run
// synchronously on the publishing goroutine, in registration order.
type Channel[T Event] struct {
	mu        sync.RWMutex
	nextID    int
	listeners []listener[T]
	logger    *logrus.Logger
	tap       func(Event)
}

type listener[T Event] struct {
	id int
	fn func(T)
}

func newChannel[T Event](logger *logrus.Logger, tap func(Event)) *Channel[T] {
	return &Channel[T]{logger: logger, tap: tap}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (c *Channel[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener[T]{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to a snapshot of the current listeners. A panicking
// listener is logged and does not stop delivery to the others.
func (c *Channel[T]) Publish(e T) {
	c.mu.RLock()
	snapshot := make([]listener[T], len(c.listeners))
	copy(snapshot, c.listeners)
	c.mu.RUnlock()

	for _, l := range snapshot {
		c.deliver(l, e)
	}
	if c.tap != nil {
		c.tap(e)
	}
}

func (c *Channel[T]) deliver(l listener[T], e T) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"event": e.EventKind(),
				"panic": r,
			}).Error("Event listener panicked")
		}
	}()
	l.fn(e)
}

// Len returns the number of registered listeners.
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

// Bus groups the typed channels of one engine.
type Bus struct {
	Dashboards *Channel[DashboardEvent]
	Panels     *Channel[PanelEvent]
	Variables  *Channel[VariableEvent]
	Time       *Channel[TimeEvent]
	Refresh    *Channel[RefreshEvent]

	all *Channel[anyEvent]
}

// anyEvent wraps an Event so the catch-all channel can share Channel.
type anyEvent struct{ Event }

// NewBus creates a bus with empty channels.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	b := &Bus{all: newChannel[anyEvent](logger, nil)}
	tap := func(e Event) { b.all.Publish(anyEvent{e}) }

	b.Dashboards = newChannel[DashboardEvent](logger, tap)
	b.Panels = newChannel[PanelEvent](logger, tap)
	b.Variables = newChannel[VariableEvent](logger, tap)
	b.Time = newChannel[TimeEvent](logger, tap)
	b.Refresh = newChannel[RefreshEvent](logger, tap)
	return b
}

// SubscribeAll registers fn for every category, after the typed listeners of
// each event have run.
func (b *Bus) SubscribeAll(fn func(Event)) (unsubscribe func()) {
	return b.all.Subscribe(func(e anyEvent) { fn(e.Event) })
}
