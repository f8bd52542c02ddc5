package events

import (
	"log"
	"os"
	"sync"
)

// Handler receives events for the types it subscribed to. Handlers run
// synchronously on the emitter's goroutine and must not block for long.
type Handler func(Event)

// Bus is a synchronous typed pub/sub hub.
//
// Emit fans out to a point-in-time snapshot of the subscribers registered
// for the event's type, so a handler that subscribes or unsubscribes during
// emission never causes another handler to be skipped or invoked twice.
// A panicking handler is recovered and logged; it never aborts delivery to
// the remaining handlers and never reaches the emitter's caller.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type]map[uint64]Handler
	nextID uint64
	logger *log.Logger
}

// NewBus creates an event bus. If logger is nil, a default logger writing
// to stderr with an "[events] " prefix is used.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Bus{
		subs:   make(map[Type]map[uint64]Handler),
		logger: logger,
	}
}

// Subscribe registers handler for events of type t and returns the
// unsubscribe func. The subscriber that registered a handler is
// responsible for calling it; unsubscribing twice is harmless.
func (b *Bus) Subscribe(t Type, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	if b.subs[t] == nil {
		b.subs[t] = make(map[uint64]Handler)
	}
	b.subs[t][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[t], id)
	}
}

// SubscribeMultiple registers handler for every type in types and returns
// a single unsubscribe func covering all of them.
func (b *Bus) SubscribeMultiple(types []Type, handler Handler) func() {
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, b.Subscribe(t, handler))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Emit delivers ev to every handler subscribed to its type.
//
// Delivery is synchronous and best-effort: the subscriber list is
// snapshotted before the first handler runs, and each handler executes
// under a recover so one bad subscriber cannot starve the others.
func (b *Bus) Emit(ev Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.EventType()]))
	for _, h := range b.subs[ev.EventType()] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, ev)
	}
}

// invoke runs one handler, containing any panic it raises.
func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("subscriber panic on %s: %v", ev.EventType(), r)
		}
	}()
	h(ev)
}

// SubscriberCount returns the number of handlers registered for t.
func (b *Bus) SubscriberCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}
