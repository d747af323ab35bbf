package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// subscription pairs a handler with the token Unsubscribe uses to find it.
type subscription struct {
	id      int
	handler Handler
}

// Bus is an in-process publish/subscribe bus with a single drain worker.
// One goroutine dequeues events in FIFO order and invokes the handlers
// for each event sequentially, in registration order. That gives
// per-kind ordering and per-event atomicity across handlers without the
// handlers taking locks of their own.
//
// Put never blocks; the queue is unbounded and is lost on shutdown.
// Durability comes from the persistence handlers, not from the bus.
type Bus struct {
	log zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Event
	handlers map[EventType][]subscription
	nextID   int
	running  bool
	done     chan struct{}
}

// NewBus creates a new event bus. Startup must be called before events
// are drained; Put and Subscribe are usable immediately.
func NewBus(log zerolog.Logger) *Bus {
	b := &Bus{
		log:      log.With().Str("component", "event_bus").Logger(),
		handlers: make(map[EventType][]subscription),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Subscribe appends a handler to the list for eventType and returns a
// token that Unsubscribe accepts. Handlers for one event run in the
// order they were subscribed.
func (b *Bus) Subscribe(eventType EventType, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes the subscription identified by id. It reports
// whether a subscription was removed; unsubscribing twice is a no-op.
func (b *Bus) Unsubscribe(eventType EventType, id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			if len(b.handlers[eventType]) == 0 {
				delete(b.handlers, eventType)
			}
			return true
		}
	}
	return false
}

// Put enqueues an event onto the FIFO. It never blocks. Events put
// before Startup are held and drained once the worker starts.
func (b *Bus) Put(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.queue = append(b.queue, event)
	b.mu.Unlock()
	b.cond.Signal()
}

// Emit constructs an event from typed data and puts it on the queue.
// Module names the emitting component, for the event log.
func (b *Bus) Emit(eventType EventType, module string, data EventData) {
	b.Put(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	})
}

// Startup launches the drain worker. Calling it twice is a no-op.
func (b *Bus) Startup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	b.running = true
	b.done = make(chan struct{})
	go b.drain()
	b.log.Debug().Msg("Event bus started")
}

// Shutdown stops the drain worker after the event currently being
// dispatched, if any, finishes. Events still queued are dropped.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	done := b.done
	b.mu.Unlock()
	b.cond.Broadcast()

	<-done
	b.log.Debug().Msg("Event bus stopped")
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && b.running {
			b.cond.Wait()
		}
		if !b.running {
			dropped := len(b.queue)
			b.queue = nil
			done := b.done
			b.mu.Unlock()
			if dropped > 0 {
				b.log.Warn().Int("dropped", dropped).Msg("Event queue discarded on shutdown")
			}
			close(done)
			return
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		subs := append([]subscription(nil), b.handlers[event.Type]...)
		b.mu.Unlock()

		b.dispatch(event, subs)
	}
}

// dispatch invokes every handler for one event on the worker goroutine.
// A handler error is logged and the remaining handlers still run.
func (b *Bus) dispatch(event *Event, subs []subscription) {
	b.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", event.Module).
		Msg("Dispatching event")

	for _, sub := range subs {
		if err := sub.handler(event); err != nil {
			b.log.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Str("module", event.Module).
				Msg("Event handler failed")
		}
	}
}
