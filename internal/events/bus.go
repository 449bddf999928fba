package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe hub. Emitters never wait for
// subscribers; each handler runs on its own goroutine.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
	now      func() time.Time
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Subscribe registers a handler function for a specific event type.
// The name is used to unsubscribe and in logs.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeMany registers the same handler for several event types.
func (eb *EventBus) SubscribeMany(types []EventType, name string, handler HandlerFunc) {
	for _, t := range types {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered
}

// snapshot stamps the event and copies the handler list so handlers run
// without holding the lock.
func (eb *EventBus) snapshot(event *Event) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = eb.now()
	}

	handlers := eb.handlers[event.Type]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(handlers))
	copy(out, handlers)

	// Add under the read lock so Stop cannot start waiting in between.
	eb.wg.Add(len(out))
	return out
}

// Emit publishes an event to all subscribed handlers asynchronously.
// A nil bus is a no-op so optional wiring stays simple.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if eb == nil {
		return
	}
	handlers := eb.snapshot(&event)
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		go func(h handlerEntry) {
			defer eb.wg.Done()
			eb.invoke(ctx, h, event)
		}(h)
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if eb == nil {
		return nil
	}
	handlers := eb.snapshot(&event)
	if len(handlers) == 0 {
		return nil
	}

	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	for _, h := range handlers {
		wg.Add(1)
		go func(h handlerEntry) {
			defer wg.Done()
			defer eb.wg.Done()
			if err := eb.invoke(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(h)
	}

	wg.Wait()
	return firstErr
}

func (eb *EventBus) invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop stops accepting new events and waits for in-flight handlers.
// Calling it twice is safe.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
