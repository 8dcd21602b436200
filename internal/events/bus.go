package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus implements an asynchronous publish-subscribe event system
// connecting lobby sessions to telemetry, the admin CLI, and shutdown
// handling.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates a new Bus instance.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name parameter is used for logging.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, exists := b.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// Emit publishes an event to all subscribed handlers asynchronously.
// Each handler runs in its own goroutine so a slow subscriber never
// blocks a session.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	handlers := b.handlers[event.Type]
	if len(handlers) == 0 {
		return
	}

	for _, h := range handlers {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event", string(event.Type)).
						Str("handler", h.name).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()

			if err := h.handler(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event", string(event.Type)).
					Str("handler", h.name).
					Msg("handler returned error")
			}
		}()
	}
}

// Stop signals the Bus to stop accepting new events and waits for all
// in-flight handlers to complete.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event
// type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
