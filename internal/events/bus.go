package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is an asynchronous publish-subscribe hub. The relay publishes frame
// and session events; the capture store and telemetry subscribe.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]handlerEntry),
		logger:   log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers handler for eventType under name. Names identify
// handlers in logs and in Unsubscribe.
func (b *Bus) Subscribe(eventType Type, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{name: name, handler: handler})
	b.logger.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed to event")
}

// Unsubscribe removes a named handler from eventType.
func (b *Bus) Unsubscribe(eventType Type, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	filtered := handlers[:0:0]
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// snapshot returns the handlers for t, or nil once the bus is stopped.
func (b *Bus) snapshot(t Type) []handlerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return nil
	}
	return append([]handlerEntry(nil), b.handlers[t]...)
}

// Emit runs every handler for event in its own goroutine and returns
// immediately. Handler errors and panics are logged.
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

	b.logger.Trace().
		Str("event", string(event.Type)).
		Str("session", event.Session).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.run(ctx, h, event); err != nil {
				b.logger.Error().Err(err).
					Str("event", string(event.Type)).
					Str("handler", h.name).
					Msg("handler returned error")
			}
		}()
	}
}

// EmitSync runs every handler for event and waits for them. It returns the
// first handler error.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	handlers := b.snapshot(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		g.Go(func() error {
			return b.run(ctx, h, event)
		})
	}
	return g.Wait()
}

func (b *Bus) run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
	}()
	return h.handler(ctx, event)
}

// Stop rejects further events and waits for in-flight handlers.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for eventType.
func (b *Bus) HandlerCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
