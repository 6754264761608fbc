package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fleetglue/automation/types"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Handler defines the interface for handling domain events.
type Handler interface {
	Handle(ctx context.Context, event types.Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, event types.Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, event types.Event) error {
	return f(ctx, event)
}

// Bus delivers domain events from collaborators (model CRUD, device
// telemetry ingestion) to subscribers such as the workflow engine.
type Bus struct {
	handlers     map[types.EventType][]Handler
	catchAll     []Handler
	mu           sync.RWMutex
	eventCh      chan types.Event
	errHandler   func(event types.Event, err error)
	errHandlerMu sync.RWMutex
	wg           sync.WaitGroup
	closed       bool
	closeMu      sync.RWMutex
}

// BusOption defines functional options for configuring a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		b.eventCh = make(chan types.Event, size)
	}
}

// WithErrorHandler sets a custom error handler function.
func WithErrorHandler(handler func(event types.Event, err error)) BusOption {
	return func(b *Bus) {
		b.errHandlerMu.Lock()
		defer b.errHandlerMu.Unlock()
		b.errHandler = handler
	}
}

// NewBus creates a new Bus with async processing. The default buffer
// size is 100; use options to customize buffering or error handling.
func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		handlers:   make(map[types.EventType][]Handler),
		eventCh:    make(chan types.Event, 100), // Default buffer size
		errHandler: defaultErrorHandler,
	}

	for _, option := range options {
		option(b)
	}

	b.wg.Add(1)
	go b.processEvents()

	return b
}

// Subscribe subscribes a handler to one event type.
func (b *Bus) Subscribe(eventType types.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeFunc subscribes a function as a handler to one event type.
func (b *Bus) SubscribeFunc(eventType types.EventType, fn func(ctx context.Context, event types.Event) error) {
	b.Subscribe(eventType, HandlerFunc(fn))
}

// SubscribeAll subscribes a handler to every event type. The workflow
// engine uses this since trigger matching happens inside it.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catchAll = append(b.catchAll, handler)
}

// Unsubscribe removes a specific handler from an event type.
// Returns true if the handler was found and removed.
func (b *Bus) Unsubscribe(eventType types.EventType, handler Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, exists := b.handlers[eventType]
	if !exists {
		return false
	}

	for i, h := range handlers {
		if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) { // Compare pointer address
			handlers[i] = handlers[len(handlers)-1]
			b.handlers[eventType] = handlers[:len(handlers)-1]
			if len(b.handlers[eventType]) == 0 {
				delete(b.handlers, eventType)
			}
			return true
		}
	}
	return false
}

// HasSubscribers checks if any handler would receive the event type.
func (b *Bus) HasSubscribers(eventType types.EventType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.catchAll) > 0 {
		return true
	}
	handlers, exists := b.handlers[eventType]
	return exists && len(handlers) > 0
}

// Publish publishes an event asynchronously to all subscribed handlers.
// Returns an error if the context is canceled, the bus is closed, or
// the channel is full.
func (b *Bus) Publish(ctx context.Context, event types.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return ErrBusClosed
	}
	b.closeMu.RUnlock()

	if !b.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync publishes an event synchronously and returns all handler
// errors. Execution is subject to a 5-second timeout unless the context
// specifies otherwise.
func (b *Bus) PublishSync(ctx context.Context, event types.Event) []error {
	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return []error{ErrBusClosed}
	}
	b.closeMu.RUnlock()

	handlers := b.handlersFor(event.Type)
	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}

	// Apply a default timeout to prevent indefinite blocking
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return b.executeHandlers(timeoutCtx, handlers, event)
}

// Stop stops the event processing goroutine and waits for completion.
// Any unprocessed events are discarded to ensure a clean shutdown.
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		// Drain remaining events to prevent blocking
		for len(b.eventCh) > 0 {
			<-b.eventCh
		}
		close(b.eventCh)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

// handlersFor returns type-specific handlers plus catch-all handlers.
func (b *Bus) handlersFor(eventType types.EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, 0, len(b.handlers[eventType])+len(b.catchAll))
	handlers = append(handlers, b.handlers[eventType]...)
	handlers = append(handlers, b.catchAll...)
	return handlers
}

// processEvents handles events asynchronously in a separate goroutine.
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for event := range b.eventCh {
		handlers := b.handlersFor(event.Type)
		if len(handlers) == 0 {
			continue
		}

		errs := b.executeHandlers(context.Background(), handlers, event)

		b.errHandlerMu.RLock()
		handler := b.errHandler
		b.errHandlerMu.RUnlock()

		for _, err := range errs {
			handler(event, err)
		}
	}
}

// executeHandlers executes all handlers for an event and collects errors.
// Handlers are run concurrently, and the function waits for all to complete.
func (b *Bus) executeHandlers(ctx context.Context, handlers []Handler, event types.Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	return errs
}

// defaultErrorHandler logs errors with stack traces for debugging.
func defaultErrorHandler(event types.Event, err error) {
	fmt.Printf("Error handling event %s (tenant %s): %v\nStack: %s\n",
		event.Type, event.TenantID, err, debug.Stack())
}
