// Package dispatcher delivers lifecycle events emitted by the approval core
// to in-process subscribers such as metrics, logging and Redis forwarding.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
)

// Dispatcher fans lifecycle events out to subscribers
type Dispatcher interface {
	port.EventPublisher

	// Subscribe registers a named handler for one event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers sub for every event type, including types
	// added after registration
	SubscribeAll(sub Subscriber)

	// Unsubscribe removes every registration under name
	Unsubscribe(name string)

	// Dispatch delivers evt on the caller's goroutine. Typed handlers run
	// before catch-all subscribers, each group in registration order. All
	// handlers run; their errors are joined.
	Dispatch(ctx context.Context, evt *event.Event) error

	// Subscriptions lists the handler names evt of eventType would reach
	Subscriptions(eventType event.Type) []string

	// Close stops accepting events and waits for in-flight async deliveries
	Close() error
}

// Logger is the key/value logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type eventDispatcher struct {
	logger Logger
	async  bool

	mu       sync.RWMutex
	typed    map[event.Type][]subscription
	catchAll []subscription

	// closeMu orders inflight.Add before Close's Wait
	closeMu  sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets the dispatcher logger
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSyncPublish makes Publish deliver on the caller's goroutine
func WithSyncPublish() Option {
	return func(d *eventDispatcher) {
		d.async = false
	}
}

// NewDispatcher creates a dispatcher. Publish hands each event to its own
// goroutine unless WithSyncPublish is given; handlers for one event still
// run in order.
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		logger: nopLogger{},
		async:  true,
		typed:  make(map[event.Type][]subscription),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.typed[eventType] = append(d.typed[eventType], subscription{name: name, handler: handler})
	d.mu.Unlock()

	d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) SubscribeAll(sub Subscriber) {
	d.mu.Lock()
	d.catchAll = append(d.catchAll, subscription{name: sub.Name(), handler: sub.Handle})
	d.mu.Unlock()

	d.logger.Info("Subscriber registered", "handler_name", sub.Name())
}

func (d *eventDispatcher) Unsubscribe(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for t, subs := range d.typed {
		d.typed[t] = without(subs, name)
	}
	d.catchAll = without(d.catchAll, name)
}

func without(subs []subscription, name string) []subscription {
	kept := subs[:0:0]
	for _, s := range subs {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	return kept
}

// Publish implements port.EventPublisher. Delivery failures are logged and
// never reach the emitter. Async delivery is detached from the caller's
// cancellation since the emitting request usually ends first.
func (d *eventDispatcher) Publish(ctx context.Context, evt *event.Event) {
	if evt == nil {
		return
	}
	if !d.async {
		_ = d.Dispatch(ctx, evt)
		return
	}

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		d.logger.Error("Event dropped, dispatcher is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}

	d.inflight.Add(1)
	go func(ctx context.Context) {
		defer d.inflight.Done()
		_ = d.deliver(ctx, evt)
	}(context.WithoutCancel(ctx))
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.isClosed() {
		return fmt.Errorf("dispatcher is closed")
	}
	return d.deliver(ctx, evt)
}

func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event) error {
	var errs []error
	for _, s := range d.route(evt.Type) {
		if err := d.invoke(ctx, evt, s); err != nil {
			d.logger.Error("Handler failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", s.name,
				"error", err)
			errs = append(errs, fmt.Errorf("handler %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) Subscriptions(eventType event.Type) []string {
	subs := d.route(eventType)
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.name
	}
	return names
}

func (d *eventDispatcher) Close() error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.closeMu.Unlock()

	d.inflight.Wait()
	d.logger.Info("Dispatcher closed")
	return nil
}

func (d *eventDispatcher) isClosed() bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	return d.closed
}

// route snapshots the subscriptions for eventType
func (d *eventDispatcher) route(eventType event.Type) []subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()

	typed := d.typed[eventType]
	out := make([]subscription, 0, len(typed)+len(d.catchAll))
	out = append(out, typed...)
	return append(out, d.catchAll...)
}

func (d *eventDispatcher) invoke(ctx context.Context, evt *event.Event, s subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, evt)
}
