package dispatcher

import (
	"context"

	"github.com/garyjia/approval-coordinator/internal/domain/event"
)

// Handler processes one lifecycle event
type Handler func(ctx context.Context, evt *event.Event) error

// Subscriber is a named handler that receives every event type
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, evt *event.Event) error
}

type subscription struct {
	name    string
	handler Handler
}

type funcSubscriber struct {
	name string
	fn   Handler
}

func (f funcSubscriber) Name() string { return f.name }

func (f funcSubscriber) Handle(ctx context.Context, evt *event.Event) error { return f.fn(ctx, evt) }

// SubscriberFunc turns a plain function into a Subscriber
func SubscriberFunc(name string, fn Handler) Subscriber {
	return funcSubscriber{name: name, fn: fn}
}
