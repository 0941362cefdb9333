package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
)

// SystemActorID identifies sweeps and other unattended actions in the audit log
const SystemActorID int64 = 0

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Locker serializes work on one approval request
type Locker interface {
	WithLock(ctx context.Context, resourceID int64, holderID string, fn func(ctx context.Context) error) error
}

// holderID is the lock holder and event actor identity of an actor
func holderID(actorID int64) string {
	if actorID == SystemActorID {
		return "system"
	}
	return strconv.FormatInt(actorID, 10)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// emitter publishes events after the unit of work that produced them commits
type emitter struct {
	publisher port.EventPublisher
}

func (e emitter) emit(ctx context.Context, events ...*event.Event) {
	if e.publisher == nil {
		return
	}
	for _, evt := range events {
		if evt != nil {
			e.publisher.Publish(ctx, evt)
		}
	}
}

func nowUTC(clock func() time.Time) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock().UTC()
}
