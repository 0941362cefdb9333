package port

import (
	"context"

	"github.com/garyjia/approval-coordinator/internal/domain/event"
)

// Authorizer resolves approval capabilities
type Authorizer interface {
	// CanApprove reports whether userID may decide tasks of requestID
	CanApprove(ctx context.Context, userID, requestID int64) (bool, error)

	// ActsFor reports whether userID may decide on behalf of approverID,
	// either as an administrator or as an active delegate
	ActsFor(ctx context.Context, userID, approverID int64) (bool, error)

	// IsAdmin reports whether userID holds administrative privileges
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// BusinessRequestLookup is a read-only view of the requests being approved
type BusinessRequestLookup interface {
	BusinessRequestExists(ctx context.Context, id int64) (bool, error)
}

// UserDirectory is a read-only view of known actors
type UserDirectory interface {
	UserExists(ctx context.Context, id int64) (bool, error)
}

// EventPublisher receives lifecycle events. Publish must not block on delivery
// failures; the core only emits.
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event)
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish implements EventPublisher
func (NopPublisher) Publish(context.Context, *event.Event) {}
