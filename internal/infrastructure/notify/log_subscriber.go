// Package notify forwards approval lifecycle events out of the process.
package notify

import (
	"context"

	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"go.uber.org/zap"
)

// LogSubscriber writes every event to a zap logger
type LogSubscriber struct {
	logger *zap.Logger
}

// NewLogSubscriber creates a subscriber logging under the "events" name
func NewLogSubscriber(logger *zap.Logger) *LogSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSubscriber{logger: logger.Named("events")}
}

func (s *LogSubscriber) Name() string {
	return "log"
}

func (s *LogSubscriber) Handle(_ context.Context, evt *event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.String("correlation_id", evt.CorrelationID),
	}
	if evt.RequestID != 0 {
		fields = append(fields, zap.Int64("request_id", evt.RequestID))
	}
	if evt.TaskID != 0 {
		fields = append(fields, zap.Int64("task_id", evt.TaskID))
	}
	if evt.DelegationID != 0 {
		fields = append(fields, zap.Int64("delegation_id", evt.DelegationID))
	}
	if evt.ActorID != "" {
		fields = append(fields, zap.String("actor_id", evt.ActorID))
	}
	if len(evt.Payload) > 0 {
		fields = append(fields, zap.Any("payload", evt.Payload))
	}

	s.logger.Info("Lifecycle event", fields...)
	return nil
}
