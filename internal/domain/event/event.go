package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification emitted by the approval core.
// Subscribers log, count or forward it; the core never waits on delivery.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	RequestID     int64                  `json:"request_id,omitempty"`
	TaskID        int64                  `json:"task_id,omitempty"`
	DelegationID  int64                  `json:"delegation_id,omitempty"`
	ActorID       string                 `json:"actor_id,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates an event with a fresh id and correlation id
func NewEvent(eventType Type, actorID string, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		ActorID:       actorID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: id,
	}
}

// ForRequest sets the request the event refers to
func (e *Event) ForRequest(requestID int64) *Event {
	e.RequestID = requestID
	return e
}

// ForTask sets the task the event refers to
func (e *Event) ForTask(taskID int64) *Event {
	e.TaskID = taskID
	return e
}

// ForDelegation sets the delegation the event refers to
func (e *Event) ForDelegation(delegationID int64) *Event {
	e.DelegationID = delegationID
	return e
}

// Correlate links the event to an existing correlation chain
func (e *Event) Correlate(correlationID string) *Event {
	if correlationID != "" {
		e.CorrelationID = correlationID
	}
	return e
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	copied := *e
	copied.Payload = payload
	return &copied
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
