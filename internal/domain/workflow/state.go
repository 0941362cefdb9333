package workflow

import "github.com/garyjia/approval-coordinator/internal/domain/entity"

// State is a lifecycle state of a request or a task
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Request lifecycle states
const (
	RequestPending   = State(entity.RequestStatusPending)
	RequestApproved  = State(entity.RequestStatusApproved)
	RequestRejected  = State(entity.RequestStatusRejected)
	RequestEscalated = State(entity.RequestStatusEscalated)
	RequestCancelled = State(entity.RequestStatusCancelled)
)

// Task lifecycle states
const (
	TaskPending   = State(entity.TaskStatusPending)
	TaskApproved  = State(entity.TaskStatusApproved)
	TaskRejected  = State(entity.TaskStatusRejected)
	TaskCancelled = State(entity.TaskStatusCancelled)
)
