package entity

// ApprovalType governs the completion policy of a request
type ApprovalType string

const (
	ApprovalTypeSequential ApprovalType = "sequential"
	ApprovalTypeParallel   ApprovalType = "parallel"
)

// IsValid reports whether t is a known approval type
func (t ApprovalType) IsValid() bool {
	return t == ApprovalTypeSequential || t == ApprovalTypeParallel
}

// RequestStatus is the aggregate status of an ApprovalRequest
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusEscalated RequestStatus = "escalated"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s RequestStatus) IsTerminal() bool {
	return s != RequestStatusPending
}

// TaskStatus is the status of a single approver's task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusApproved  TaskStatus = "approved"
	TaskStatusRejected  TaskStatus = "rejected"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the task has left pending
func (s TaskStatus) IsTerminal() bool {
	return s != TaskStatusPending
}

// DelegationStatus is the lifecycle status of a Delegation
type DelegationStatus string

const (
	DelegationStatusActive  DelegationStatus = "active"
	DelegationStatusRevoked DelegationStatus = "revoked"
	DelegationStatusExpired DelegationStatus = "expired"
)

// Priority is informational ordering for approvers' queues
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}
