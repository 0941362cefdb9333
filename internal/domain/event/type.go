package event

// Type identifies the type of lifecycle event
type Type string

const (
	TypeRequestCreated    Type = "request.created"
	TypeRequestApproved   Type = "request.approved"
	TypeRequestRejected   Type = "request.rejected"
	TypeRequestCancelled  Type = "request.cancelled"
	TypeRequestEscalated  Type = "request.escalated"
	TypeTaskApproved      Type = "task.approved"
	TypeTaskRejected      Type = "task.rejected"
	TypeTaskReassigned    Type = "task.reassigned"
	TypeDelegationCreated Type = "delegation.created"
	TypeDelegationRevoked Type = "delegation.revoked"
	TypeDelegationExpired Type = "delegation.expired"
	TypeLockAcquired      Type = "lock.acquired"
	TypeLockReleased      Type = "lock.released"
	TypeLockForceReleased Type = "lock.force_released"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestCreated,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeRequestCancelled,
		TypeRequestEscalated,
		TypeTaskApproved,
		TypeTaskRejected,
		TypeTaskReassigned,
		TypeDelegationCreated,
		TypeDelegationRevoked,
		TypeDelegationExpired,
		TypeLockAcquired,
		TypeLockReleased,
		TypeLockForceReleased:
		return true
	default:
		return false
	}
}

// Types lists every defined event type
func Types() []Type {
	return []Type{
		TypeRequestCreated,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeRequestCancelled,
		TypeRequestEscalated,
		TypeTaskApproved,
		TypeTaskRejected,
		TypeTaskReassigned,
		TypeDelegationCreated,
		TypeDelegationRevoked,
		TypeDelegationExpired,
		TypeLockAcquired,
		TypeLockReleased,
		TypeLockForceReleased,
	}
}
