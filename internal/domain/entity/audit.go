package entity

import "time"

// AuditRecord is one append-only entry in the approval audit log
type AuditRecord struct {
	ID         int64       `json:"id" db:"id"`
	RequestID  int64       `json:"request_id" db:"request_id"`
	TaskID     *int64      `json:"task_id,omitempty" db:"task_id"`
	ActorID    int64       `json:"actor_id" db:"actor_id"`
	Action     AuditAction `json:"action" db:"action"`
	FromStatus string      `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string      `json:"to_status,omitempty" db:"to_status"`
	Comments   string      `json:"comments,omitempty" db:"comments"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// AuditAction names what happened in an audit record
type AuditAction string

const (
	AuditActionCreate   AuditAction = "CREATE"
	AuditActionApprove  AuditAction = "APPROVE"
	AuditActionReject   AuditAction = "REJECT"
	AuditActionReassign AuditAction = "REASSIGN"
	AuditActionCancel   AuditAction = "CANCEL"
	AuditActionEscalate AuditAction = "ESCALATE"
	AuditActionComplete AuditAction = "COMPLETE"
)
