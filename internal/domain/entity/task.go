package entity

import "time"

// ApprovalTask is one approver's step within an ApprovalRequest.
// SequenceOrder is the approver's position in the list given at creation.
type ApprovalTask struct {
	ID            int64      `json:"id" db:"id"`
	RequestID     int64      `json:"request_id" db:"request_id"`
	ApproverID    int64      `json:"approver_id" db:"approver_id"`
	SequenceOrder int        `json:"sequence_order" db:"sequence_order"`
	Status        TaskStatus `json:"status" db:"status"`
	Comments      string     `json:"comments,omitempty" db:"comments"`
	DecidedAt     *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// IsPending reports whether the task still awaits a decision
func (t *ApprovalTask) IsPending() bool {
	return t.Status == TaskStatusPending
}

// TaskCounts aggregates task statuses for one request
type TaskCounts struct {
	Total     int `db:"total"`
	Pending   int `db:"pending"`
	Approved  int `db:"approved"`
	Rejected  int `db:"rejected"`
	Cancelled int `db:"cancelled"`
}

// DelegatedTask is a delegator's pending task surfaced to a delegate
type DelegatedTask struct {
	ApprovalTask
	DelegationID int64 `json:"delegation_id"`
	DelegatorID  int64 `json:"delegator_id"`
}
